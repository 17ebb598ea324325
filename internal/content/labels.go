package content

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidLabel is wrapped by every tag label validation error.
var ErrInvalidLabel = errors.New("invalid tag label")

// MaxTagLabelLength is the longest tag label accepted, in runes.
const MaxTagLabelLength = 20

// NormalizeLabel returns the canonical form of a tag label: NFC,
// trimmed, lowercased. Two labels that render identically therefore
// collapse onto one TAGGED edge.
func NormalizeLabel(label string) (string, error) {
	label = norm.NFC.String(strings.TrimSpace(label))
	label = strings.ToLower(label)
	if label == "" {
		return "", fmt.Errorf("%w: label is empty", ErrInvalidLabel)
	}
	if utf8.RuneCountInString(label) > MaxTagLabelLength {
		return "", fmt.Errorf("%w: label exceeds 20 characters", ErrInvalidLabel)
	}
	for _, r := range label {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: label contains whitespace", ErrInvalidLabel)
		}
	}
	return label, nil
}
