package content

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/gillohner/pubky-nexus/internal/uri"
)

//go:embed schema.cue
var schemaCUE string

// definitions maps each resource kind to its schema definition.
var definitions = map[uri.Kind]string{
	uri.KindUser:     "#User",
	uri.KindPost:     "#Post",
	uri.KindEvent:    "#Event",
	uri.KindCalendar: "#Calendar",
	uri.KindAttendee: "#Attendee",
	uri.KindAlarm:    "#Alarm",
	uri.KindFile:     "#File",
	uri.KindTag:      "#Tag",
	uri.KindFollow:   "#Follow",
	uri.KindMute:     "#Mute",
	uri.KindBookmark: "#Bookmark",
}

// Validator checks raw payloads against the embedded CUE schema.
//
// A cue.Context is not safe for concurrent use, so Validate serializes
// callers on a mutex. Validation is CPU-only and short.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	for kind, def := range definitions {
		if v := schema.LookupPath(cue.ParsePath(def)); !v.Exists() {
			return nil, fmt.Errorf("payload schema has no definition %s for %s", def, kind)
		}
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// Validate checks payload (JSON) against the definition for kind.
// Returns a *ValidationError describing the first violation.
func (v *Validator) Validate(kind uri.Kind, payload []byte) error {
	def, ok := definitions[kind]
	if !ok {
		return &ValidationError{Kind: kind, Reason: "no schema for kind"}
	}

	expr, err := cuejson.Extract(string(kind)+".json", payload)
	if err != nil {
		return &ValidationError{Kind: kind, Reason: "payload is not valid JSON: " + err.Error()}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	data := v.ctx.BuildExpr(expr)
	if err := data.Err(); err != nil {
		return &ValidationError{Kind: kind, Reason: err.Error()}
	}
	unified := v.schema.LookupPath(cue.ParsePath(def)).Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Kind: kind, Reason: err.Error()}
	}
	return nil
}
