package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gillohner/pubky-nexus/internal/indexer"
)

// Load error codes.
const (
	ErrCodeReadError  = "READ_ERROR"
	ErrCodeParseError = "PARSE_ERROR"
	ErrCodeBadEvent   = "BAD_EVENT"
)

// LoadError reports a malformed event batch. Index is the position of the
// offending event, or -1 when the whole file is at fault.
type LoadError struct {
	Code    string
	Message string
	File    string
	Index   int
}

func (e *LoadError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s[%d]: %s: %s", e.File, e.Index, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
}

// eventBatch is the on-disk layout of an event file:
//
//	events:
//	  - op: PUT
//	    uri: pubky://alice/pub/pubky.app/posts/p1
//	    payload:
//	      content: hello
//	      kind: short
type eventBatch struct {
	Events []eventLine `yaml:"events"`
}

type eventLine struct {
	Op      string    `yaml:"op"`
	URI     string    `yaml:"uri"`
	Payload yaml.Node `yaml:"payload"`
}

// LoadEvents reads an event batch file. Payloads may be YAML mappings or
// JSON strings; both become JSON bytes.
func LoadEvents(path string) ([]indexer.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeReadError, Message: err.Error(), File: path, Index: -1}
	}
	return ParseEvents(path, data)
}

// ParseEvents decodes an event batch. name labels errors.
func ParseEvents(name string, data []byte) ([]indexer.Event, error) {
	var batch eventBatch
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, &LoadError{Code: ErrCodeParseError, Message: err.Error(), File: name, Index: -1}
	}

	events := make([]indexer.Event, 0, len(batch.Events))
	for i, line := range batch.Events {
		payload, err := payloadJSON(&line.Payload)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeBadEvent, Message: err.Error(), File: name, Index: i}
		}
		ev, err := indexer.EventFromURI(indexer.Op(line.Op), line.URI, payload)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeBadEvent, Message: err.Error(), File: name, Index: i}
		}
		events = append(events, ev)
	}
	return events, nil
}

func payloadJSON(node *yaml.Node) ([]byte, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		if node.Tag == "!!str" {
			if !json.Valid([]byte(node.Value)) {
				return nil, fmt.Errorf("payload string is not valid JSON")
			}
			return []byte(node.Value), nil
		}
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}
