package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Props holds node properties. Values are restricted to what both
// backends can store: string, int64, float64, bool and []string.
type Props map[string]any

// EncodeProps flattens a record into Props through its JSON form.
func EncodeProps(v any) (Props, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode props: %w", err)
	}
	return parseProps(data)
}

// DecodeProps fills out (a pointer to a record) from p.
func DecodeProps(p Props, out any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("decode props: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode props: %w", err)
	}
	return nil
}

// parseProps reads a JSON object into normalized Props.
func parseProps(data []byte) (Props, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse props: %w", err)
	}
	p := make(Props, len(raw))
	for k, v := range raw {
		nv, ok := normalizeValue(v)
		if !ok {
			return nil, fmt.Errorf("parse props: field %q has unsupported type %T", k, v)
		}
		if nv != nil {
			p[k] = nv
		}
	}
	return p, nil
}

// normalizeValue maps decoded values onto the storable set. nil values
// are dropped by the caller.
func normalizeValue(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case string, bool, int64, float64:
		return x, true
	case int:
		return int64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		return f, err == nil
	case []string:
		return x, true
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Int returns an integer property, or 0.
func (p Props) Int(name string) int64 {
	switch v := p[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// String returns a string property, or "".
func (p Props) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Strings returns a list property, or nil.
func (p Props) Strings(name string) []string {
	switch v := p[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// normalize converts values a driver may return ([]any lists, int) into
// the storable set.
func (p Props) normalize() Props {
	out := make(Props, len(p))
	for k, v := range p {
		if nv, ok := normalizeValue(v); ok && nv != nil {
			out[k] = nv
		}
	}
	return out
}
