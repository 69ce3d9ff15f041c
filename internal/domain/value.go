package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind discriminates the variants a provider value can take
type ValueKind uint8

const (
	KindNumber ValueKind = iota
	KindText
	KindObject
)

// String returns the kind label used in logs and events
func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the tagged variant carried by provider responses: a scalar number,
// a text answer, or a structured record. Consensus branches on the tag to
// decide numeric vs non-numeric handling.
type Value struct {
	kind ValueKind
	num  float64
	text string
	obj  map[string]interface{}
}

// NumberValue wraps a scalar
func NumberValue(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// TextValue wraps a plain-text answer
func TextValue(s string) Value {
	return Value{kind: KindText, text: s}
}

// ObjectValue wraps a structured record (e.g. a weather observation)
func ObjectValue(fields map[string]interface{}) Value {
	return Value{kind: KindObject, obj: fields}
}

// Kind returns the variant tag
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNumeric reports whether the value participates in numeric aggregation
func (v Value) IsNumeric() bool {
	return v.kind == KindNumber
}

// Number returns the scalar and whether the value holds one
func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Text returns the text payload and whether the value holds one
func (v Value) Text() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.text, true
}

// Object returns the structured payload and whether the value holds one
func (v Value) Object() (map[string]interface{}, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Interface returns the underlying value untyped, for metadata maps and logs
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindText:
		return v.text
	case KindObject:
		return v.obj
	default:
		return nil
	}
}

// Canonical returns a stable serialization used to group equal values during
// majority voting. Map keys are emitted in sorted order, so equal objects
// canonicalize identically regardless of construction order.
func (v Value) Canonical() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("!unserializable:%v", v.Interface())
	}
	return string(b)
}

// String renders a compact human-readable form for logs
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.text
	default:
		return v.Canonical()
	}
}

// MarshalJSON emits the bare underlying value
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindText:
		return json.Marshal(v.text)
	case KindObject:
		return json.Marshal(v.obj)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON sniffs the variant from the JSON shape. Booleans, arrays and
// nulls have no numeric or structured meaning here and are kept as raw text.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty value payload")
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]interface{}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return fmt.Errorf("failed to parse object value: %w", err)
		}
		*v = ObjectValue(obj)
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("failed to parse text value: %w", err)
		}
		*v = TextValue(s)
	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err == nil {
			*v = NumberValue(n)
			return nil
		}
		*v = TextValue(string(trimmed))
	}

	return nil
}
