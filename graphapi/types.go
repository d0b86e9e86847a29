package graphapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// TupleValues is a pair of numbers such as a node position (x, y) or size (width, height).
// ComfyUI sometimes stores these as an array of two numbers and sometimes as an object
// with "0" and "1" keys, so both are accepted.
type TupleValues [2]float64

func (p *TupleValues) UnmarshalJSON(b []byte) error {
	const expected = "a tuple or a map"

	switch firstByte(b) {
	case '[':
		var tmp []json.RawMessage
		if err := json.Unmarshal(b, &tmp); err != nil {
			return err
		}
		// anything past the second element is ignored
		for i := 0; i < 2; i++ {
			if i >= len(tmp) {
				return &ShapeError{Expected: expected, Detail: fmt.Sprintf("missing element %d", i)}
			}
			if err := decodeNonNull(tmp[i], &p[i]); err != nil {
				return &ShapeError{Expected: expected, Detail: fmt.Sprintf("element %d: %v", i, err)}
			}
		}
		return nil
	case '{':
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(b, &tmp); err != nil {
			return err
		}
		for i, key := range [2]string{"0", "1"} {
			raw, ok := tmp[key]
			if !ok {
				return &ShapeError{Expected: expected, Detail: fmt.Sprintf("missing field %q", key)}
			}
			if err := decodeNonNull(raw, &p[i]); err != nil {
				return &ShapeError{Expected: expected, Detail: fmt.Sprintf("field %q: %v", key, err)}
			}
		}
		return nil
	}
	return &ShapeError{Expected: expected, Detail: fmt.Sprintf("got %s", tokenKind(b))}
}

func (p TupleValues) X() float64      { return p[0] }
func (p TupleValues) Y() float64      { return p[1] }
func (p TupleValues) Width() float64  { return p[0] }
func (p TupleValues) Height() float64 { return p[1] }

// firstByte returns the first non-whitespace byte of a raw JSON token, or 0.
func firstByte(b []byte) byte {
	b = bytes.TrimLeft(b, " \t\r\n")
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func tokenKind(b []byte) string {
	switch c := firstByte(b); {
	case c == '"':
		return "string"
	case c == '[':
		return "array"
	case c == '{':
		return "object"
	case c == 't' || c == 'f':
		return "boolean"
	case c == 'n':
		return "null"
	case c == '-' || (c >= '0' && c <= '9'):
		return "number"
	}
	return "invalid token"
}

// decodeNonNull unmarshals raw into v, refusing a null literal that json.Unmarshal would skip.
func decodeNonNull(raw json.RawMessage, v interface{}) error {
	if firstByte(raw) == 'n' {
		return errors.New("got null")
	}
	return json.Unmarshal(raw, v)
}

// requireFields checks that the object b has every one of names set to a non-null value.
func requireFields(expected string, b []byte, names ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return &ShapeError{Expected: expected, Detail: "got null"}
	}
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			return &ShapeError{Expected: expected, Detail: fmt.Sprintf("missing field %q", name)}
		}
		if firstByte(raw) == 'n' {
			return &ShapeError{Expected: expected, Detail: fmt.Sprintf("field %q is null", name)}
		}
	}
	return nil
}
