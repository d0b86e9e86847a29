package graphapi

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SlotType is the data type carried by an input or output slot.
// It is usually a type name such as "CONDITIONING", but trigger slots that carry
// no typed payload store an integer instead (observed: -1).
type SlotType struct {
	Name  string
	Int   int64
	IsInt bool
}

func (s *SlotType) UnmarshalJSON(b []byte) error {
	const expected = "a string or an integer"

	switch c := firstByte(b); {
	case c == '"':
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*s = SlotType{Name: name}
		return nil
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		v, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return &ShapeError{Expected: expected, Detail: fmt.Sprintf("%s is not an integer", n)}
		}
		*s = SlotType{Int: v, IsInt: true}
		return nil
	}
	return &ShapeError{Expected: expected, Detail: fmt.Sprintf("got %s", tokenKind(b))}
}

func (s SlotType) String() string {
	if s.IsInt {
		return strconv.FormatInt(s.Int, 10)
	}
	return s.Name
}

// Input is a named connection point on a node. Link is nil when nothing is connected.
type Input struct {
	Name string   `json:"name"`
	Type SlotType `json:"type"`
	Link *int     `json:"link"`
}

// Output is a named connection point on a node. One output may feed several inputs.
type Output struct {
	Name      string   `json:"name"`
	Type      SlotType `json:"type"`
	Links     []int    `json:"links"`
	SlotIndex *int     `json:"slot_index"`
}

func (s *Input) UnmarshalJSON(b []byte) error {
	if err := requireFields("an input slot", b, "name", "type"); err != nil {
		return err
	}
	type Alias Input
	return json.Unmarshal(b, (*Alias)(s))
}

func (s *Output) UnmarshalJSON(b []byte) error {
	if err := requireFields("an output slot", b, "name", "type"); err != nil {
		return err
	}
	type Alias Output
	return json.Unmarshal(b, (*Alias)(s))
}
