package graphapi

import (
	"encoding/json"
	"fmt"
)

// Link is a directed edge from an output slot of one node to an input slot of another.
type Link struct {
	ID         int
	OriginID   int
	OriginSlot int
	TargetID   int
	TargetSlot int
	Type       string
}

func (l *Link) UnmarshalJSON(b []byte) error {
	switch firstByte(b) {
	case '[':
		// links format:
		// 0. link ID
		// 1. source node ID
		// 2. source node's output slot index
		// 3. target node ID
		// 4. target node's input slot index
		// 5. data type of the link
		var tmp []json.RawMessage
		if err := json.Unmarshal(b, &tmp); err != nil {
			return err
		}
		if len(tmp) != 6 {
			return &ShapeError{Expected: "a link tuple of 6 fields", Detail: fmt.Sprintf("got %d fields", len(tmp))}
		}
		fields := []*int{&l.ID, &l.OriginID, &l.OriginSlot, &l.TargetID, &l.TargetSlot}
		for i, f := range fields {
			if err := decodeNonNull(tmp[i], f); err != nil {
				return &ShapeError{Expected: "an integer", Detail: fmt.Sprintf("link field %d: %v", i, err)}
			}
		}
		if err := decodeNonNull(tmp[5], &l.Type); err != nil {
			return &ShapeError{Expected: "a string", Detail: fmt.Sprintf("link field 5: %v", err)}
		}
		return nil
	case '{':
		// subgraph links are stored as objects
		if err := requireFields("a link object", b, "id", "origin_id", "origin_slot", "target_id", "target_slot", "type"); err != nil {
			return err
		}
		var obj struct {
			ID         int    `json:"id"`
			OriginID   int    `json:"origin_id"`
			OriginSlot int    `json:"origin_slot"`
			TargetID   int    `json:"target_id"`
			TargetSlot int    `json:"target_slot"`
			Type       string `json:"type"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*l = Link(obj)
		return nil
	}
	return &ShapeError{Expected: "a link tuple or object", Detail: fmt.Sprintf("got %s", tokenKind(b))}
}
