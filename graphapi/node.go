package graphapi

import "encoding/json"

// Node represents an individual processing step within a Workflow
type Node struct {
	ID           int           `json:"id"`
	Type         string        `json:"type"`
	Position     TupleValues   `json:"pos"`
	Size         TupleValues   `json:"size"`
	Order        int           `json:"order"`
	Mode         int           `json:"mode"`
	Title        string        `json:"title"`
	Inputs       []Input       `json:"inputs"`
	Outputs      []Output      `json:"outputs"`
	WidgetValues []WidgetValue `json:"widgets_values"`
}

func (n *Node) UnmarshalJSON(b []byte) error {
	if err := requireFields("a node object", b, "id", "type", "pos", "size", "order", "mode"); err != nil {
		return err
	}
	// Create an alias type to avoid recursive call to UnmarshalJSON
	type Alias Node
	return json.Unmarshal(b, (*Alias)(n))
}

// GetInputWithName returns the first input slot called name, or nil.
func (n *Node) GetInputWithName(name string) *Input {
	for i, s := range n.Inputs {
		if s.Name == name {
			return &n.Inputs[i]
		}
	}
	return nil
}

// FirstWidgetValue returns the node's first widget value, if it has any.
func (n *Node) FirstWidgetValue() (WidgetValue, bool) {
	if len(n.WidgetValues) == 0 {
		return WidgetValue{}, false
	}
	return n.WidgetValues[0], true
}

// DisplayTitle returns the user assigned title, falling back to the node type.
func (n *Node) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	return n.Type
}
