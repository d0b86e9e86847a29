package graphapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Workflow is the node graph ComfyUI embeds in the images it generates.
// The lookup tables are built on first use, so Nodes and Links must not change once
// the workflow has been queried. Queries may then run from several goroutines.
type Workflow struct {
	Nodes []*Node `json:"nodes"`
	Links []*Link `json:"links"`

	indexOnce    sync.Once
	nodesByID    map[int]*Node
	linksByID    map[int]*Link
	nodesByOrder map[int]*Node
}

func (t *Workflow) UnmarshalJSON(b []byte) error {
	if err := requireFields("a workflow object", b, "nodes", "links"); err != nil {
		return err
	}

	// Create an alias type to avoid recursive call to UnmarshalJSON
	type Alias struct {
		Nodes []*Node `json:"nodes"`
		Links []*Link `json:"links"`
	}

	alias := &Alias{}
	if err := json.Unmarshal(b, alias); err != nil {
		return err
	}
	// null entries never reach the element decoders
	for i, n := range alias.Nodes {
		if n == nil {
			return &ShapeError{Expected: "a node object", Detail: fmt.Sprintf("nodes[%d] is null", i)}
		}
	}
	for i, l := range alias.Links {
		if l == nil {
			return &ShapeError{Expected: "a link tuple or object", Detail: fmt.Sprintf("links[%d] is null", i)}
		}
	}

	*t = Workflow{Nodes: alias.Nodes, Links: alias.Links}
	t.indexes()
	return nil
}

func (t *Workflow) indexes() {
	t.indexOnce.Do(t.buildIndexes)
}

// buildIndexes populates the lookup tables. Identifiers are not unique by construction
// in the document, so the first occurrence in source order wins.
func (t *Workflow) buildIndexes() {
	t.nodesByID = make(map[int]*Node, len(t.Nodes))
	t.nodesByOrder = make(map[int]*Node, len(t.Nodes))
	t.linksByID = make(map[int]*Link, len(t.Links))

	for _, node := range t.Nodes {
		if node == nil {
			continue
		}
		if _, ok := t.nodesByID[node.ID]; ok {
			slog.Debug("duplicate node id in workflow", "id", node.ID)
		} else {
			t.nodesByID[node.ID] = node
		}
		if _, ok := t.nodesByOrder[node.Order]; !ok {
			t.nodesByOrder[node.Order] = node
		}
	}

	for _, link := range t.Links {
		if link == nil {
			continue
		}
		if _, ok := t.linksByID[link.ID]; !ok {
			t.linksByID[link.ID] = link
		}
	}
}

func (t *Workflow) GetNodeById(id int) *Node {
	t.indexes()
	val, ok := t.nodesByID[id]
	if ok {
		return val
	}
	return nil
}

func (t *Workflow) GetLinkById(id int) *Link {
	t.indexes()
	val, ok := t.linksByID[id]
	if ok {
		return val
	}
	return nil
}

// GetNodeByOrder returns the first node whose execution order is order.
func (t *Workflow) GetNodeByOrder(order int) *Node {
	t.indexes()
	val, ok := t.nodesByOrder[order]
	if ok {
		return val
	}
	return nil
}

// GetNodesWithType retrieves all nodes in the workflow that match a specified type.
func (t *Workflow) GetNodesWithType(nodeType string) []*Node {
	retv := make([]*Node, 0)
	for _, n := range t.Nodes {
		if n != nil && n.Type == nodeType {
			retv = append(retv, n)
		}
	}
	return retv
}

func NewWorkflowFromJsonReader(r io.Reader) (*Workflow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	workflow := &Workflow{}
	if err := json.Unmarshal(data, workflow); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return workflow, nil
}

func NewWorkflowFromJsonFile(path string) (*Workflow, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return NewWorkflowFromJsonReader(freader)
}

// NewWorkflowFromJsonString decodes a workflow document, e.g. the text of the
// "workflow" metadata chunk of a generated PNG.
func NewWorkflowFromJsonString(data string) (*Workflow, error) {
	return NewWorkflowFromJsonReader(strings.NewReader(data))
}
