package graphapi

import (
	"errors"
	"fmt"
)

// Conditioning input names on a sampler node.
const (
	ConditioningPositive = "positive"
	ConditioningNegative = "negative"
)

// Prompts holds the prompt text that fed the sampler of an output node.
// A nil slice means no prompt was found for that conditioning.
type Prompts struct {
	Positive []string `json:"positive,omitempty"`
	Negative []string `json:"negative,omitempty"`
}

// FindOutputs returns every node that persists a final image, in document order.
// It returns nil when the workflow has none. A nil roles uses DefaultRoles.
func (t *Workflow) FindOutputs(roles *Roles) []*Node {
	if roles == nil {
		roles = DefaultRoles()
	}
	var outputs []*Node
	for _, n := range t.Nodes {
		if n != nil && roles.Output.Contains(n.Type) {
			outputs = append(outputs, n)
		}
	}
	return outputs
}

// FindSampler walks the execution order backwards from node, one step at a time, until it
// reaches a sampler. The walk assumes every order below node.Order belongs to some node and
// gives up at the first gap, or when order 0 has been checked.
func (t *Workflow) FindSampler(node *Node, roles *Roles) *Node {
	if node == nil {
		return nil
	}
	if roles == nil {
		roles = DefaultRoles()
	}
	for order := node.Order - 1; order >= 0; order-- {
		next := t.GetNodeByOrder(order)
		if next == nil {
			return nil
		}
		if roles.Sampler.Contains(next.Type) {
			return next
		}
	}
	return nil
}

// FindPromptsForNode locates the sampler upstream of node and collects the text of the prompt
// encoders connected to its positive and negative inputs.
//
// It returns nil, nil when no sampler can be found. Broken references are reported as
// IntegrityErrors joined into the returned error; they only clear the conditioning they
// were met on, so the returned Prompts may still be partially filled.
func (t *Workflow) FindPromptsForNode(node *Node, roles *Roles) (*Prompts, error) {
	if node == nil || node.Order == 0 {
		return nil, nil
	}
	if roles == nil {
		roles = DefaultRoles()
	}

	sampler := t.FindSampler(node, roles)
	if sampler == nil {
		return nil, nil
	}

	prompts := &Prompts{}
	var errs []error
	for _, conditioning := range []string{ConditioningPositive, ConditioningNegative} {
		text, ok, err := t.promptFromConditioning(sampler, conditioning, roles)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		switch conditioning {
		case ConditioningPositive:
			prompts.Positive = append(prompts.Positive, text)
		case ConditioningNegative:
			prompts.Negative = append(prompts.Negative, text)
		}
	}
	return prompts, errors.Join(errs...)
}

// promptFromConditioning follows one conditioning input of the sampler back to its source.
// ok is false when the input is missing, unconnected, or not fed by an earlier prompt encoder.
func (t *Workflow) promptFromConditioning(sampler *Node, conditioning string, roles *Roles) (string, bool, error) {
	input := sampler.GetInputWithName(conditioning)
	if input == nil || input.Link == nil {
		return "", false, nil
	}

	violation := func(format string, args ...interface{}) error {
		return &IntegrityError{Role: conditioning, NodeID: sampler.ID, Reason: fmt.Sprintf(format, args...)}
	}

	link := t.GetLinkById(*input.Link)
	if link == nil {
		return "", false, violation("link %d does not exist", *input.Link)
	}
	source := t.GetNodeById(link.OriginID)
	if source == nil {
		return "", false, violation("link %d starts at missing node %d", link.ID, link.OriginID)
	}

	// only accept earlier nodes, which keeps back edges from being followed
	if source.Order >= sampler.Order || !roles.PromptEncoder.Contains(source.Type) {
		return "", false, nil
	}

	wv, ok := source.FirstWidgetValue()
	if !ok {
		return "", false, violation("prompt node %d has no widget values", source.ID)
	}
	text, ok := wv.AsString()
	if !ok {
		return "", false, violation("prompt node %d widget is a %s, not a string", source.ID, wv.Kind)
	}
	return text, true, nil
}
