package graphapi

// RoleSet is a set of node type tags sharing one role in a workflow.
type RoleSet map[string]struct{}

func NewRoleSet(nodeTypes ...string) RoleSet {
	s := make(RoleSet, len(nodeTypes))
	for _, t := range nodeTypes {
		s[t] = struct{}{}
	}
	return s
}

func (s RoleSet) Contains(nodeType string) bool {
	_, ok := s[nodeType]
	return ok
}

// Roles tells the prompt lookup which node types persist images, which ones sample
// and which ones hold the prompt text.
type Roles struct {
	Output        RoleSet
	Sampler       RoleSet
	PromptEncoder RoleSet
}

func DefaultRoles() *Roles {
	return &Roles{
		Output:        NewRoleSet("SaveImage"),
		Sampler:       NewRoleSet("KSampler"),
		PromptEncoder: NewRoleSet("CLIPTextEncode"),
	}
}

// Extend returns a copy of r that also recognises the given node types.
func (r *Roles) Extend(output, sampler, promptEncoder []string) *Roles {
	return &Roles{
		Output:        union(r.Output, output),
		Sampler:       union(r.Sampler, sampler),
		PromptEncoder: union(r.PromptEncoder, promptEncoder),
	}
}

func union(s RoleSet, extra []string) RoleSet {
	retv := make(RoleSet, len(s)+len(extra))
	for t := range s {
		retv[t] = struct{}{}
	}
	for _, t := range extra {
		retv[t] = struct{}{}
	}
	return retv
}
