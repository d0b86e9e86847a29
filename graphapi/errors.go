package graphapi

import (
	"errors"
	"fmt"
)

// ErrStructuralIntegrity is matched by every IntegrityError.
var ErrStructuralIntegrity = errors.New("structural integrity violation")

// ShapeError reports a JSON value that matched none of the shapes accepted at its position.
type ShapeError struct {
	Expected string // e.g. "a tuple or a map"
	Detail   string
}

func (e *ShapeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("expected %s", e.Expected)
	}
	return fmt.Sprintf("expected %s: %s", e.Expected, e.Detail)
}

// DecodeError is returned when a workflow document cannot be decoded.
// No partial Workflow is produced alongside it.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decoding workflow: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IntegrityError describes a broken reference met while resolving one conditioning role.
type IntegrityError struct {
	Role   string
	NodeID int
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s input of node %d: %s", e.Role, e.NodeID, e.Reason)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrStructuralIntegrity
}
