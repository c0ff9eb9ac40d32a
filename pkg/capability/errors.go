package capability

import (
	"fmt"

	"github.com/pkg/errors"
)

// PermissionDeniedError identifies the skill and the capability it lacks.
// Raised before any side effect, in both execution modes.
type PermissionDeniedError struct {
	Skill      string
	Capability string
	Operation  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("skill %q denied %s: missing capability %q", e.Skill, e.Operation, e.Capability)
}

// IsPermissionDenied reports whether err is a permission denial.
func IsPermissionDenied(err error) bool {
	var denied *PermissionDeniedError
	return errors.As(err, &denied)
}

// ErrUnknownOperation is returned for operations outside the fixed surface.
var ErrUnknownOperation = errors.New("unknown capability operation")
