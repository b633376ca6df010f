package variables

import (
	"errors"
	"fmt"
	"strings"
)

// ErrVariableNotFound is returned by Store implementations when no variable
// exists under the requested key and scope.
var ErrVariableNotFound = errors.New("variable not found")

// ResolutionError reports unresolved required references.
type ResolutionError struct {
	Missing []Reference
}

func (e *ResolutionError) Error() string {
	paths := make([]string, 0, len(e.Missing))
	for _, ref := range e.Missing {
		paths = append(paths, ref.Expression)
	}

	return fmt.Sprintf("unresolved variables: %s", strings.Join(paths, ", "))
}

// MissingPaths returns the unresolved expressions, for error details.
func (e *ResolutionError) MissingPaths() []string {
	paths := make([]string, 0, len(e.Missing))
	for _, ref := range e.Missing {
		paths = append(paths, ref.Expression)
	}

	return paths
}

// IsResolutionError checks whether err carries unresolved references.
func IsResolutionError(err error) bool {
	var resErr *ResolutionError

	return errors.As(err, &resErr)
}
