// Package persistence defines the repository and credential collaborator
// contracts the engine depends on, plus standardized error types all
// implementations share.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence errors every implementation should return.
var (
	// ErrIntegrationNotFound indicates no integration exists for the slug.
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrActionNotFound indicates no action exists on the integration.
	ErrActionNotFound = errors.New("action not found")

	// ErrConnectionNotFound indicates no connection exists for the ID.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrCompositeToolNotFound indicates no composite tool exists for the slug.
	ErrCompositeToolNotFound = errors.New("composite tool not found")

	// ErrPipelineNotFound indicates no pipeline exists for the slug or ID.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrExecutionNotFound indicates no pipeline execution exists for the ID.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrCredentialNotFound indicates no active credential matched the ref.
	ErrCredentialNotFound = errors.New("credential not found")
)

// RepositoryError wraps persistence failures with operation context.
type RepositoryError struct {
	Op       string // Operation being performed (e.g. "IntegrationBySlug")
	TenantID string
	Key      string // Slug or ID being looked up
	Err      error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s failed for %q (tenant %s): %v", e.Op, e.Key, e.TenantID, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func (e *RepositoryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRepositoryError creates a repository error with context.
func NewRepositoryError(op, tenantID, key string, err error) *RepositoryError {
	return &RepositoryError{Op: op, TenantID: tenantID, Key: key, Err: err}
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIntegrationNotFound) ||
		errors.Is(err, ErrActionNotFound) ||
		errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrCompositeToolNotFound) ||
		errors.Is(err, ErrPipelineNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}

// IsCredentialNotFound reports whether err indicates a missing credential.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}
