package models

import (
	"time"

	"github.com/google/uuid"
)

// UserContext identifies the end user on whose behalf a call runs.
type UserContext struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// ConnectionContext exposes the active connection to templates.
type ConnectionContext struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// RequestContext carries per-invocation identifiers for templates.
type RequestContext struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment,omitempty"`
}

// RuntimeContext is built fresh per invocation and backs the built-in
// template namespaces current_user.*, connection.* and request.*.
type RuntimeContext struct {
	CurrentUser *UserContext      `json:"current_user,omitempty"`
	Connection  ConnectionContext `json:"connection"`
	Request     RequestContext    `json:"request"`
}

// NewRuntimeContext fills request ID and timestamp when the caller did not
// supply them.
func NewRuntimeContext(environment string) *RuntimeContext {
	return &RuntimeContext{
		Request: RequestContext{
			ID:          "req-" + uuid.New().String(),
			Timestamp:   time.Now().UTC(),
			Environment: environment,
		},
	}
}

// Normalize backfills auto-generated request fields on a caller-supplied
// context.
func (rc *RuntimeContext) Normalize() {
	if rc.Request.ID == "" {
		rc.Request.ID = "req-" + uuid.New().String()
	}

	if rc.Request.Timestamp.IsZero() {
		rc.Request.Timestamp = time.Now().UTC()
	}
}
