// Package models defines the domain model for integrations, actions,
// composite tools, pipelines and their executions.
package models

import "time"

// IntegrationStatus controls whether an integration can be invoked.
type IntegrationStatus string

const (
	IntegrationStatusActive   IntegrationStatus = "active"
	IntegrationStatusDisabled IntegrationStatus = "disabled"
)

// AuthScheme is the closed set of supported credential injection schemes.
type AuthScheme string

const (
	AuthSchemeAPIKey        AuthScheme = "api_key"
	AuthSchemeBearer        AuthScheme = "bearer"
	AuthSchemeBasic         AuthScheme = "basic"
	AuthSchemeOAuth2        AuthScheme = "oauth2"
	AuthSchemeCustomHeaders AuthScheme = "custom_headers"
)

// Integration is a registered third-party HTTP API owned by a tenant.
type Integration struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Slug       string            `json:"slug"`
	Name       string            `json:"name"`
	BaseURL    string            `json:"base_url"`
	AuthScheme AuthScheme        `json:"auth_scheme"`
	Status     IntegrationStatus `json:"status"`
}

// Action is one callable endpoint on an integration. Path, Headers and Body
// may contain ${...} variable references resolved at invocation time.
type Action struct {
	ID             string            `json:"id"`
	IntegrationID  string            `json:"integration_id"`
	Slug           string            `json:"slug"`
	Name           string            `json:"name"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	InputSchema    map[string]any    `json:"input_schema,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Enabled        bool              `json:"enabled"`
}

// Connection is a named credential binding to one integration. A tenant can
// hold several connections to the same integration (multiple accounts).
type Connection struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	IntegrationID string `json:"integration_id"`
	Name          string `json:"name"`
	WorkspaceID   string `json:"workspace_id,omitempty"`
	Enabled       bool   `json:"enabled"`
}

// Credential carries the decrypted secret material for one auth scheme.
// Produced by the credential collaborator; never persisted by this engine.
type Credential struct {
	ID        string            `json:"id"`
	Scheme    AuthScheme        `json:"scheme"`
	APIKey    string            `json:"-"`
	KeyField  string            `json:"key_field,omitempty"`
	Placement string            `json:"placement,omitempty"` // "header" or "query"
	Token     string            `json:"-"`
	Username  string            `json:"-"`
	Password  string            `json:"-"`
	Headers   map[string]string `json:"-"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Active    bool              `json:"active"`
}

// StoredVariable is a tenant- or connection-scoped named value usable in
// templates. Sensitive values are masked before leaving the resolver.
type StoredVariable struct {
	Key          string `json:"key"`
	Value        any    `json:"value"`
	TenantID     string `json:"tenant_id"`
	ConnectionID string `json:"connection_id,omitempty"`
	Environment  string `json:"environment,omitempty"`
	Sensitive    bool   `json:"sensitive"`
}

// ReferenceItem is one cached name-to-ID mapping (a user, a channel, ...)
// used to substitute human-readable names in tool input.
type ReferenceItem struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
