package persistence

import (
	"context"

	"github.com/switchyardhq/switchyard/pkg/models"
)

// IntegrationRepository looks up tenant-owned integrations and their actions.
type IntegrationRepository interface {
	IntegrationBySlug(ctx context.Context, tenantID, slug string) (*models.Integration, error)
	ActionBySlug(ctx context.Context, tenantID, integrationSlug, actionSlug string) (*models.Action, error)
}

// ConnectionRepository looks up credential bindings.
type ConnectionRepository interface {
	ConnectionByID(ctx context.Context, tenantID, id string) (*models.Connection, error)
}

// CompositeToolRepository looks up composite tools.
type CompositeToolRepository interface {
	CompositeToolBySlug(ctx context.Context, tenantID, slug string) (*models.CompositeTool, error)
}

// PipelineRepository looks up pipelines by slug or ID.
type PipelineRepository interface {
	PipelineByRef(ctx context.Context, tenantID, ref string) (*models.Pipeline, error)
}

// ExecutionRepository stores pipeline execution records and the cooperative
// cancellation flag observed at step boundaries.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.PipelineExecution) error
	ExecutionByID(ctx context.Context, tenantID, id string) (*models.PipelineExecution, error)
	RequestCancel(ctx context.Context, tenantID, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// CredentialRef identifies which credential to resolve for a call. When
// AppID/ExternalUserID are set, an end-user-scoped credential is preferred
// over the tenant's shared one.
type CredentialRef struct {
	TenantID       string
	IntegrationID  string
	ConnectionID   string
	AppID          string
	ExternalUserID string
}

// CredentialResolver is the external collaborator that decrypts and returns
// credential material. Implementations must only return active credentials
// and ErrCredentialNotFound otherwise.
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, ref CredentialRef) (*models.Credential, error)
}
