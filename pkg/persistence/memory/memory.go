// Package memory provides a concurrency-safe in-memory implementation of the
// persistence contracts, used by the development server and the test suites.
package memory

import (
	"context"
	"sync"

	"github.com/switchyardhq/switchyard/pkg/models"
	"github.com/switchyardhq/switchyard/pkg/persistence"
	"github.com/switchyardhq/switchyard/pkg/variables"
)

// Store holds every repository in one place. The zero value is not usable;
// call NewStore.
type Store struct {
	mu sync.RWMutex

	integrations map[string]*models.Integration   // tenant|slug
	actions      map[string]*models.Action        // tenant|integration|action
	connections  map[string]*models.Connection    // tenant|id
	tools        map[string]*models.CompositeTool // tenant|slug
	pipelines    map[string]*models.Pipeline      // tenant|slug and tenant|id
	executions   map[string]*models.PipelineExecution
	cancels      map[string]bool
	credentials  map[string]*models.Credential    // tenant|integration[|connection][|app|user]
	tenantVars   map[string]*models.StoredVariable // tenant|key|env
	connVars     map[string]*models.StoredVariable // tenant|connection|key|env
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		integrations: make(map[string]*models.Integration),
		actions:      make(map[string]*models.Action),
		connections:  make(map[string]*models.Connection),
		tools:        make(map[string]*models.CompositeTool),
		pipelines:    make(map[string]*models.Pipeline),
		executions:   make(map[string]*models.PipelineExecution),
		cancels:      make(map[string]bool),
		credentials:  make(map[string]*models.Credential),
		tenantVars:   make(map[string]*models.StoredVariable),
		connVars:     make(map[string]*models.StoredVariable),
	}
}

func key(parts ...string) string {
	joined := parts[0]
	for _, p := range parts[1:] {
		joined += "|" + p
	}

	return joined
}

// AddIntegration registers an integration for lookups.
func (s *Store) AddIntegration(integration *models.Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrations[key(integration.TenantID, integration.Slug)] = integration
}

// AddAction registers an action under an integration slug.
func (s *Store) AddAction(tenantID, integrationSlug string, action *models.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[key(tenantID, integrationSlug, action.Slug)] = action
}

// AddConnection registers a connection.
func (s *Store) AddConnection(connection *models.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[key(connection.TenantID, connection.ID)] = connection
}

// AddCompositeTool registers a composite tool.
func (s *Store) AddCompositeTool(tool *models.CompositeTool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[key(tool.TenantID, tool.Slug)] = tool
}

// AddPipeline registers a pipeline, addressable by slug and by ID.
func (s *Store) AddPipeline(pipeline *models.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[key(pipeline.TenantID, pipeline.Slug)] = pipeline
	s.pipelines[key(pipeline.TenantID, pipeline.ID)] = pipeline
}

// AddCredential registers credential material for a credential ref.
func (s *Store) AddCredential(ref persistence.CredentialRef, credential *models.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[credentialKey(ref)] = credential
}

// AddTenantVariable registers a tenant-scoped variable.
func (s *Store) AddTenantVariable(v *models.StoredVariable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenantVars[key(v.TenantID, v.Key, v.Environment)] = v
}

// AddConnectionVariable registers a connection-scoped variable.
func (s *Store) AddConnectionVariable(v *models.StoredVariable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connVars[key(v.TenantID, v.ConnectionID, v.Key, v.Environment)] = v
}

func credentialKey(ref persistence.CredentialRef) string {
	return key(ref.TenantID, ref.IntegrationID, ref.ConnectionID, ref.AppID, ref.ExternalUserID)
}

// IntegrationBySlug implements persistence.IntegrationRepository.
func (s *Store) IntegrationBySlug(_ context.Context, tenantID, slug string) (*models.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	integration, ok := s.integrations[key(tenantID, slug)]
	if !ok {
		return nil, persistence.NewRepositoryError("IntegrationBySlug", tenantID, slug, persistence.ErrIntegrationNotFound)
	}

	return integration, nil
}

// ActionBySlug implements persistence.IntegrationRepository.
func (s *Store) ActionBySlug(_ context.Context, tenantID, integrationSlug, actionSlug string) (*models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	action, ok := s.actions[key(tenantID, integrationSlug, actionSlug)]
	if !ok {
		return nil, persistence.NewRepositoryError("ActionBySlug", tenantID, actionSlug, persistence.ErrActionNotFound)
	}

	return action, nil
}

// ConnectionByID implements persistence.ConnectionRepository.
func (s *Store) ConnectionByID(_ context.Context, tenantID, id string) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	connection, ok := s.connections[key(tenantID, id)]
	if !ok {
		return nil, persistence.NewRepositoryError("ConnectionByID", tenantID, id, persistence.ErrConnectionNotFound)
	}

	return connection, nil
}

// CompositeToolBySlug implements persistence.CompositeToolRepository.
func (s *Store) CompositeToolBySlug(_ context.Context, tenantID, slug string) (*models.CompositeTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tool, ok := s.tools[key(tenantID, slug)]
	if !ok {
		return nil, persistence.NewRepositoryError("CompositeToolBySlug", tenantID, slug, persistence.ErrCompositeToolNotFound)
	}

	return tool, nil
}

// PipelineByRef implements persistence.PipelineRepository.
func (s *Store) PipelineByRef(_ context.Context, tenantID, ref string) (*models.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pipeline, ok := s.pipelines[key(tenantID, ref)]
	if !ok {
		return nil, persistence.NewRepositoryError("PipelineByRef", tenantID, ref, persistence.ErrPipelineNotFound)
	}

	return pipeline, nil
}

// SaveExecution implements persistence.ExecutionRepository. The stored record
// is a snapshot copy so later orchestrator mutations stay invisible.
func (s *Store) SaveExecution(_ context.Context, execution *models.PipelineExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := *execution
	snapshot.StepResults = append([]models.StepResult(nil), execution.StepResults...)
	s.executions[execution.ID] = &snapshot

	return nil
}

// ExecutionByID implements persistence.ExecutionRepository.
func (s *Store) ExecutionByID(_ context.Context, tenantID, id string) (*models.PipelineExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[id]
	if !ok || execution.TenantID != tenantID {
		return nil, persistence.NewRepositoryError("ExecutionByID", tenantID, id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

// RequestCancel implements persistence.ExecutionRepository.
func (s *Store) RequestCancel(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[id]
	if !ok || execution.TenantID != tenantID {
		return persistence.NewRepositoryError("RequestCancel", tenantID, id, persistence.ErrExecutionNotFound)
	}

	s.cancels[id] = true

	return nil
}

// CancelRequested implements persistence.ExecutionRepository.
func (s *Store) CancelRequested(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cancels[id], nil
}

// ResolveCredential implements persistence.CredentialResolver. End-user
// scoped credentials win over connection- and tenant-shared ones.
func (s *Store) ResolveCredential(_ context.Context, ref persistence.CredentialRef) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := []persistence.CredentialRef{
		ref,
		{TenantID: ref.TenantID, IntegrationID: ref.IntegrationID, ConnectionID: ref.ConnectionID},
		{TenantID: ref.TenantID, IntegrationID: ref.IntegrationID},
	}

	for _, candidate := range candidates {
		if credential, ok := s.credentials[credentialKey(candidate)]; ok && credential.Active {
			return credential, nil
		}
	}

	return nil, persistence.ErrCredentialNotFound
}

// TenantVariable implements variables.Store.
func (s *Store) TenantVariable(_ context.Context, tenantID, varKey, environment string) (*models.StoredVariable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.tenantVars[key(tenantID, varKey, environment)]; ok {
		return v, nil
	}

	// Environment-less variables apply to every environment.
	if v, ok := s.tenantVars[key(tenantID, varKey, "")]; ok {
		return v, nil
	}

	return nil, variables.ErrVariableNotFound
}

// ConnectionVariable implements variables.Store.
func (s *Store) ConnectionVariable(_ context.Context, tenantID, connectionID, varKey, environment string) (*models.StoredVariable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.connVars[key(tenantID, connectionID, varKey, environment)]; ok {
		return v, nil
	}

	if v, ok := s.connVars[key(tenantID, connectionID, varKey, "")]; ok {
		return v, nil
	}

	return nil, variables.ErrVariableNotFound
}
