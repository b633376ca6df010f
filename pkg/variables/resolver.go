package variables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/switchyardhq/switchyard/pkg/models"
)

// Store is the persistence collaborator for tenant- and connection-scoped
// named variables. Implementations return ErrVariableNotFound when no record
// exists for the key.
type Store interface {
	ConnectionVariable(ctx context.Context, tenantID, connectionID, key, environment string) (*models.StoredVariable, error)
	TenantVariable(ctx context.Context, tenantID, key, environment string) (*models.StoredVariable, error)
}

// Options configure one Resolve or Validate call.
type Options struct {
	TenantID     string
	ConnectionID string
	Environment  string

	// Runtime backs the built-in namespaces current_user.*, connection.*
	// and request.*.
	Runtime *models.RuntimeContext

	// RequestVariables are ad hoc overrides keyed by full expression.
	// Highest priority.
	RequestVariables map[string]any

	// StepOutputs expose prior pipeline step outputs under
	// steps.<slug>.output.<path>. Only set inside pipeline executions.
	StepOutputs map[string]any

	// ThrowOnMissing makes Resolve fail with a ResolutionError when any
	// reference stays unresolved.
	ThrowOnMissing bool
}

// Resolver resolves template trees against an explicit ordered list of
// sources. The precedence order is fixed and independently testable:
// request overrides, step outputs, connection store, tenant store, built-ins.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil store disables the connection and
// tenant layers (built-ins and request overrides still work).
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{store: store, logger: logger.With("module", "variables")}
}

type sourceHit struct {
	value     any
	source    Source
	sensitive bool
}

type sourceFn func(ctx context.Context, ref Reference, opts Options) (*sourceHit, error)

func (r *Resolver) sources() []sourceFn {
	return []sourceFn{
		r.requestSource,
		r.stepsSource,
		r.connectionSource,
		r.tenantSource,
		r.builtinSource,
	}
}

type resolveState struct {
	order []string
	cache map[string]ResolvedVariable
}

// Resolve resolves a template (string, map or slice tree) and reports what
// was found, missing and sensitive. Re-resolving with the same context is
// idempotent.
func (r *Resolver) Resolve(ctx context.Context, template any, opts Options) (*Result, error) {
	if opts.Runtime != nil {
		opts.Runtime.Normalize()
	}

	state := &resolveState{cache: make(map[string]ResolvedVariable)}

	resolved, err := r.resolveValue(ctx, template, opts, state, false)
	if err != nil {
		return nil, err
	}

	result := &Result{Resolved: resolved}
	for _, expr := range state.order {
		rv := state.cache[expr]
		result.Variables = append(result.Variables, rv)

		if !rv.Found {
			result.Missing = append(result.Missing, rv.Reference)
		}
	}

	result.AllFound = len(result.Missing) == 0

	if opts.ThrowOnMissing && !result.AllFound {
		return nil, &ResolutionError{Missing: result.Missing}
	}

	return result, nil
}

// Validate checks which references of a template are resolvable without
// returning any values.
func (r *Resolver) Validate(ctx context.Context, template any, opts Options) (*Validation, error) {
	if opts.Runtime != nil {
		opts.Runtime.Normalize()
	}

	validation := &Validation{}
	seen := make(map[string]bool)

	for _, ref := range collectReferences(template) {
		if seen[ref.Expression] {
			continue
		}

		seen[ref.Expression] = true

		rv, err := r.resolveReference(ctx, ref, opts)
		if err != nil {
			return nil, err
		}

		if rv.Found {
			validation.Resolvable = append(validation.Resolvable, ref)
		} else {
			validation.Unresolvable = append(validation.Unresolvable, ref)
		}
	}

	validation.Valid = len(validation.Unresolvable) == 0

	return validation, nil
}

func (r *Resolver) resolveValue(ctx context.Context, template any, opts Options, state *resolveState, insideObject bool) (any, error) {
	switch v := template.(type) {
	case string:
		return r.resolveString(ctx, v, opts, state, insideObject)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, item := range v {
			value, err := r.resolveValue(ctx, item, opts, state, true)
			if err != nil {
				return nil, err
			}

			resolved[key] = value
		}

		return resolved, nil
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			value, err := r.resolveValue(ctx, item, opts, state, true)
			if err != nil {
				return nil, err
			}

			resolved[i] = value
		}

		return resolved, nil
	default:
		return template, nil
	}
}

func (r *Resolver) resolveString(ctx context.Context, template string, opts Options, state *resolveState, insideObject bool) (any, error) {
	refs := ParseReferences(template)
	if len(refs) == 0 {
		return template, nil
	}

	// A string that is exactly one reference keeps the value's type.
	if len(refs) == 1 && refs[0].Raw == template {
		rv, err := r.trackReference(ctx, refs[0], opts, state)
		if err != nil {
			return nil, err
		}

		if rv.Found {
			return rv.Value, nil
		}

		if insideObject {
			return nil, nil
		}

		return template, nil
	}

	resolved := template

	for _, ref := range refs {
		rv, err := r.trackReference(ctx, ref, opts, state)
		if err != nil {
			return nil, err
		}

		if !rv.Found {
			// Unresolved spans stay as literal markers.
			continue
		}

		resolved = strings.ReplaceAll(resolved, ref.Raw, fmt.Sprintf("%v", rv.Value))
	}

	return resolved, nil
}

func (r *Resolver) trackReference(ctx context.Context, ref Reference, opts Options, state *resolveState) (ResolvedVariable, error) {
	if rv, ok := state.cache[ref.Expression]; ok {
		return rv, nil
	}

	rv, err := r.resolveReference(ctx, ref, opts)
	if err != nil {
		return ResolvedVariable{}, err
	}

	state.cache[ref.Expression] = rv
	state.order = append(state.order, ref.Expression)

	return rv, nil
}

func (r *Resolver) resolveReference(ctx context.Context, ref Reference, opts Options) (ResolvedVariable, error) {
	for _, source := range r.sources() {
		hit, err := source(ctx, ref, opts)
		if err != nil {
			return ResolvedVariable{}, err
		}

		if hit != nil {
			return ResolvedVariable{
				Reference: ref,
				Value:     hit.value,
				Source:    hit.source,
				Found:     true,
				Sensitive: hit.sensitive,
			}, nil
		}
	}

	return ResolvedVariable{Reference: ref, Source: SourceMissing}, nil
}

func (r *Resolver) requestSource(_ context.Context, ref Reference, opts Options) (*sourceHit, error) {
	if opts.RequestVariables == nil {
		return nil, nil
	}

	if value, ok := opts.RequestVariables[ref.Expression]; ok {
		return &sourceHit{value: value, source: SourceRuntime}, nil
	}

	return nil, nil
}

func (r *Resolver) stepsSource(_ context.Context, ref Reference, opts Options) (*sourceHit, error) {
	if ref.Namespace != NamespaceSteps || opts.StepOutputs == nil {
		return nil, nil
	}

	slug, rest, _ := strings.Cut(ref.Path, ".")

	output, ok := opts.StepOutputs[slug]
	if !ok {
		return nil, nil
	}

	if rest == "" || rest == "output" {
		return &sourceHit{value: output, source: SourceRuntime}, nil
	}

	rest = strings.TrimPrefix(rest, "output.")

	value, found := walkPath(output, rest)
	if !found {
		return nil, nil
	}

	return &sourceHit{value: value, source: SourceRuntime}, nil
}

func (r *Resolver) connectionSource(ctx context.Context, ref Reference, opts Options) (*sourceHit, error) {
	if ref.Namespace != NamespaceCustom || r.store == nil || opts.ConnectionID == "" {
		return nil, nil
	}

	stored, err := r.store.ConnectionVariable(ctx, opts.TenantID, opts.ConnectionID, ref.Path, opts.Environment)
	if err != nil {
		if errors.Is(err, ErrVariableNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("connection variable lookup for %q: %w", ref.Path, err)
	}

	return &sourceHit{value: stored.Value, source: SourceConnection, sensitive: stored.Sensitive}, nil
}

func (r *Resolver) tenantSource(ctx context.Context, ref Reference, opts Options) (*sourceHit, error) {
	if ref.Namespace != NamespaceCustom || r.store == nil || opts.TenantID == "" {
		return nil, nil
	}

	stored, err := r.store.TenantVariable(ctx, opts.TenantID, ref.Path, opts.Environment)
	if err != nil {
		if errors.Is(err, ErrVariableNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("tenant variable lookup for %q: %w", ref.Path, err)
	}

	return &sourceHit{value: stored.Value, source: SourceTenant, sensitive: stored.Sensitive}, nil
}

func (r *Resolver) builtinSource(_ context.Context, ref Reference, opts Options) (*sourceHit, error) {
	if opts.Runtime == nil {
		return nil, nil
	}

	var value any

	switch ref.Namespace {
	case NamespaceCurrentUser:
		if opts.Runtime.CurrentUser == nil {
			return nil, nil
		}

		switch ref.Path {
		case "id":
			value = opts.Runtime.CurrentUser.ID
		case "email":
			value = opts.Runtime.CurrentUser.Email
		case "name":
			value = opts.Runtime.CurrentUser.Name
		}
	case NamespaceConnection:
		switch ref.Path {
		case "id":
			value = opts.Runtime.Connection.ID
		case "name":
			value = opts.Runtime.Connection.Name
		case "workspace_id":
			value = opts.Runtime.Connection.WorkspaceID
		}
	case NamespaceRequest:
		switch ref.Path {
		case "id":
			value = opts.Runtime.Request.ID
		case "timestamp":
			value = opts.Runtime.Request.Timestamp.UTC().Format(time.RFC3339)
		case "environment":
			value = opts.Runtime.Request.Environment
		}
	default:
		return nil, nil
	}

	if value == nil || value == "" {
		return nil, nil
	}

	return &sourceHit{value: value, source: SourceBuiltin}, nil
}

// walkPath descends a value tree along a dotted path. Map keys and numeric
// slice indexes are supported.
func walkPath(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}

	current := value

	for _, segment := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(v) {
				return nil, false
			}

			current = v[index]
		default:
			return nil, false
		}
	}

	return current, true
}
