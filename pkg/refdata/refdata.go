// Package refdata substitutes human-readable names in tool parameters with
// the IDs the upstream API expects, using caller-supplied inline context
// first and a tenant-scoped cache second.
package refdata

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/switchyardhq/switchyard/pkg/models"
)

// SchemaAnnotation marks an action input property as reference data; its
// value names the lookup namespace (e.g. "users", "channels").
const SchemaAnnotation = "x-refdata"

// ErrNotCached is returned by caches when no item matches.
var ErrNotCached = errors.New("reference item not cached")

// Context is the inline reference data a caller ships with a request,
// keyed by namespace.
type Context map[string][]models.ReferenceItem

// Cache is the tenant-scoped reference-data store.
type Cache interface {
	Lookup(ctx context.Context, tenantID, namespace, name string) (*models.ReferenceItem, error)
	Put(ctx context.Context, tenantID, namespace string, items []models.ReferenceItem) error
}

// Loader performs name-to-ID substitution on action parameters.
type Loader struct {
	cache  Cache
	logger *slog.Logger
}

// NewLoader creates a loader. A nil cache limits lookups to inline context.
func NewLoader(cache Cache, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{cache: cache, logger: logger.With("module", "refdata")}
}

// SubstituteNames returns a copy of params where every property annotated
// with x-refdata in the schema has its value replaced by the matching
// item's ID. Values with no match are passed through unchanged (they may
// already be IDs). A failing cache is a hard error so the gateway can
// report CONTEXT_LOAD_FAILED instead of calling upstream with a bad value.
func (l *Loader) SubstituteNames(ctx context.Context, tenantID string, inline Context, params map[string]any, schema map[string]any) (map[string]any, error) {
	if len(params) == 0 || schema == nil {
		return params, nil
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return params, nil
	}

	substituted := make(map[string]any, len(params))
	for key, value := range params {
		substituted[key] = value
	}

	for name, rawProp := range properties {
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}

		namespace, ok := prop[SchemaAnnotation].(string)
		if !ok || namespace == "" {
			continue
		}

		value, ok := substituted[name].(string)
		if !ok || value == "" {
			continue
		}

		item, err := l.lookup(ctx, tenantID, namespace, value, inline)
		if err != nil {
			return nil, err
		}

		if item != nil {
			substituted[name] = item.ID
		}
	}

	return substituted, nil
}

func (l *Loader) lookup(ctx context.Context, tenantID, namespace, name string, inline Context) (*models.ReferenceItem, error) {
	for _, item := range inline[namespace] {
		if strings.EqualFold(item.Name, name) {
			return &item, nil
		}
	}

	if l.cache == nil {
		return nil, nil
	}

	item, err := l.cache.Lookup(ctx, tenantID, namespace, name)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			return nil, nil
		}

		return nil, err
	}

	return item, nil
}
