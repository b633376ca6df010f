package web

import (
	"strings"

	"github.com/switchyardhq/switchyard/pkg/gateway"
	"github.com/switchyardhq/switchyard/pkg/models"
	"github.com/switchyardhq/switchyard/pkg/refdata"
)

// UserPayload identifies the end user a call runs on behalf of.
type UserPayload struct {
	ID    string `json:"id"    validate:"required"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// ReferenceItemPayload is one inline name-to-ID mapping.
type ReferenceItemPayload struct {
	ID       string         `json:"id"   validate:"required"`
	Name     string         `json:"name" validate:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CallContext carries the shared invocation context fields every invoke
// endpoint accepts.
type CallContext struct {
	ConnectionID     string                            `json:"connection_id,omitempty"`
	Environment      string                            `json:"environment,omitempty"`
	AppID            string                            `json:"app_id,omitempty"`
	ExternalUserID   string                            `json:"external_user_id,omitempty"`
	User             *UserPayload                      `json:"user,omitempty"`
	Variables        map[string]any                    `json:"variables,omitempty"`
	ReferenceContext map[string][]ReferenceItemPayload `json:"reference_context,omitempty"`
}

// ToolInvokeRequest invokes a single integration action. Tool is the
// combined "<integration>_<action>" form; the explicit fields win when set.
type ToolInvokeRequest struct {
	Tool        string         `json:"tool,omitempty"`
	Integration string         `json:"integration,omitempty"`
	Action      string         `json:"action,omitempty"`
	Params      map[string]any `json:"params,omitempty"`

	CallContext
}

// Slugs resolves the integration and action slug pair.
func (r *ToolInvokeRequest) Slugs() (integration, action string, ok bool) {
	if r.Integration != "" && r.Action != "" {
		return r.Integration, r.Action, true
	}

	integration, action, found := strings.Cut(r.Tool, "_")
	if !found || integration == "" || action == "" {
		return "", "", false
	}

	return integration, action, true
}

// CompositeInvokeRequest invokes a composite tool (slug comes from the path).
type CompositeInvokeRequest struct {
	Params map[string]any `json:"params,omitempty"`

	CallContext
}

// PipelineInvokeRequest invokes a pipeline (ref comes from the path).
type PipelineInvokeRequest struct {
	Params map[string]any `json:"params,omitempty"`

	CallContext
}

// VariablePreviewRequest previews template resolution. With Resolve false
// only resolvability is reported; with true, resolved values come back with
// sensitive values masked.
type VariablePreviewRequest struct {
	Template any  `json:"template" validate:"required"`
	Resolve  bool `json:"resolve,omitempty"`

	CallContext
}

// gatewayOptions maps the request context onto the engine's option type.
func (cc *CallContext) gatewayOptions() gateway.Options {
	opts := gateway.Options{
		ConnectionID:     cc.ConnectionID,
		Environment:      cc.Environment,
		AppID:            cc.AppID,
		ExternalUserID:   cc.ExternalUserID,
		RequestVariables: cc.Variables,
		Runtime:          models.NewRuntimeContext(cc.Environment),
	}

	if cc.User != nil {
		opts.Runtime.CurrentUser = &models.UserContext{
			ID:    cc.User.ID,
			Email: cc.User.Email,
			Name:  cc.User.Name,
		}
	}

	if len(cc.ReferenceContext) > 0 {
		opts.ReferenceContext = make(refdata.Context, len(cc.ReferenceContext))
		for namespace, items := range cc.ReferenceContext {
			converted := make([]models.ReferenceItem, 0, len(items))
			for _, item := range items {
				converted = append(converted, models.ReferenceItem{
					ID:       item.ID,
					Name:     item.Name,
					Metadata: item.Metadata,
				})
			}

			opts.ReferenceContext[namespace] = converted
		}
	}

	return opts
}
