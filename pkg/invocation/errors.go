// Package invocation defines the shared result envelope and the error-code
// taxonomy used by the gateway, the composite router and the orchestrator.
package invocation

import "fmt"

// Code tags every failure with a machine-readable kind. Callers map codes to
// HTTP statuses and retry decisions instead of inspecting error types.
type Code string

const (
	CodeNotFound                Code = "NOT_FOUND"
	CodeDisabled                Code = "DISABLED"
	CodeNotActive               Code = "NOT_ACTIVE"
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeRoutingFailed           Code = "ROUTING_FAILED"
	CodeParameterMappingFailed  Code = "PARAMETER_MAPPING_FAILED"
	CodeCompositeToolDisabled   Code = "COMPOSITE_TOOL_DISABLED"
	CodeMissingCredentials      Code = "MISSING_CREDENTIALS"
	CodeContextLoadFailed       Code = "CONTEXT_LOAD_FAILED"
	CodeCircuitOpen             Code = "CIRCUIT_OPEN"
	CodeExecutionFailed         Code = "EXECUTION_FAILED"
	CodeStepFailed              Code = "STEP_FAILED"
	CodeStepTimeout             Code = "STEP_TIMEOUT"
	CodeCostLimitExceeded       Code = "COST_LIMIT_EXCEEDED"
	CodeDurationLimitExceeded   Code = "DURATION_LIMIT_EXCEEDED"
	CodeExecutionCancelled      Code = "EXECUTION_CANCELLED"
	CodeTemplateResolutionError Code = "TEMPLATE_RESOLUTION_ERROR"
	CodeEmptyPipeline           Code = "EMPTY_PIPELINE"
	CodePipelineNotActive       Code = "PIPELINE_NOT_ACTIVE"
	CodePipelineDisabled        Code = "PIPELINE_DISABLED"
	CodeInternalError           Code = "INTERNAL_ERROR"
)

// Resolution is the remediation hint attached to every error response.
type Resolution struct {
	Action      string `json:"action"`
	Description string `json:"description"`
	Retryable   bool   `json:"retryable"`
}

// Error is the structured failure carried inside a Result. Details never
// contain secrets or raw credential material.
type Error struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Resolution Resolution     `json:"suggested_resolution"`
	cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds an Error with the default resolution hint for its code.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Resolution: defaultResolution(code)}
}

// WithDetails attaches structured context to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRequestID stamps the originating request.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithCause preserves the underlying error for errors.Is/As chains.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// HTTPStatus maps an error code to its HTTP-equivalent status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeDisabled, CodeNotActive, CodeCompositeToolDisabled,
		CodePipelineNotActive, CodePipelineDisabled:
		return 403
	case CodeInvalidInput, CodeRoutingFailed, CodeParameterMappingFailed,
		CodeTemplateResolutionError, CodeEmptyPipeline:
		return 400
	case CodeCostLimitExceeded, CodeDurationLimitExceeded:
		return 429
	case CodeExecutionCancelled:
		return 499
	case CodeMissingCredentials, CodeContextLoadFailed, CodeCircuitOpen,
		CodeExecutionFailed, CodeStepFailed, CodeStepTimeout:
		return 502
	default:
		return 500
	}
}

func defaultResolution(code Code) Resolution {
	switch code {
	case CodeNotFound:
		return Resolution{
			Action:      "check_reference",
			Description: "Verify the referenced tool, pipeline or integration exists and belongs to this tenant.",
		}
	case CodeDisabled, CodeNotActive, CodeCompositeToolDisabled, CodePipelineDisabled, CodePipelineNotActive:
		return Resolution{
			Action:      "enable_entity",
			Description: "The entity exists but is not enabled for invocation. Enable or publish it first.",
		}
	case CodeInvalidInput, CodeParameterMappingFailed:
		return Resolution{
			Action:      "fix_parameters",
			Description: "Adjust the request parameters to match the declared input schema.",
		}
	case CodeRoutingFailed:
		return Resolution{
			Action:      "review_routing",
			Description: "No routing rule matched and no default operation is configured for this tool.",
		}
	case CodeMissingCredentials:
		return Resolution{
			Action:      "connect_account",
			Description: "No active credential found for this integration. Create or refresh a connection.",
		}
	case CodeContextLoadFailed:
		return Resolution{
			Action:      "retry_later",
			Description: "Reference data lookup failed. Retry once the context source is reachable.",
			Retryable:   true,
		}
	case CodeCircuitOpen:
		return Resolution{
			Action:      "wait_for_recovery",
			Description: "The integration is failing repeatedly and calls are paused. Retry after the cooldown.",
			Retryable:   true,
		}
	case CodeExecutionFailed, CodeStepFailed, CodeStepTimeout:
		return Resolution{
			Action:      "retry_request",
			Description: "The upstream call failed after retries. It may succeed on a later attempt.",
			Retryable:   true,
		}
	case CodeCostLimitExceeded, CodeDurationLimitExceeded:
		return Resolution{
			Action:      "raise_limits",
			Description: "The pipeline hit a safety limit. Partial results are preserved; raise limits to continue.",
		}
	case CodeExecutionCancelled:
		return Resolution{
			Action:      "none",
			Description: "The execution was cancelled on request. Completed step results are preserved.",
		}
	case CodeTemplateResolutionError:
		return Resolution{
			Action:      "fix_template",
			Description: "One or more template variables could not be resolved. Supply the missing values.",
		}
	case CodeEmptyPipeline:
		return Resolution{
			Action:      "add_steps",
			Description: "The pipeline has no steps, or its step numbers are not contiguous from 1.",
		}
	default:
		return Resolution{
			Action:      "contact_support",
			Description: "An unexpected error occurred.",
		}
	}
}
