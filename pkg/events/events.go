// Package events defines the lifecycle and request-log events emitted by
// the gateway and the orchestrator. Consumers (request logging, metrics
// storage) live outside this engine.
package events

import (
	"time"
)

type EventType string

// Topics.
const Topic = "switchyard.events"
const RequestLogTopic = "switchyard.request.logs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Gateway events.
	ActionInvokedEvent EventType = "action.invoked"

	// Pipeline execution lifecycle events.
	ExecutionStartedEvent   EventType = "pipeline.execution.started"
	ExecutionCompletedEvent EventType = "pipeline.execution.completed"
	ExecutionFailedEvent    EventType = "pipeline.execution.failed"
	ExecutionCancelledEvent EventType = "pipeline.execution.cancelled"
	ExecutionTimeoutEvent   EventType = "pipeline.execution.timeout"
)

// Event is anything publishable on the bus.
type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id"`
}

// ActionInvoked is the request-log record: exactly one per attempt set,
// published fire-and-forget by the gateway. Resolved inputs are masked
// before they reach this event.
type ActionInvoked struct {
	BaseEvent

	RequestID       string `json:"request_id"`
	IntegrationSlug string `json:"integration_slug"`
	ActionSlug      string `json:"action_slug"`
	ConnectionID    string `json:"connection_id,omitempty"`
	Success         bool   `json:"success"`
	ErrorCode       string `json:"error_code,omitempty"`
	StatusCode      int    `json:"status_code,omitempty"`
	Attempts        int    `json:"attempts"`
	LatencyMS       int64  `json:"latency_ms"`
}

func (e ActionInvoked) GetType() EventType {
	return ActionInvokedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	PipelineID  string `json:"pipeline_id"`
	TotalSteps  int    `json:"total_steps"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID  string  `json:"execution_id"`
	PipelineID   string  `json:"pipeline_id"`
	Steps        int     `json:"steps"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	TotalTokens  int     `json:"total_tokens"`
	DurationMS   int64   `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID    string `json:"execution_id"`
	PipelineID     string `json:"pipeline_id"`
	ErrorCode      string `json:"error_code"`
	Error          string `json:"error"`
	CompletedSteps int    `json:"completed_steps"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID    string `json:"execution_id"`
	PipelineID     string `json:"pipeline_id"`
	CompletedSteps int    `json:"completed_steps"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type ExecutionTimeout struct {
	BaseEvent

	ExecutionID    string `json:"execution_id"`
	PipelineID     string `json:"pipeline_id"`
	CompletedSteps int    `json:"completed_steps"`
	ElapsedMS      int64  `json:"elapsed_ms"`
}

func (e ExecutionTimeout) GetType() EventType {
	return ExecutionTimeoutEvent
}
