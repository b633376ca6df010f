package invocation

// RoutingInfo reports which operation a composite tool chose and why.
type RoutingInfo struct {
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

// Metadata accompanies every invocation result regardless of success.
// Pipeline totals are only populated by the orchestrator.
type Metadata struct {
	RequestID       string         `json:"request_id"`
	LatencyMS       int64          `json:"latency_ms"`
	Attempts        int            `json:"attempts,omitempty"`
	ResolvedInputs  map[string]any `json:"resolved_inputs,omitempty"`
	Routing         *RoutingInfo   `json:"routing,omitempty"`
	Steps           int            `json:"steps,omitempty"`
	TotalCostUSD    float64        `json:"total_cost_usd,omitempty"`
	TotalDurationMS int64          `json:"total_duration_ms,omitempty"`
	TotalTokens     int            `json:"total_tokens,omitempty"`
	CostUSD         float64        `json:"cost_usd,omitempty"`
	Tokens          int            `json:"tokens,omitempty"`
}

// Result is the common output envelope of the gateway, the router and the
// orchestrator. Exactly one of Data/Err is meaningful, selected by Success.
type Result struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data,omitempty"`
	Err      *Error   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// OK wraps data in a success envelope.
func OK(data any, meta Metadata) *Result {
	return &Result{Success: true, Data: data, Metadata: meta}
}

// Fail wraps an error in a failure envelope. Partial data (for safety-limit
// and cancellation outcomes) may still be attached by the caller.
func Fail(err *Error, meta Metadata) *Result {
	if err.RequestID == "" {
		err.RequestID = meta.RequestID
	}

	return &Result{Success: false, Err: err, Metadata: meta}
}
