package variables

import (
	"fmt"
	"strings"
)

// Source identifies which layer produced a resolved value.
type Source string

const (
	SourceRuntime    Source = "runtime"
	SourceConnection Source = "connection"
	SourceTenant     Source = "tenant"
	SourceBuiltin    Source = "builtin"
	SourceMissing    Source = "missing"
)

// RedactionMarker replaces sensitive values in masked output.
const RedactionMarker = "***REDACTED***"

// ResolvedVariable records the outcome of resolving one reference.
type ResolvedVariable struct {
	Reference Reference `json:"reference"`
	Value     any       `json:"value,omitempty"`
	Source    Source    `json:"source"`
	Found     bool      `json:"found"`
	Sensitive bool      `json:"sensitive"`
}

// Result is the output of one Resolve call.
// Invariant: AllFound == (len(Missing) == 0).
type Result struct {
	Resolved  any                `json:"resolved"`
	Variables []ResolvedVariable `json:"variables"`
	AllFound  bool               `json:"all_found"`
	Missing   []Reference        `json:"missing"`
}

// MaskedResolved returns a copy of the resolved output with every sensitive
// value replaced by the redaction marker. Raw sensitive values never survive
// in the returned structure.
func (r *Result) MaskedResolved() any {
	var secrets []string

	for _, v := range r.Variables {
		if v.Sensitive && v.Found && v.Value != nil {
			secrets = append(secrets, fmt.Sprintf("%v", v.Value))
		}
	}

	if len(secrets) == 0 {
		return r.Resolved
	}

	return maskValue(r.Resolved, secrets)
}

func maskValue(value any, secrets []string) any {
	switch v := value.(type) {
	case string:
		for _, secret := range secrets {
			if v == secret {
				return RedactionMarker
			}

			v = strings.ReplaceAll(v, secret, RedactionMarker)
		}

		return v
	case map[string]any:
		masked := make(map[string]any, len(v))
		for key, item := range v {
			masked[key] = maskValue(item, secrets)
		}

		return masked
	case []any:
		masked := make([]any, len(v))
		for i, item := range v {
			masked[i] = maskValue(item, secrets)
		}

		return masked
	default:
		for _, secret := range secrets {
			if fmt.Sprintf("%v", value) == secret {
				return RedactionMarker
			}
		}

		return value
	}
}

// Summary reports resolution counts. Pure reporting, no side effects.
type Summary struct {
	Total     int            `json:"total"`
	Found     int            `json:"found"`
	Missing   int            `json:"missing"`
	Sensitive int            `json:"sensitive"`
	BySource  map[Source]int `json:"by_source"`
}

// Summarize aggregates a result's variables by source, found and sensitivity.
func Summarize(result *Result) Summary {
	summary := Summary{BySource: make(map[Source]int)}

	for _, v := range result.Variables {
		summary.Total++
		summary.BySource[v.Source]++

		if v.Found {
			summary.Found++
		} else {
			summary.Missing++
		}

		if v.Sensitive {
			summary.Sensitive++
		}
	}

	return summary
}

// Validation is the outcome of a validation-only pass: no values are
// computed or returned.
type Validation struct {
	Valid        bool        `json:"valid"`
	Resolvable   []Reference `json:"resolvable"`
	Unresolvable []Reference `json:"unresolvable"`
}
