// Package variables resolves ${namespace.path} template references against a
// layered context: request overrides, connection-scoped variables,
// tenant-scoped variables and built-in runtime fields, in that order.
package variables

import (
	"regexp"
	"strings"
)

// Namespace classifies a variable reference. Unknown namespaces are custom
// and resolve against tenant/connection-scoped named variables.
type Namespace string

const (
	NamespaceCurrentUser Namespace = "current_user"
	NamespaceConnection  Namespace = "connection"
	NamespaceRequest     Namespace = "request"
	NamespaceSteps       Namespace = "steps"
	NamespaceCustom      Namespace = "custom"
)

// Reference is one parsed ${...} span.
type Reference struct {
	Raw        string    `json:"raw"`
	Expression string    `json:"expression"`
	Namespace  Namespace `json:"namespace"`
	Path       string    `json:"path"`
}

var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ParseReferences scans a template string for ${...} spans. Each span is
// split on "." into namespace and path; duplicates are preserved in order.
func ParseReferences(template string) []Reference {
	matches := refPattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}

	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, parseExpression(m[0], strings.TrimSpace(m[1])))
	}

	return refs
}

func parseExpression(raw, expr string) Reference {
	ref := Reference{Raw: raw, Expression: expr}

	head, rest, _ := strings.Cut(expr, ".")
	switch Namespace(head) {
	case NamespaceCurrentUser, NamespaceConnection, NamespaceRequest, NamespaceSteps:
		ref.Namespace = Namespace(head)
		ref.Path = rest
	default:
		ref.Namespace = NamespaceCustom
		ref.Path = expr
	}

	return ref
}

// collectReferences walks a template tree (strings, maps, slices) and returns
// every reference found, in document order.
func collectReferences(template any) []Reference {
	switch v := template.(type) {
	case string:
		return ParseReferences(v)
	case map[string]any:
		var refs []Reference
		for _, value := range v {
			refs = append(refs, collectReferences(value)...)
		}

		return refs
	case []any:
		var refs []Reference
		for _, item := range v {
			refs = append(refs, collectReferences(item)...)
		}

		return refs
	default:
		return nil
	}
}
