// Package query builds, serializes, and parses the catalogue's effective
// query: the conjunction of facet-derived equality clauses and free text.
package query

import "strings"

// Wildcard is sent when the user has typed nothing and selected nothing; the
// query endpoint requires a non-empty predicate.
const Wildcard = "*"

// Placeholder is the stable input hint shown next to the search box.
const Placeholder = "Search datasets, e.g. detector=IDEA ZH sample"

// HelpText explains the accepted syntax. Kept deliberately short; the full
// grammar belongs to the backend.
const HelpText = "Combine free text with field=value filters. " +
	"Terms are AND-combined; use * to match everything."

// Selection is one selected facet value, in hierarchy order.
type Selection struct {
	Type  string
	Value string
}

// Compose merges free text with facet selections into the effective query
// string. Facet fields are the normalized facet type names (any "_name"
// suffix stripped); all clauses are AND-joined; an empty composition yields
// the wildcard sentinel, never the empty string.
func Compose(freeText string, selections []Selection) string {
	var clauses []string
	for _, sel := range selections {
		if sel.Value == "" {
			continue
		}
		field := strings.TrimSuffix(sel.Type, "_name")
		clauses = append(clauses, field+"="+sel.Value)
	}

	if text := strings.TrimSpace(freeText); text != "" {
		clauses = append(clauses, text)
	}

	if len(clauses) == 0 {
		return Wildcard
	}
	return strings.Join(clauses, " AND ")
}
