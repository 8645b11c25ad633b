package query

import (
	"fmt"
	"strings"
)

// Parsed is the server-side view of an effective query: field=value clauses
// plus free-text terms, all conjoined.
type Parsed struct {
	Clauses []Selection
	Terms   []string
	// MatchAll is set for the wildcard sentinel.
	MatchAll bool
}

// Parse splits an effective query back into clauses and terms. The grammar is
// the one Compose emits: whitespace-separated tokens, "AND" connectives
// ignored, "field=value" tokens become clauses, everything else is a text
// term. A dangling "=" on either side is a syntax error.
func Parse(s string) (Parsed, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == Wildcard {
		return Parsed{MatchAll: true}, nil
	}

	var p Parsed
	for _, tok := range strings.Fields(s) {
		if strings.EqualFold(tok, "AND") {
			continue
		}
		if !strings.Contains(tok, "=") {
			p.Terms = append(p.Terms, tok)
			continue
		}
		field, value, _ := strings.Cut(tok, "=")
		if field == "" || value == "" {
			return Parsed{}, fmt.Errorf("malformed clause %q", tok)
		}
		p.Clauses = append(p.Clauses, Selection{Type: field, Value: value})
	}

	if len(p.Clauses) == 0 && len(p.Terms) == 0 {
		return Parsed{MatchAll: true}, nil
	}
	return p, nil
}
