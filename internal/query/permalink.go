package query

import (
	"net/url"
)

// Sort is a sort field plus direction.
type Sort struct {
	Field string
	Order string
}

// DefaultSort is the catalogue's implicit ordering; permalinks omit it.
var DefaultSort = Sort{Field: "created_at", Order: "desc"}

// State is the portion of query state a permalink can reproduce.
type State struct {
	Text string
	Sort Sort
}

// Permalink serializes non-default state into base's query string. Defaults
// are omitted to keep links minimal; an all-default state yields base
// unchanged.
func Permalink(base *url.URL, st State) string {
	u := *base
	params := url.Values{}

	if st.Text != "" {
		params.Set("q", st.Text)
	}
	if st.Sort.Field != "" && st.Sort.Field != DefaultSort.Field {
		params.Set("sort", st.Sort.Field)
	}
	if st.Sort.Order != "" && st.Sort.Order != DefaultSort.Order {
		params.Set("order", st.Sort.Order)
	}

	u.RawQuery = params.Encode()
	return u.String()
}

// FromURL seeds query state from a permalink, applying defaults for anything
// the URL does not carry.
func FromURL(u *url.URL) State {
	params := u.Query()
	st := State{
		Text: params.Get("q"),
		Sort: DefaultSort,
	}
	if f := params.Get("sort"); f != "" {
		st.Sort.Field = f
	}
	if o := params.Get("order"); o != "" {
		st.Sort.Order = o
	}
	return st
}
