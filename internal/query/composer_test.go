package query

import (
	"net/url"
	"testing"
)

func TestComposeFacetsAndText(t *testing.T) {
	selections := []Selection{
		{Type: "stage", Value: "FCCee"},
		{Type: "campaign", Value: ""},
		{Type: "detector_name", Value: "IDEA"},
	}
	got := Compose("higgs", selections)
	want := "stage=FCCee AND detector=IDEA AND higgs"
	if got != want {
		t.Errorf("Compose = %q, want %q", got, want)
	}
}

func TestComposeEmptyYieldsWildcard(t *testing.T) {
	if got := Compose("", nil); got != Wildcard {
		t.Errorf("Compose(empty) = %q, want %q", got, Wildcard)
	}
	if got := Compose("   ", []Selection{{Type: "stage", Value: ""}}); got != Wildcard {
		t.Errorf("Compose(blank) = %q, want %q", got, Wildcard)
	}
}

func TestComposeTextOnly(t *testing.T) {
	if got := Compose("  zh  ", nil); got != "zh" {
		t.Errorf("Compose = %q, want zh", got)
	}
}

func TestPermalinkOmitsDefaults(t *testing.T) {
	base, _ := url.Parse("https://catalogue.example.org/search")

	got := Permalink(base, State{Sort: DefaultSort})
	if got != "https://catalogue.example.org/search" {
		t.Errorf("all-default permalink = %q", got)
	}

	got = Permalink(base, State{Text: "higgs", Sort: Sort{Field: "name", Order: "desc"}})
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parsing permalink: %v", err)
	}
	q := u.Query()
	if q.Get("q") != "higgs" || q.Get("sort") != "name" {
		t.Errorf("permalink params = %v", q)
	}
	if q.Has("order") {
		t.Errorf("default order should be omitted, got %v", q)
	}
}

func TestPermalinkRoundTrip(t *testing.T) {
	base, _ := url.Parse("https://catalogue.example.org/search")
	st := State{Text: "mumu ecm240", Sort: Sort{Field: "name", Order: "asc"}}

	link := Permalink(base, st)
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parsing permalink: %v", err)
	}

	if got := FromURL(u); got != st {
		t.Errorf("round trip = %+v, want %+v", got, st)
	}
}

func TestFromURLDefaults(t *testing.T) {
	u, _ := url.Parse("https://catalogue.example.org/search")
	st := FromURL(u)
	if st.Text != "" || st.Sort != DefaultSort {
		t.Errorf("FromURL(bare) = %+v", st)
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("stage=FCCee AND detector=IDEA AND higgs zh")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Clauses) != 2 || p.Clauses[0] != (Selection{Type: "stage", Value: "FCCee"}) {
		t.Errorf("clauses = %+v", p.Clauses)
	}
	if len(p.Terms) != 2 || p.Terms[0] != "higgs" {
		t.Errorf("terms = %+v", p.Terms)
	}
	if p.MatchAll {
		t.Error("MatchAll should be false")
	}
}

func TestParseWildcard(t *testing.T) {
	for _, in := range []string{"*", "", "  "} {
		p, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if !p.MatchAll {
			t.Errorf("Parse(%q).MatchAll = false", in)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	for _, in := range []string{"=IDEA", "detector=", "a AND =b"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestComposeParseRoundTrip(t *testing.T) {
	q := Compose("rare decay", []Selection{{Type: "campaign", Value: "winter2023"}})
	p, err := Parse(q)
	if err != nil {
		t.Fatalf("Parse(Compose): %v", err)
	}
	if len(p.Clauses) != 1 || p.Clauses[0].Value != "winter2023" {
		t.Errorf("clauses = %+v", p.Clauses)
	}
	if len(p.Terms) != 2 {
		t.Errorf("terms = %+v", p.Terms)
	}
}
