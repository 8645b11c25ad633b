package facets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/metrics"
)

type mockLoader struct {
	mu      sync.Mutex
	calls   []loadCall
	loadFn  func(ctx context.Context, facetType string, filters map[string]string) ([]catalogue.FacetOption, error)
	started chan loadCall
}

type loadCall struct {
	facetType string
	filters   map[string]string
}

func (m *mockLoader) FacetOptions(ctx context.Context, facetType string, filters map[string]string) ([]catalogue.FacetOption, error) {
	call := loadCall{facetType: facetType, filters: filters}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	if m.started != nil {
		m.started <- call
	}
	if m.loadFn != nil {
		return m.loadFn(ctx, facetType, filters)
	}
	return []catalogue.FacetOption{{ID: 1, Name: facetType + "-opt"}}, nil
}

func (m *mockLoader) callsFor(facetType string) []loadCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []loadCall
	for _, c := range m.calls {
		if c.facetType == facetType {
			out = append(out, c)
		}
	}
	return out
}

func TestLoadUsesAncestorFiltersOnly(t *testing.T) {
	loader := &mockLoader{}
	g := New(loader)
	ctx := context.Background()

	if err := g.Select(ctx, "stage", "FCCee"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := g.Select(ctx, "campaign", "winter2023"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	calls := loader.callsFor("detector")
	if len(calls) == 0 {
		t.Fatal("detector options never loaded")
	}
	last := calls[len(calls)-1]
	if last.filters["stage_name"] != "FCCee" || last.filters["campaign_name"] != "winter2023" {
		t.Errorf("detector filters = %v", last.filters)
	}
	if _, ok := last.filters["detector_name"]; ok {
		t.Error("a facet must not filter by itself")
	}
}

func TestSelectClearsAllDescendants(t *testing.T) {
	loader := &mockLoader{}
	g := New(loader)
	ctx := context.Background()

	g.Select(ctx, "stage", "FCCee")
	g.Select(ctx, "campaign", "winter2023")
	g.Select(ctx, "detector", "IDEA")

	// Changing the root wipes selection and cache at every later position.
	loader.mu.Lock()
	loader.loadFn = func(context.Context, string, map[string]string) ([]catalogue.FacetOption, error) {
		return nil, errors.New("down")
	}
	loader.mu.Unlock()
	g.Select(ctx, "stage", "FCChh")

	if got := g.Selection("campaign"); got != "" {
		t.Errorf("campaign selection = %q, want cleared", got)
	}
	if got := g.Selection("detector"); got != "" {
		t.Errorf("detector selection = %q, want cleared", got)
	}
	if g.Selection("stage") != "FCChh" {
		t.Errorf("stage selection = %q", g.Selection("stage"))
	}
}

func TestClearSelectionBehavesLikeSelect(t *testing.T) {
	loader := &mockLoader{}
	g := New(loader)
	ctx := context.Background()

	g.Select(ctx, "stage", "FCCee")
	g.Select(ctx, "campaign", "winter2023")
	g.ClearSelection(ctx, "stage")

	if g.Selection("stage") != "" || g.Selection("campaign") != "" {
		t.Errorf("selections = %q/%q, want both cleared", g.Selection("stage"), g.Selection("campaign"))
	}

	// Reload after the clear no longer carries the stage filter.
	calls := loader.callsFor("campaign")
	last := calls[len(calls)-1]
	if len(last.filters) != 0 {
		t.Errorf("campaign filters after clear = %v", last.filters)
	}
}

func TestLoadFailureYieldsEmptyFailedState(t *testing.T) {
	loader := &mockLoader{
		loadFn: func(_ context.Context, facetType string, _ map[string]string) ([]catalogue.FacetOption, error) {
			if facetType == "campaign" {
				return nil, errors.New("boom")
			}
			return []catalogue.FacetOption{{ID: 1, Name: "x"}}, nil
		},
	}
	g := New(loader)
	g.LoadAll(context.Background())

	if got := g.Status("campaign"); got != StatusFailed {
		t.Errorf("campaign status = %v, want failed", got)
	}
	if opts := g.Options("campaign"); len(opts) != 0 {
		t.Errorf("campaign options = %v, want none", opts)
	}
	// Sibling loads are unaffected.
	if got := g.Status("stage"); got != StatusLoaded {
		t.Errorf("stage status = %v, want loaded", got)
	}
	if got := g.Status("detector"); got != StatusLoaded {
		t.Errorf("detector status = %v, want loaded", got)
	}
}

func TestAncestorChangeDiscardsInFlightLoad(t *testing.T) {
	release := make(chan struct{})
	started := make(chan loadCall, 8)
	loader := &mockLoader{
		started: started,
		loadFn: func(_ context.Context, facetType string, filters map[string]string) ([]catalogue.FacetOption, error) {
			if facetType == "campaign" && len(filters) == 0 {
				<-release
				return []catalogue.FacetOption{{ID: 99, Name: "stale"}}, nil
			}
			return []catalogue.FacetOption{{ID: 1, Name: "fresh"}}, nil
		},
	}
	g := New(loader)
	ctx := context.Background()

	// Start an unfiltered campaign load and hold it in flight.
	loadDone := make(chan struct{})
	go func() {
		g.Load(ctx, "campaign")
		close(loadDone)
	}()
	<-started

	// Ancestor change invalidates the in-flight load and re-triggers it.
	g.Select(ctx, "stage", "FCCee")
	close(release)
	<-loadDone

	opts := g.Options("campaign")
	if len(opts) != 1 || opts[0].Name != "fresh" {
		t.Errorf("campaign options = %v, want the re-triggered load's result", opts)
	}
}

func TestSpinnerDelaysVisibility(t *testing.T) {
	release := make(chan struct{})
	loader := &mockLoader{
		loadFn: func(context.Context, string, map[string]string) ([]catalogue.FacetOption, error) {
			<-release
			return nil, nil
		},
	}
	g := New(loader, WithSpinnerDelay(30*time.Millisecond))

	done := make(chan struct{})
	go func() {
		g.Load(context.Background(), "stage")
		close(done)
	}()

	// Immediately after starting, the fetch runs but the spinner stays hidden.
	time.Sleep(5 * time.Millisecond)
	if g.SpinnerVisible("stage") {
		t.Error("spinner visible before the delay elapsed")
	}

	time.Sleep(60 * time.Millisecond)
	if !g.SpinnerVisible("stage") {
		t.Error("spinner not visible after the delay elapsed")
	}

	close(release)
	<-done
	if g.SpinnerVisible("stage") {
		t.Error("spinner visible after the load finished")
	}
}

func TestDropdownExclusivity(t *testing.T) {
	g := New(&mockLoader{})

	g.OpenDropdown("stage")
	g.OpenDropdown("campaign")

	if g.DropdownOpen("stage") {
		t.Error("stage dropdown still open after opening campaign")
	}
	if !g.DropdownOpen("campaign") {
		t.Error("campaign dropdown not open")
	}

	g.CloseAll()
	if g.DropdownOpen("campaign") {
		t.Error("dropdown open after CloseAll")
	}
}

func TestSelectionsInHierarchyOrder(t *testing.T) {
	g := New(&mockLoader{})
	ctx := context.Background()

	g.Select(ctx, "stage", "FCCee")
	g.Select(ctx, "campaign", "winter2023")

	sels := g.Selections()
	if len(sels) != 2 || sels[0].Type != "stage" || sels[1].Type != "campaign" {
		t.Errorf("selections = %+v", sels)
	}
}

func TestUnknownFacet(t *testing.T) {
	g := New(&mockLoader{})
	if err := g.Select(context.Background(), "nope", "x"); err == nil {
		t.Error("expected error for unknown facet type")
	}
	if err := g.Load(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown facet type")
	}
}

func TestLoadCountsOutcomes(t *testing.T) {
	m := metrics.New()
	loader := &mockLoader{
		loadFn: func(ctx context.Context, facetType string, filters map[string]string) ([]catalogue.FacetOption, error) {
			if facetType == "detector" {
				return nil, errors.New("boom")
			}
			return []catalogue.FacetOption{{ID: 1, Name: "opt"}}, nil
		},
	}
	g := New(loader, WithMetrics(m))
	ctx := context.Background()

	if err := g.Load(ctx, "campaign"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := g.Load(ctx, "detector"); err == nil {
		t.Fatal("expected detector load to fail")
	}

	if got := testutil.ToFloat64(m.FacetLoadsTotal.WithLabelValues("campaign", "loaded")); got != 1 {
		t.Errorf("campaign loaded count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FacetLoadsTotal.WithLabelValues("detector", "failed")); got != 1 {
		t.Errorf("detector failed count = %v, want 1", got)
	}
}
