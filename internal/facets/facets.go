// Package facets maintains the ordered chain of dependent navigation facets
// (Stage -> Campaign -> Detector by default). Each facet's option list is
// loaded filtered by its ancestors' selections; changing an ancestor wipes
// every descendant's selection and cached options.
package facets

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/metrics"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
)

// Type is one position in the facet hierarchy.
type Type struct {
	Name       string
	Label      string
	ClearLabel string
}

// DefaultHierarchy is the FCC catalogue's facet chain.
func DefaultHierarchy() []Type {
	return []Type{
		{Name: "stage", Label: "Stage", ClearLabel: "All stages"},
		{Name: "campaign", Label: "Campaign", ClearLabel: "All campaigns"},
		{Name: "detector", Label: "Detector", ClearLabel: "All detectors"},
	}
}

// Status is one facet type's load state.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoaded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// OptionLoader fetches one facet type's option list, filtered by ancestor
// selections keyed "<type>_name".
type OptionLoader interface {
	FacetOptions(ctx context.Context, facetType string, filters map[string]string) ([]catalogue.FacetOption, error)
}

type state struct {
	status       Status
	options      []catalogue.FacetOption
	selection    string
	open         bool
	spinner      bool
	spinnerTimer *time.Timer
	gen          uint64
}

// Graph owns the per-facet state machines.
type Graph struct {
	mu           sync.Mutex
	types        []Type
	index        map[string]int
	states       []*state
	loader       OptionLoader
	flight       singleflight.Group
	spinnerDelay time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	onChange     func()
}

// Option configures a Graph.
type Option func(*Graph)

// WithHierarchy replaces the default facet chain.
func WithHierarchy(types []Type) Option {
	return func(g *Graph) { g.types = types }
}

// WithSpinnerDelay sets how long a load must run before the loading indicator
// becomes visible. The fetch itself is never delayed.
func WithSpinnerDelay(d time.Duration) Option {
	return func(g *Graph) { g.spinnerDelay = d }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// WithMetrics attaches a collector set; loads stay unmetered otherwise.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Graph) { g.metrics = m }
}

// WithOnChange registers a callback invoked (outside the graph lock) after a
// selection changes. Consumers use it to re-run the search.
func WithOnChange(fn func()) Option {
	return func(g *Graph) { g.onChange = fn }
}

// New creates a Graph over the given loader.
func New(loader OptionLoader, opts ...Option) *Graph {
	g := &Graph{
		types:        DefaultHierarchy(),
		loader:       loader,
		spinnerDelay: 400 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.index = make(map[string]int, len(g.types))
	g.states = make([]*state, len(g.types))
	for i, t := range g.types {
		g.index[t.Name] = i
		g.states[i] = &state{}
	}
	return g
}

// Types returns the hierarchy in order.
func (g *Graph) Types() []Type {
	out := make([]Type, len(g.types))
	copy(out, g.types)
	return out
}

// Select sets the value at facet typeName, clears every descendant facet's
// selection and cached options, and reloads descendant option lists in
// parallel.
func (g *Graph) Select(ctx context.Context, typeName, value string) error {
	idx, err := g.position(typeName)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.states[idx].selection = value
	g.clearDescendantsLocked(idx)
	notify := g.onChange
	g.mu.Unlock()

	if notify != nil {
		notify()
	}
	g.reloadDescendants(ctx, idx)
	return nil
}

// ClearSelection removes the value at typeName; descendants are invalidated
// exactly as for Select.
func (g *Graph) ClearSelection(ctx context.Context, typeName string) error {
	return g.Select(ctx, typeName, "")
}

// clearDescendantsLocked wipes selection and cached options for every facet
// after position idx and invalidates their in-flight loads.
func (g *Graph) clearDescendantsLocked(idx int) {
	for i := idx + 1; i < len(g.states); i++ {
		st := g.states[i]
		st.selection = ""
		st.options = nil
		st.status = StatusIdle
		st.gen++
		st.spinner = false
		if st.spinnerTimer != nil {
			st.spinnerTimer.Stop()
			st.spinnerTimer = nil
		}
	}
}

func (g *Graph) reloadDescendants(ctx context.Context, idx int) {
	eg, ctx := errgroup.WithContext(ctx)
	for i := idx + 1; i < len(g.types); i++ {
		name := g.types[i].Name
		eg.Go(func() error {
			if err := g.Load(ctx, name); err != nil {
				g.logger.Warn("facet reload failed", "facet", name, "error", err)
			}
			return nil
		})
	}
	eg.Wait()
}

// LoadAll loads every facet's option list in parallel. Individual failures
// resolve to a failed facet with no options and do not block siblings.
func (g *Graph) LoadAll(ctx context.Context) {
	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range g.types {
		name := t.Name
		eg.Go(func() error {
			if err := g.Load(ctx, name); err != nil {
				g.logger.Warn("facet load failed", "facet", name, "error", err)
			}
			return nil
		})
	}
	eg.Wait()
}

// Load fetches typeName's option list filtered by its ancestors' current
// selections. An ancestor change while the fetch is in flight discards the
// result; the change's own reload supersedes it.
func (g *Graph) Load(ctx context.Context, typeName string) error {
	idx, err := g.position(typeName)
	if err != nil {
		return err
	}

	g.mu.Lock()
	st := g.states[idx]
	st.gen++
	gen := st.gen
	st.status = StatusLoading
	st.spinner = false
	if st.spinnerTimer != nil {
		st.spinnerTimer.Stop()
	}
	st.spinnerTimer = time.AfterFunc(g.spinnerDelay, func() {
		g.mu.Lock()
		if st.status == StatusLoading && st.gen == gen {
			st.spinner = true
		}
		g.mu.Unlock()
	})
	filters := g.ancestorFiltersLocked(idx)
	g.mu.Unlock()

	// Identical concurrent loads collapse into one fetch.
	key := flightKey(typeName, filters)
	v, err, _ := g.flight.Do(key, func() (any, error) {
		return g.loader.FacetOptions(ctx, typeName, filters)
	})

	g.mu.Lock()
	defer g.mu.Unlock()
	if st.gen != gen {
		// Superseded by an ancestor change.
		g.metrics.FacetLoad(typeName, "superseded")
		return nil
	}
	st.spinner = false
	if st.spinnerTimer != nil {
		st.spinnerTimer.Stop()
		st.spinnerTimer = nil
	}
	if err != nil {
		st.status = StatusFailed
		st.options = nil
		g.metrics.FacetLoad(typeName, "failed")
		return fmt.Errorf("loading %s options: %w", typeName, err)
	}
	st.status = StatusLoaded
	st.options = v.([]catalogue.FacetOption)
	g.metrics.FacetLoad(typeName, "loaded")
	return nil
}

// ancestorFiltersLocked builds the option-fetch filter from strict ancestors
// only; siblings and descendants never filter a facet's options.
func (g *Graph) ancestorFiltersLocked(idx int) map[string]string {
	filters := make(map[string]string)
	for i := 0; i < idx; i++ {
		if sel := g.states[i].selection; sel != "" {
			filters[g.types[i].Name+"_name"] = sel
		}
	}
	return filters
}

func flightKey(typeName string, filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(typeName)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
	}
	return b.String()
}

// Selections returns the non-empty facet selections in hierarchy order, ready
// for the query composer.
func (g *Graph) Selections() []query.Selection {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []query.Selection
	for i, t := range g.types {
		if sel := g.states[i].selection; sel != "" {
			out = append(out, query.Selection{Type: t.Name, Value: sel})
		}
	}
	return out
}

// Selection returns the current value at typeName ("" when unselected).
func (g *Graph) Selection(typeName string) string {
	idx, err := g.position(typeName)
	if err != nil {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[idx].selection
}

// Options returns a copy of typeName's cached option list.
func (g *Graph) Options(typeName string) []catalogue.FacetOption {
	idx, err := g.position(typeName)
	if err != nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.states[idx].options == nil {
		return nil
	}
	out := make([]catalogue.FacetOption, len(g.states[idx].options))
	copy(out, g.states[idx].options)
	return out
}

// Status returns typeName's load state.
func (g *Graph) Status(typeName string) Status {
	idx, err := g.position(typeName)
	if err != nil {
		return StatusIdle
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[idx].status
}

// SpinnerVisible reports whether the loading indicator for typeName should be
// shown. It only turns on once a load has outlived the spinner delay.
func (g *Graph) SpinnerVisible(typeName string) bool {
	idx, err := g.position(typeName)
	if err != nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[idx].spinner
}

// OpenDropdown opens typeName's dropdown and closes every other one.
func (g *Graph) OpenDropdown(typeName string) error {
	idx, err := g.position(typeName)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, st := range g.states {
		st.open = i == idx
	}
	return nil
}

// CloseAll closes every dropdown (outside click).
func (g *Graph) CloseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, st := range g.states {
		st.open = false
	}
}

// DropdownOpen reports whether typeName's dropdown is the open one.
func (g *Graph) DropdownOpen(typeName string) bool {
	idx, err := g.position(typeName)
	if err != nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[idx].open
}

// Close stops all pending spinner timers.
func (g *Graph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, st := range g.states {
		if st.spinnerTimer != nil {
			st.spinnerTimer.Stop()
			st.spinnerTimer = nil
		}
		st.gen++
	}
}

func (g *Graph) position(typeName string) (int, error) {
	idx, ok := g.index[typeName]
	if !ok {
		return 0, fmt.Errorf("unknown facet type %q", typeName)
	}
	return idx, nil
}
