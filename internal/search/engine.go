// Package search owns the result set and pagination for the catalogue UI:
// cancellable fetches, infinite-scroll append vs. paged replace, and the
// debounced query inputs. Exactly one in-flight fetch may ever apply its
// result; issuing a new fetch supersedes the previous one.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/metrics"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
)

// Mode selects the pagination strategy.
type Mode int

const (
	// ModeInfinite appends each further page to the loaded list.
	ModeInfinite Mode = iota
	// ModePaged replaces the list on every page change.
	ModePaged
)

func (m Mode) String() string {
	if m == ModePaged {
		return "paged"
	}
	return "infinite"
}

// Status is the engine's fetch state.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoadingMore
	StatusError
)

// ErrNotInfinite is returned when LoadMore is called in paged mode.
var ErrNotInfinite = errors.New("load-more is only valid in infinite-scroll mode")

// Searcher is the query endpoint the engine fetches from.
type Searcher interface {
	Search(ctx context.Context, req catalogue.SearchRequest) (*catalogue.SearchPage, error)
}

// Config bounds and seeds an Engine.
type Config struct {
	PageSize    int
	MinPageSize int
	MaxPageSize int
	Debounce    time.Duration
	Mode        Mode
	Sort        query.Sort
}

func (c *Config) applyDefaults() {
	if c.MinPageSize <= 0 {
		c.MinPageSize = 20
	}
	if c.MaxPageSize < c.MinPageSize {
		c.MaxPageSize = 1000
	}
	if c.PageSize <= 0 {
		c.PageSize = c.MinPageSize
	}
	if c.Debounce <= 0 {
		c.Debounce = 300 * time.Millisecond
	}
	if c.Sort == (query.Sort{}) {
		c.Sort = query.DefaultSort
	}
}

// Snapshot is a read-only view of the engine's state, safe to keep after the
// engine moves on.
type Snapshot struct {
	Records    []catalogue.Record
	Total      int
	Page       int
	PageSize   int
	TotalPages int
	HasMore    bool
	Mode       Mode
	Status     Status
	Err        string
	Available  bool
	// ResultVersion increments whenever the loaded set is replaced (new
	// search, page change, mode switch); consumers use it to clear
	// expansion state.
	ResultVersion uint64
	// RangeStart/RangeEnd are the 1-based display bounds; both zero when
	// nothing is loaded.
	RangeStart int
	RangeEnd   int
}

// IDs returns the loaded record identifiers in display order.
func (s Snapshot) IDs() []int64 {
	ids := make([]int64, len(s.Records))
	for i, r := range s.Records {
		ids[i] = r.ID
	}
	return ids
}

// Engine is the search state machine.
type Engine struct {
	mu      sync.Mutex
	client  Searcher
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	freeText   string
	selections []query.Selection
	sort       query.Sort
	mode       Mode

	records      []catalogue.Record
	total        int
	page         int
	pageSize     int
	loadedPages  map[int]struct{}
	endOfResults bool

	status    Status
	errMsg    string
	available bool

	gen           uint64
	cancel        context.CancelFunc
	resultVersion uint64

	debounce *Debouncer
	rootCtx  context.Context
	rootStop context.CancelFunc
	onUpdate func(Snapshot)
	closed   bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics attaches engine counters.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithOnUpdate registers a callback invoked with a fresh Snapshot after every
// applied state change. It runs outside the engine lock.
func WithOnUpdate(fn func(Snapshot)) EngineOption {
	return func(e *Engine) { e.onUpdate = fn }
}

// NewEngine creates an Engine over the given query endpoint.
func NewEngine(client Searcher, cfg Config, opts ...EngineOption) *Engine {
	cfg.applyDefaults()
	rootCtx, rootStop := context.WithCancel(context.Background())
	e := &Engine{
		client:      client,
		cfg:         cfg,
		logger:      slog.Default(),
		sort:        cfg.Sort,
		mode:        cfg.Mode,
		page:        1,
		pageSize:    cfg.PageSize,
		loadedPages: make(map[int]struct{}),
		available:   true,
		debounce:    NewDebouncer(cfg.Debounce),
		rootCtx:     rootCtx,
		rootStop:    rootStop,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SeedQueryState applies permalink-recovered state without fetching.
func (e *Engine) SeedQueryState(st query.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.freeText = st.Text
	e.sort = st.Sort
}

// SeedSelections applies facet-derived filters without scheduling a fetch,
// for callers that run an explicit search afterwards.
func (e *Engine) SeedSelections(sel []query.Selection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selections = append([]query.Selection(nil), sel...)
}

// QueryState returns the permalink-relevant portion of the current state.
func (e *Engine) QueryState() query.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return query.State{Text: e.freeText, Sort: e.sort}
}

// ExecuteSearch resets to page one, discards the loaded-pages set, cancels
// any in-flight fetch, and replaces the result set with the fresh response.
func (e *Engine) ExecuteSearch(ctx context.Context) error {
	e.mu.Lock()
	e.loadedPages = make(map[int]struct{})
	e.endOfResults = false
	e.mu.Unlock()
	return e.fetch(ctx, 1, false)
}

// LoadMore fetches the next page and appends it. Valid only in
// infinite-scroll mode; a no-op while a fetch is running, when the loaded
// pages already cover the next index, or when the end of results is reached.
func (e *Engine) LoadMore(ctx context.Context) error {
	e.mu.Lock()
	if e.mode != ModeInfinite {
		e.mu.Unlock()
		return ErrNotInfinite
	}
	if e.status == StatusLoading || e.status == StatusLoadingMore || !e.hasMoreLocked() {
		e.mu.Unlock()
		return nil
	}
	next := e.page + 1
	if _, done := e.loadedPages[next]; done {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.fetch(ctx, next, true)
}

// ToggleMode flips the pagination strategy. Leaving infinite scroll resets to
// page one and re-fetches as a replace; entering it keeps the current page.
func (e *Engine) ToggleMode(ctx context.Context) error {
	e.mu.Lock()
	if e.mode == ModePaged {
		e.mode = ModeInfinite
		e.mu.Unlock()
		e.publish()
		return nil
	}
	e.mode = ModePaged
	e.mu.Unlock()
	return e.ExecuteSearch(ctx)
}

// GoToPage fetches a specific page as a replace (paged mode navigation).
func (e *Engine) GoToPage(ctx context.Context, page int) error {
	e.mu.Lock()
	if page < 1 {
		page = 1
	}
	if tp := e.totalPagesLocked(); tp > 0 && page > tp {
		page = tp
	}
	e.loadedPages = make(map[int]struct{})
	e.endOfResults = false
	e.mu.Unlock()
	return e.fetch(ctx, page, false)
}

// SetPageSize clamps n to the deployment bounds, resets to page one, and
// re-fetches as a replace in either mode.
func (e *Engine) SetPageSize(ctx context.Context, n int) error {
	e.mu.Lock()
	n = clamp(n, e.cfg.MinPageSize, e.cfg.MaxPageSize)
	if n == e.pageSize {
		e.mu.Unlock()
		return nil
	}
	e.pageSize = n
	e.mu.Unlock()
	return e.ExecuteSearch(ctx)
}

// SetSort changes the sort order and re-fetches from page one.
func (e *Engine) SetSort(ctx context.Context, s query.Sort) error {
	e.mu.Lock()
	if s == e.sort {
		e.mu.Unlock()
		return nil
	}
	e.sort = s
	e.mu.Unlock()
	return e.ExecuteSearch(ctx)
}

// SetFreeText records the typed text and schedules a debounced search; the
// window resets on every call.
func (e *Engine) SetFreeText(text string) {
	e.mu.Lock()
	e.freeText = text
	ctx := e.rootCtx
	e.mu.Unlock()

	e.debounce.Trigger(func() {
		if err := e.ExecuteSearch(ctx); err != nil {
			e.logger.Warn("debounced search failed", "error", err)
		}
	})
}

// SetFacetSelections records facet-derived filters and schedules a debounced
// search, sharing the free-text debounce window.
func (e *Engine) SetFacetSelections(sel []query.Selection) {
	e.mu.Lock()
	e.selections = append([]query.Selection(nil), sel...)
	ctx := e.rootCtx
	e.mu.Unlock()

	e.debounce.Trigger(func() {
		if err := e.ExecuteSearch(ctx); err != nil {
			e.logger.Warn("debounced search failed", "error", err)
		}
	})
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Close cancels any in-flight fetch and pending debounce timers. The engine
// refuses further fetches afterwards.
func (e *Engine) Close() {
	e.debounce.Stop()
	e.mu.Lock()
	e.closed = true
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()
	e.rootStop()
}

// fetch issues one query-endpoint call for page. The generation check on both
// sides of the request guarantees a superseded fetch can never write results,
// no matter the order responses arrive in.
func (e *Engine) fetch(ctx context.Context, page int, appendMode bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.gen++
	gen := e.gen
	if e.cancel != nil {
		e.cancel()
		e.metrics.SearchSuperseded()
	}
	fctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	if appendMode {
		e.status = StatusLoadingMore
	} else {
		e.status = StatusLoading
	}
	req := catalogue.SearchRequest{
		Query:     query.Compose(e.freeText, e.selections),
		Limit:     e.pageSize,
		Offset:    (page - 1) * e.pageSize,
		SortField: e.sort.Field,
		SortOrder: e.sort.Order,
	}
	e.mu.Unlock()

	e.metrics.SearchIssued()
	res, err := e.client.Search(fctx, req)

	e.mu.Lock()
	if gen != e.gen {
		// A newer fetch owns the state now; this response is stale.
		e.mu.Unlock()
		return nil
	}
	cancel()
	e.cancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// The caller's own context was cancelled, not a supersession;
			// nothing is in flight any more.
			e.status = StatusIdle
			e.mu.Unlock()
			e.publish()
			return nil
		}
		e.metrics.SearchFailed()
		e.status = StatusError
		e.errMsg = userMessage(err)
		e.available = !errors.Is(err, catalogue.ErrUnavailable)
		if appendMode {
			// Keep what is loaded; stop further load-more retries.
			e.endOfResults = true
		} else {
			e.records = nil
			e.total = 0
			e.resultVersion++
		}
		e.mu.Unlock()
		e.publish()
		return fmt.Errorf("search fetch: %w", err)
	}

	e.status = StatusIdle
	e.errMsg = ""
	e.available = true
	e.loadedPages[page] = struct{}{}
	e.page = page
	e.total = res.Total
	if appendMode {
		e.records = append(e.records, res.Records...)
	} else {
		e.records = append([]catalogue.Record(nil), res.Records...)
		e.resultVersion++
	}
	if len(res.Records) < req.Limit {
		// A short page is the true end of results even when the server's
		// count claims otherwise.
		e.endOfResults = true
	}
	e.mu.Unlock()
	e.publish()
	return nil
}

// ApplyMetadata merges a saved metadata object into the loaded record and
// stamps its last-edited time. A record that scrolled out of the window is
// silently ignored.
func (e *Engine) ApplyMetadata(id int64, md map[string]any, editedAt time.Time) {
	e.mu.Lock()
	for i := range e.records {
		if e.records[i].ID == id {
			e.records[i].Metadata = md
			t := editedAt
			e.records[i].LastEdited = &t
			break
		}
	}
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) publish() {
	if e.onUpdate == nil {
		return
	}
	e.onUpdate(e.Snapshot())
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		Records:       append([]catalogue.Record(nil), e.records...),
		Total:         e.total,
		Page:          e.page,
		PageSize:      e.pageSize,
		TotalPages:    e.totalPagesLocked(),
		HasMore:       e.hasMoreLocked(),
		Mode:          e.mode,
		Status:        e.status,
		Err:           e.errMsg,
		Available:     e.available,
		ResultVersion: e.resultVersion,
	}
	s.RangeStart, s.RangeEnd = e.displayRangeLocked()
	return s
}

func (e *Engine) totalPagesLocked() int {
	if e.pageSize <= 0 || e.total <= 0 {
		return 0
	}
	return (e.total + e.pageSize - 1) / e.pageSize
}

func (e *Engine) hasMoreLocked() bool {
	if e.endOfResults {
		return false
	}
	return e.page < e.totalPagesLocked()
}

func (e *Engine) displayRangeLocked() (int, int) {
	if len(e.records) == 0 {
		return 0, 0
	}
	if e.mode == ModeInfinite {
		return 1, len(e.records)
	}
	start := (e.page-1)*e.pageSize + 1
	end := start + len(e.records) - 1
	return start, end
}

func clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// userMessage maps a fetch error onto the inline message shown next to the
// results, keeping the three failure classes distinguishable.
func userMessage(err error) string {
	var qerr *catalogue.QueryError
	switch {
	case errors.As(err, &qerr):
		return fmt.Sprintf("Query rejected: %s. Adjust the query and retry.", qerr.Message)
	case errors.Is(err, catalogue.ErrUnavailable):
		return "The catalogue backend is unreachable."
	default:
		return err.Error()
	}
}
