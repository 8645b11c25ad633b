package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func seed(t *testing.T, s *Store) []int64 {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []catalogue.Record{
		{Name: "zh_higgs_240gev", FacetLabels: map[string]string{"stage": "sim", "campaign": "winter2026", "detector": "idea"}, CreatedAt: base},
		{Name: "ww_threshold_161gev", FacetLabels: map[string]string{"stage": "sim", "campaign": "winter2026", "detector": "cld"}, CreatedAt: base.Add(time.Hour)},
		{Name: "zpole_91gev", FacetLabels: map[string]string{"stage": "sim", "campaign": "spring2026", "detector": "idea"}, CreatedAt: base.Add(2 * time.Hour)},
		{Name: "zh_higgs_365gev", FacetLabels: map[string]string{"stage": "rec", "campaign": "winter2026", "detector": "idea"}, CreatedAt: base.Add(3 * time.Hour)},
		{Name: "tt_pair_350gev", FacetLabels: map[string]string{"stage": "rec"}, CreatedAt: base.Add(4 * time.Hour), Metadata: map[string]any{"events": float64(1000000)}},
	}
	ids := make([]int64, len(recs))
	for i, rec := range recs {
		id, err := s.Insert(context.Background(), rec)
		if err != nil {
			t.Fatalf("seeding record %q: %v", rec.Name, err)
		}
		ids[i] = id
	}
	return ids
}

func TestSearchMatchAll(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	recs, total, err := s.Search(context.Background(), query.Parsed{MatchAll: true}, query.DefaultSort, 3, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(recs) != 3 {
		t.Fatalf("page size = %d, want 3", len(recs))
	}
	// Default sort is created_at descending.
	if recs[0].Name != "tt_pair_350gev" {
		t.Errorf("first record = %q, want newest", recs[0].Name)
	}
}

func TestSearchFacetAndText(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	q := query.Parsed{
		Clauses: []query.Selection{{Type: "stage", Value: "sim"}},
		Terms:   []string{"higgs"},
	}
	recs, total, err := s.Search(context.Background(), q, query.DefaultSort, 20, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || len(recs) != 1 {
		t.Fatalf("got %d records (total %d), want 1", len(recs), total)
	}
	if recs[0].Name != "zh_higgs_240gev" {
		t.Errorf("record = %q, want zh_higgs_240gev", recs[0].Name)
	}
	if recs[0].FacetLabels["detector"] != "idea" {
		t.Errorf("detector label = %q, want idea", recs[0].FacetLabels["detector"])
	}
}

func TestSearchSortAscending(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	recs, _, err := s.Search(context.Background(), query.Parsed{MatchAll: true}, query.Sort{Field: "name", Order: "asc"}, 20, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if recs[0].Name != "tt_pair_350gev" || recs[len(recs)-1].Name != "zpole_91gev" {
		t.Errorf("unexpected name ordering: first %q, last %q", recs[0].Name, recs[len(recs)-1].Name)
	}
}

func TestSearchUnknownFacetRejected(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	q := query.Parsed{Clauses: []query.Selection{{Type: "accelerator", Value: "fcc"}}}
	if _, _, err := s.Search(context.Background(), q, query.DefaultSort, 20, 0); err == nil {
		t.Fatal("Search accepted an unknown facet type")
	}
}

func TestFacetOptionsNarrowedByFilters(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	all, err := s.FacetOptions(context.Background(), "campaign", nil)
	if err != nil {
		t.Fatalf("FacetOptions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered campaigns = %d, want 2", len(all))
	}

	narrowed, err := s.FacetOptions(context.Background(), "detector", map[string]string{"stage": "sim", "campaign": "spring2026"})
	if err != nil {
		t.Fatalf("FacetOptions: %v", err)
	}
	if len(narrowed) != 1 || narrowed[0].Name != "idea" {
		t.Errorf("narrowed detectors = %+v, want just idea", narrowed)
	}
}

func TestFacetOptionsSkipEmptyValues(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	// tt_pair_350gev has no detector; it must not surface an empty option.
	opts, err := s.FacetOptions(context.Background(), "detector", map[string]string{"stage": "rec"})
	if err != nil {
		t.Fatalf("FacetOptions: %v", err)
	}
	for _, o := range opts {
		if o.Name == "" {
			t.Error("empty facet value surfaced as an option")
		}
	}
}

func TestGetByIDsPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ids := seed(t, s)

	want := []int64{ids[3], ids[0], 9999, ids[2]}
	recs, err := s.GetByIDs(context.Background(), want)
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3 (missing id skipped)", len(recs))
	}
	if recs[0].ID != ids[3] || recs[1].ID != ids[0] || recs[2].ID != ids[2] {
		t.Errorf("order not preserved: %d, %d, %d", recs[0].ID, recs[1].ID, recs[2].ID)
	}
}

func TestUpdateMetadata(t *testing.T) {
	s := newTestStore(t)
	ids := seed(t, s)

	rec, err := s.UpdateMetadata(context.Background(), ids[0], map[string]any{"status": "validated"})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if rec.Metadata["status"] != "validated" {
		t.Errorf("metadata = %v, want status=validated", rec.Metadata)
	}
	if rec.LastEdited == nil {
		t.Error("last_edited not stamped")
	}

	if _, err := s.UpdateMetadata(context.Background(), 9999, map[string]any{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing record error = %v, want ErrNotFound", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
