package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/broadcast"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/editor"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/facets"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/search"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/selection"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/server"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/store/sqlite"
)

const writeToken = "integration-write-token"

// newCatalogueFixture stands up the full reference stack: an in-memory store
// behind the real HTTP API, and a client pointed at it with no credentials.
func newCatalogueFixture(t *testing.T) (*catalogue.Client, *httptest.Server) {
	t.Helper()

	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close(context.Background()) })

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recs := []catalogue.Record{
		{Name: "zh_higgs_240gev", FacetLabels: map[string]string{"stage": "sim", "campaign": "winter2026", "detector": "idea"}, Metadata: map[string]any{"energy_gev": float64(240)}, CreatedAt: base},
		{Name: "ww_threshold_161gev", FacetLabels: map[string]string{"stage": "sim", "campaign": "winter2026", "detector": "cld"}, CreatedAt: base.Add(time.Hour)},
		{Name: "zpole_91gev", FacetLabels: map[string]string{"stage": "rec", "campaign": "spring2026", "detector": "idea"}, CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, rec := range recs {
		if _, err := st.Insert(context.Background(), rec); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	srv := httptest.NewServer(server.New(server.Deps{
		Store:  st,
		Broker: broadcast.NewBroker(),
		Token:  writeToken,
	}))
	t.Cleanup(srv.Close)

	return catalogue.NewClient(srv.URL), srv
}

func TestSearchEngineAgainstServer(t *testing.T) {
	client, _ := newCatalogueFixture(t)

	eng := search.NewEngine(client, search.Config{PageSize: 2, MinPageSize: 1, MaxPageSize: 10})
	defer eng.Close()

	if err := eng.ExecuteSearch(context.Background()); err != nil {
		t.Fatalf("ExecuteSearch: %v", err)
	}
	snap := eng.Snapshot()
	if snap.Total != 3 || len(snap.Records) != 2 {
		t.Fatalf("total=%d len=%d, want 3/2", snap.Total, len(snap.Records))
	}
	if snap.TotalPages != 2 || !snap.HasMore {
		t.Errorf("pagination: pages=%d hasMore=%v", snap.TotalPages, snap.HasMore)
	}
	// Newest first by default.
	if snap.Records[0].Name != "zpole_91gev" {
		t.Errorf("first record = %q", snap.Records[0].Name)
	}
}

func TestFacetGraphAgainstServer(t *testing.T) {
	client, _ := newCatalogueFixture(t)

	graph := facets.New(client)
	defer graph.Close()

	ctx := context.Background()
	if err := graph.Select(ctx, "stage", "sim"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := graph.Load(ctx, "campaign"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := graph.Options("campaign")
	if len(opts) != 1 || opts[0].Name != "winter2026" {
		t.Errorf("campaign options = %+v, want just winter2026", opts)
	}

	sel := graph.Selections()
	if len(sel) != 1 || sel[0] != (query.Selection{Type: "stage", Value: "sim"}) {
		t.Errorf("selections = %+v", sel)
	}
}

func TestDownloadAgainstServer(t *testing.T) {
	client, _ := newCatalogueFixture(t)

	page, err := client.Search(context.Background(), catalogue.SearchRequest{Query: "*", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	ids := make([]int64, len(page.Records))
	for i, r := range page.Records {
		ids[i] = r.ID
	}

	dir := t.TempDir()
	dl := selection.NewDownloader(client)
	path, err := dl.Download(context.Background(), ids, dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("file written to %s, want %s", path, dir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading download: %v", err)
	}
	var records []catalogue.Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("download is not a record array: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("downloaded %d records, want 3", len(records))
	}
}

// TestEditLoginRoundTrip drives the whole deferred-auth path: an
// unauthenticated save fails, the login completes out of band, the wait
// bridge republishes the signal locally, and the armed retry lands the edit
// with the fresh session token.
func TestEditLoginRoundTrip(t *testing.T) {
	client, srv := newCatalogueFixture(t)

	page, err := client.Search(context.Background(), catalogue.SearchRequest{Query: "higgs", Limit: 1})
	if err != nil || len(page.Records) == 0 {
		t.Fatalf("finding record: %v", err)
	}
	rec := page.Records[0]

	broker := broadcast.NewBroker()
	saved := make(chan catalogue.Record, 1)
	mgr := editor.NewManager(client, broker,
		editor.WithOnSaved(func(r catalogue.Record, _ time.Time) { saved <- r }),
	)
	defer mgr.Close()

	if _, err := mgr.EnterEdit(rec.ID, rec.Metadata); err != nil {
		t.Fatalf("EnterEdit: %v", err)
	}
	if err := mgr.SetBuffer(rec.ID, `{"energy_gev": 240, "status": "validated"}`); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}

	err = mgr.Save(context.Background(), rec.ID)
	if !errors.Is(err, catalogue.ErrAuthRequired) {
		t.Fatalf("unauthenticated save error = %v, want ErrAuthRequired", err)
	}

	// The bridge the edit command runs: wait on the catalogue, then republish
	// into the local broker.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		if werr := client.WaitLogin(ctx); werr == nil {
			broker.Publish(broadcast.TopicAuth, broadcast.LoginSuccess)
		}
	}()

	// Out-of-band login completes (normally in a browser).
	time.Sleep(100 * time.Millisecond)
	payload, _ := json.Marshal(map[string]string{"token": writeToken})
	resp, err := http.Post(srv.URL+"/api/login/complete", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("completing login: %v", err)
	}
	resp.Body.Close()

	select {
	case result := <-saved:
		if result.Metadata["status"] != "validated" {
			t.Errorf("saved metadata = %v", result.Metadata)
		}
		if result.LastEdited == nil {
			t.Error("last_edited not stamped after retry")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("edit never landed after login completed")
	}
	if mgr.Editing(rec.ID) {
		t.Error("session still open after successful retry")
	}
	if !strings.HasPrefix(client.LoginURL(), srv.URL) {
		t.Errorf("login URL %q not on catalogue origin", client.LoginURL())
	}
}
