package catalogue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSearch(t *testing.T) {
	var gotQuery, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("q")
		gotLimit = r.URL.Query().Get("limit")
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": 1, "name": "a", "created_at": "2023-01-01T00:00:00Z"}},
			"total": 95,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	page, err := c.Search(context.Background(), SearchRequest{Query: "detector=IDEA", Limit: 20})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "detector=IDEA" || gotLimit != "20" {
		t.Errorf("sent q=%q limit=%q", gotQuery, gotLimit)
	}
	if page.Total != 95 || len(page.Records) != 1 {
		t.Errorf("page = %+v", page)
	}
}

func TestClientSearchQueryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": "malformed clause"},
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Search(context.Background(), SearchRequest{Query: "=broken", Limit: 20})
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("want QueryError, got %v", err)
	}
	if qerr.Message != "malformed clause" {
		t.Errorf("message = %q", qerr.Message)
	}
}

func TestClientSearchUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := NewClient(srv.URL).Search(context.Background(), SearchRequest{Query: "*", Limit: 20})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestClientSearchHonorsCancellation(t *testing.T) {
	entered := make(chan struct{})
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
		close(block)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewClient(srv.URL).Search(ctx, SearchRequest{Query: "*", Limit: 20})
		done <- err
	}()
	<-entered
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	<-block
}

func TestClientUpdateMetadataAuthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).UpdateMetadata(context.Background(), 1, map[string]any{"k": "v"})
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("want ErrAuthRequired, got %v", err)
	}
}

func TestClientUpdateMetadataTransportFailureIsAuthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	// A dead connection is indistinguishable from an auth redirect to a
	// different origin, so it routes into the login retry as well.
	_, err := NewClient(srv.URL).UpdateMetadata(context.Background(), 1, map[string]any{"k": "v"})
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("want ErrAuthRequired, got %v", err)
	}
}

func TestClientUpdateMetadataSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"id": 1, "name": "a", "created_at": "2023-01-01T00:00:00Z"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithToken("secret"))
	if _, err := c.UpdateMetadata(context.Background(), 1, map[string]any{"k": "v"}); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestClientFetchByIDsEmpty(t *testing.T) {
	c := NewClient("http://unused.invalid")
	records, err := c.FetchByIDs(context.Background(), nil)
	if err != nil || records != nil {
		t.Fatalf("FetchByIDs(nil) = %v, %v; want nil, nil", records, err)
	}
}
