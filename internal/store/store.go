// Package store defines the record storage contract behind the reference
// catalogue server. Two backends implement it: an embedded SQLite database
// and PostgreSQL.
package store

import (
	"context"
	"errors"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
)

// ErrNotFound is returned for lookups and updates on a missing record.
var ErrNotFound = errors.New("record not found")

// Store is the read/write surface the catalogue server needs.
type Store interface {
	// Search returns one page of records matching q plus the total match
	// count for pagination.
	Search(ctx context.Context, q query.Parsed, sort query.Sort, limit, offset int) ([]catalogue.Record, int, error)
	// FacetOptions lists the distinct values of a facet type among records
	// matching the ancestor filters, alphabetically.
	FacetOptions(ctx context.Context, facet string, filters map[string]string) ([]catalogue.FacetOption, error)
	// GetByIDs fetches full records in the order ids gives them; missing
	// ids are skipped.
	GetByIDs(ctx context.Context, ids []int64) ([]catalogue.Record, error)
	// UpdateMetadata replaces a record's metadata document, stamps
	// last_edited, and returns the updated record.
	UpdateMetadata(ctx context.Context, id int64, metadata map[string]any) (*catalogue.Record, error)
	Close(ctx context.Context) error
}

// Inserter is the optional seeding surface; both backends provide it and the
// serve command uses it to load sample data.
type Inserter interface {
	Insert(ctx context.Context, rec catalogue.Record) (int64, error)
}

// facetColumns whitelists the facet types queryable as record columns.
var facetColumns = map[string]string{
	"stage":    "stage_name",
	"campaign": "campaign_name",
	"detector": "detector_name",
}

// FacetColumn maps a facet type to its records column; ok is false for
// unknown types, which callers must reject rather than interpolate.
func FacetColumn(facet string) (string, bool) {
	col, ok := facetColumns[facet]
	return col, ok
}

// sortColumns whitelists orderable fields.
var sortColumns = map[string]string{
	"created_at":  "created_at",
	"name":        "name",
	"last_edited": "last_edited",
	"id":          "id",
}

// SortClause resolves a sort request to a safe ORDER BY column and
// direction, falling back to the default ordering for anything unknown.
func SortClause(s query.Sort) (column, direction string) {
	column, ok := sortColumns[s.Field]
	if !ok {
		column = sortColumns[query.DefaultSort.Field]
	}
	direction = "DESC"
	if s.Order == "asc" {
		direction = "ASC"
	}
	return column, direction
}
