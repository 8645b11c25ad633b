// Package postgres is the shared-deployment storage backend for the
// reference catalogue server.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/store"
)

var _ store.Store = (*Client)(nil)

// Client wraps a pgx connection pool.
type Client struct {
	pool *pgxpool.Pool
}

// New connects to dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	c := &Client{pool: pool}
	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close(ctx context.Context) error {
	c.pool.Close()
	return nil
}

// ensureSchema creates the records table. IF NOT EXISTS keeps it idempotent
// across restarts.
func (c *Client) ensureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS records (
    id            BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    name          TEXT NOT NULL,
    stage_name    TEXT NOT NULL DEFAULT '',
    campaign_name TEXT NOT NULL DEFAULT '',
    detector_name TEXT NOT NULL DEFAULT '',
    metadata      JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_edited   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_records_stage ON records (stage_name);
CREATE INDEX IF NOT EXISTS idx_records_campaign ON records (campaign_name);
CREATE INDEX IF NOT EXISTS idx_records_detector ON records (detector_name);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON records (created_at);
CREATE INDEX IF NOT EXISTS idx_records_name ON records (name);
`
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

const recordColumns = "id, name, stage_name, campaign_name, detector_name, metadata, created_at, last_edited"

func buildWhere(q query.Parsed, argOffset int) (string, []any, error) {
	if q.MatchAll {
		return "", nil, nil
	}
	var conds []string
	var args []any
	n := argOffset
	for _, cl := range q.Clauses {
		col, ok := store.FacetColumn(cl.Type)
		if !ok {
			return "", nil, fmt.Errorf("unknown facet type %q", cl.Type)
		}
		n++
		conds = append(conds, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, cl.Value)
	}
	for _, t := range q.Terms {
		n++
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", n))
		args = append(args, "%"+t+"%")
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (c *Client) Search(ctx context.Context, q query.Parsed, st query.Sort, limit, offset int) ([]catalogue.Record, int, error) {
	where, args, err := buildWhere(q, 0)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := c.pool.QueryRow(ctx, "SELECT COUNT(*) FROM records"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting records: %w", err)
	}

	col, dir := store.SortClause(st)
	sql := fmt.Sprintf("SELECT %s FROM records%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d",
		recordColumns, where, col, dir, dir, len(args)+1, len(args)+2)
	rows, err := c.pool.Query(ctx, sql, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	records := []catalogue.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating records: %w", err)
	}
	return records, total, nil
}

func (c *Client) FacetOptions(ctx context.Context, facet string, filters map[string]string) ([]catalogue.FacetOption, error) {
	col, ok := store.FacetColumn(facet)
	if !ok {
		return nil, fmt.Errorf("unknown facet type %q", facet)
	}

	var conds []string
	var args []any
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fcol, ok := store.FacetColumn(k)
		if !ok {
			return nil, fmt.Errorf("unknown facet type %q", k)
		}
		args = append(args, filters[k])
		conds = append(conds, fmt.Sprintf("%s = $%d", fcol, len(args)))
	}
	conds = append(conds, col+" <> ''")

	sql := fmt.Sprintf("SELECT MIN(id), %s FROM records WHERE %s GROUP BY %s ORDER BY %s ASC",
		col, strings.Join(conds, " AND "), col, col)
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying facet options: %w", err)
	}
	defer rows.Close()

	options := []catalogue.FacetOption{}
	for rows.Next() {
		var o catalogue.FacetOption
		if err := rows.Scan(&o.ID, &o.Name); err != nil {
			return nil, fmt.Errorf("scanning facet option: %w", err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

func (c *Client) GetByIDs(ctx context.Context, ids []int64) ([]catalogue.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := c.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM records WHERE id = ANY($1)", recordColumns), ids)
	if err != nil {
		return nil, fmt.Errorf("querying records by id: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]catalogue.Record, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]catalogue.Record, 0, len(byID))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (c *Client) UpdateMetadata(ctx context.Context, id int64, metadata map[string]any) (*catalogue.Record, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("serializing metadata: %w", err)
	}

	tag, err := c.pool.Exec(ctx,
		"UPDATE records SET metadata = $1, last_edited = now() WHERE id = $2", raw, id)
	if err != nil {
		return nil, fmt.Errorf("updating metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}

	records, err := c.GetByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return &records[0], nil
}

// Insert adds a record and returns its assigned id.
func (c *Client) Insert(ctx context.Context, rec catalogue.Record) (int64, error) {
	raw := []byte("{}")
	if rec.Metadata != nil {
		var err error
		if raw, err = json.Marshal(rec.Metadata); err != nil {
			return 0, fmt.Errorf("serializing metadata: %w", err)
		}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err := c.pool.QueryRow(ctx, `
		INSERT INTO records (name, stage_name, campaign_name, detector_name, metadata, created_at, last_edited)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		rec.Name, rec.FacetLabels["stage"], rec.FacetLabels["campaign"], rec.FacetLabels["detector"],
		raw, createdAt, rec.LastEdited,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting record: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (catalogue.Record, error) {
	var rec catalogue.Record
	var stage, campaign, detector string
	var metadata []byte
	var createdAt time.Time
	var lastEdited *time.Time

	if err := row.Scan(&rec.ID, &rec.Name, &stage, &campaign, &detector, &metadata, &createdAt, &lastEdited); err != nil {
		return catalogue.Record{}, fmt.Errorf("scanning record: %w", err)
	}

	labels := make(map[string]string)
	if stage != "" {
		labels["stage"] = stage
	}
	if campaign != "" {
		labels["campaign"] = campaign
	}
	if detector != "" {
		labels["detector"] = detector
	}
	if len(labels) > 0 {
		rec.FacetLabels = labels
	}

	if len(metadata) > 0 && string(metadata) != "{}" {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return catalogue.Record{}, fmt.Errorf("parsing metadata for record %d: %w", rec.ID, err)
		}
	}

	rec.CreatedAt = createdAt.UTC()
	if lastEdited != nil {
		le := lastEdited.UTC()
		rec.LastEdited = &le
	}
	return rec, nil
}
