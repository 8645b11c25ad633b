// Package sqlite is the embedded storage backend for the reference catalogue
// server. It keeps the whole dataset in a single database file and is the
// default for local development.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ store.Store = (*Store)(nil)

// Store wraps a SQLite database holding the record catalogue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "fccsearch.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

const recordColumns = "id, name, stage_name, campaign_name, detector_name, metadata, created_at, last_edited"

// buildWhere translates a parsed query into a WHERE clause. Facet clauses
// become exact column matches, free-text terms substring matches on the name.
func buildWhere(q query.Parsed) (string, []any, error) {
	if q.MatchAll {
		return "", nil, nil
	}
	var conds []string
	var args []any
	for _, c := range q.Clauses {
		col, ok := store.FacetColumn(c.Type)
		if !ok {
			return "", nil, fmt.Errorf("unknown facet type %q", c.Type)
		}
		conds = append(conds, col+" = ?")
		args = append(args, c.Value)
	}
	for _, t := range q.Terms {
		conds = append(conds, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(t)+"%")
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (s *Store) Search(ctx context.Context, q query.Parsed, st query.Sort, limit, offset int) ([]catalogue.Record, int, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting records: %w", err)
	}

	col, dir := store.SortClause(st)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM records%s ORDER BY %s %s, id %s LIMIT ? OFFSET ?", recordColumns, where, col, dir, dir),
		append(args, limit, offset)...,
	)
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
	return records, total, rows.Err()
}

func (s *Store) FacetOptions(ctx context.Context, facet string, filters map[string]string) ([]catalogue.FacetOption, error) {
	col, ok := store.FacetColumn(facet)
	if !ok {
		return nil, fmt.Errorf("unknown facet type %q", facet)
	}

	var conds []string
	var args []any
	// Deterministic clause order; filter keys hash randomly.
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
		conds = append(conds, fcol+" = ?")
		args = append(args, filters[k])
	}
	conds = append(conds, col+" != ''")

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT MIN(id), %s FROM records WHERE %s GROUP BY %s ORDER BY %s ASC",
			col, strings.Join(conds, " AND "), col, col),
		args...,
	)
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

func (s *Store) GetByIDs(ctx context.Context, ids []int64) ([]catalogue.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat(",?", len(ids)-1)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM records WHERE id IN (?%s)", recordColumns, placeholders),
		args...,
	)
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

	// Preserve the caller's order.
	records := make([]catalogue.Record, 0, len(byID))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *Store) UpdateMetadata(ctx context.Context, id int64, metadata map[string]any) (*catalogue.Record, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("serializing metadata: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET metadata = ?, last_edited = ? WHERE id = ?",
		string(raw), now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}

	records, err := s.GetByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return &records[0], nil
}

// Insert adds a record and returns its assigned id. Used by tests and the
// serve command's seeding.
func (s *Store) Insert(ctx context.Context, rec catalogue.Record) (int64, error) {
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
	var lastEdited any
	if rec.LastEdited != nil {
		lastEdited = rec.LastEdited.UTC().Format(time.RFC3339)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records (name, stage_name, campaign_name, detector_name, metadata, created_at, last_edited)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.FacetLabels["stage"], rec.FacetLabels["campaign"], rec.FacetLabels["detector"],
		string(raw), createdAt.UTC().Format(time.RFC3339), lastEdited,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting record: %w", err)
	}
	return res.LastInsertId()
}

func scanRecord(rows *sql.Rows) (catalogue.Record, error) {
	var rec catalogue.Record
	var stage, campaign, detector, metadata, createdAt string
	var lastEdited sql.NullString

	if err := rows.Scan(&rec.ID, &rec.Name, &stage, &campaign, &detector, &metadata, &createdAt, &lastEdited); err != nil {
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

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return catalogue.Record{}, fmt.Errorf("parsing metadata for record %d: %w", rec.ID, err)
		}
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return catalogue.Record{}, fmt.Errorf("parsing created_at for record %d: %w", rec.ID, err)
	}
	rec.CreatedAt = t

	if lastEdited.Valid {
		le, err := time.Parse(time.RFC3339, lastEdited.String)
		if err != nil {
			return catalogue.Record{}, fmt.Errorf("parsing last_edited for record %d: %w", rec.ID, err)
		}
		rec.LastEdited = &le
	}
	return rec, nil
}
