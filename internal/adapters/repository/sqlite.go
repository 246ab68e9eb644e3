package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/okian/raidsync/internal/domain/model"
)

const defaultBusyTimeoutMs = 5000

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps summaries and encounters in a single SQLite file.
// Encounter entity data is stored as a msgpack blob.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	cfg := sqliteSettings{busyTimeoutMs: defaultBusyTimeoutMs}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.busyTimeoutMs),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	if err := migrateDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateDB(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: init source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return fmt.Errorf("migrate: init db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// CreateSummary implements Store.
func (s *SQLiteStore) CreateSummary(ctx context.Context, sum model.Summary) error {
	defer observe("create_summary", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO summaries
		(id, association, association_digest, zone_id, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.Association.String(), sum.Association.Digest(), sum.ZoneID,
		string(sum.Status), sum.Error, sum.CreatedAt.UnixNano(), sum.UpdatedAt.UnixNano())
	if isConstraint(err) {
		return fmt.Errorf("%w: summary %s", ErrExists, sum.ID)
	}
	if err != nil {
		return fmt.Errorf("insert summary %s: %w", sum.ID, err)
	}
	for i, u := range sum.Uploaders {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summary_uploaders (summary_id, position, identity, local_player) VALUES (?, ?, ?, ?)`,
			sum.ID, i, u.Identity, u.LocalPlayer); err != nil {
			return fmt.Errorf("insert uploader for %s: %w", sum.ID, err)
		}
	}
	return tx.Commit()
}

// AttributeUploader implements Store.
func (s *SQLiteStore) AttributeUploader(ctx context.Context, recordID string, u model.Uploader) error {
	defer observe("attribute_uploader", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE summaries SET updated_at = ? WHERE id = ?`, time.Now().UnixNano(), recordID)
	if err != nil {
		return fmt.Errorf("touch summary %s: %w", recordID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: summary %s", ErrNotFound, recordID)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO summary_uploaders (summary_id, position, identity, local_player)
		VALUES (?, (SELECT COALESCE(MAX(position) + 1, 0) FROM summary_uploaders WHERE summary_id = ?), ?, ?)`,
		recordID, recordID, u.Identity, u.LocalPlayer); err != nil {
		return fmt.Errorf("insert uploader for %s: %w", recordID, err)
	}
	return tx.Commit()
}

// SetSummaryStatus implements Store.
func (s *SQLiteStore) SetSummaryStatus(ctx context.Context, recordID string, status model.Status, errText string) error {
	defer observe("set_summary_status", time.Now())
	res, err := s.db.ExecContext(ctx, `UPDATE summaries SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errText, time.Now().UnixNano(), recordID)
	if err != nil {
		return fmt.Errorf("update summary %s: %w", recordID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: summary %s", ErrNotFound, recordID)
	}
	return nil
}

// SaveEncounter implements Store.
func (s *SQLiteStore) SaveEncounter(ctx context.Context, enc model.Encounter) error {
	defer observe("save_encounter", time.Now())
	payload, err := msgpack.Marshal(&enc)
	if err != nil {
		return fmt.Errorf("encode encounter: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO encounters (id, association, zone_id, started_on, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		enc.ID, enc.Association.String(), enc.ZoneID, enc.StartedOn, payload, enc.CreatedAt.UnixNano())
	if isConstraint(err) {
		return fmt.Errorf("%w: encounter %s", ErrExists, enc.ID)
	}
	if err != nil {
		return fmt.Errorf("insert encounter %s: %w", enc.ID, err)
	}
	return nil
}

// Summary implements Store.
func (s *SQLiteStore) Summary(ctx context.Context, recordID string) (model.Summary, error) {
	defer observe("summary", time.Now())
	return s.querySummary(ctx, `SELECT id, association, zone_id, status, error, created_at, updated_at
		FROM summaries WHERE id = ?`, recordID)
}

// SummaryByAssociation implements Store.
func (s *SQLiteStore) SummaryByAssociation(ctx context.Context, association model.Association) (model.Summary, error) {
	defer observe("summary", time.Now())
	return s.querySummary(ctx, `SELECT id, association, zone_id, status, error, created_at, updated_at
		FROM summaries WHERE association_digest = ? AND association = ?
		ORDER BY created_at DESC LIMIT 1`, association.Digest(), association.String())
}

func (s *SQLiteStore) querySummary(ctx context.Context, query string, args ...any) (model.Summary, error) {
	var (
		sum                  model.Summary
		assoc, status        string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&sum.ID, &assoc, &sum.ZoneID, &status, &sum.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Summary{}, fmt.Errorf("%w: summary %v", ErrNotFound, args[0])
	}
	if err != nil {
		return model.Summary{}, fmt.Errorf("load summary: %w", err)
	}
	sum.Association = model.Association(assoc)
	sum.Status = model.Status(status)
	sum.CreatedAt = time.Unix(0, createdAt)
	sum.UpdatedAt = time.Unix(0, updatedAt)

	rows, err := s.db.QueryContext(ctx, `SELECT identity, local_player FROM summary_uploaders
		WHERE summary_id = ? ORDER BY position`, sum.ID)
	if err != nil {
		return model.Summary{}, fmt.Errorf("load uploaders %s: %w", sum.ID, err)
	}
	defer rows.Close()
	sum.Uploaders = []model.Uploader{}
	for rows.Next() {
		var u model.Uploader
		if err := rows.Scan(&u.Identity, &u.LocalPlayer); err != nil {
			return model.Summary{}, fmt.Errorf("scan uploader %s: %w", sum.ID, err)
		}
		sum.Uploaders = append(sum.Uploaders, u)
	}
	if err := rows.Err(); err != nil {
		return model.Summary{}, fmt.Errorf("iterate uploaders %s: %w", sum.ID, err)
	}
	return sum, nil
}

// Encounter implements Store.
func (s *SQLiteStore) Encounter(ctx context.Context, recordID string) (model.Encounter, error) {
	defer observe("encounter", time.Now())
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM encounters WHERE id = ?`, recordID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Encounter{}, fmt.Errorf("%w: encounter %s", ErrNotFound, recordID)
	}
	if err != nil {
		return model.Encounter{}, fmt.Errorf("load encounter %s: %w", recordID, err)
	}
	var enc model.Encounter
	if err := msgpack.Unmarshal(payload, &enc); err != nil {
		return model.Encounter{}, fmt.Errorf("decode encounter %s: %w", recordID, err)
	}
	return enc, nil
}

// CountEncounters implements Store.
func (s *SQLiteStore) CountEncounters(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM encounters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count encounters: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
