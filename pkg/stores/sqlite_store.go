package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/harnessctl/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit is used by ListRuns when the filter has no limit.
const DefaultListLimit = 20

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate
// before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode for file
// databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if s.path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// SaveRun inserts the run or, when it was saved before, updates it. The
// orchestrator saves a run once it reaches a terminal status.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.Run) error {
	if run == nil || run.ID == "" {
		return engine.NewValidationError("run id is required", nil)
	}

	query := `
		INSERT INTO runs (
			id, project_id, config_path, dry_run, status, started_at, completed_at,
			total, created, existing, failed, report_path, error, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			total = excluded.total,
			created = excluded.created,
			existing = excluded.existing,
			failed = excluded.failed,
			report_path = excluded.report_path,
			error = excluded.error,
			recorded_at = excluded.recorded_at
	`

	var completedAt *time.Time
	if run.CompletedAt != nil {
		t := run.CompletedAt.UTC()
		completedAt = &t
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.ProjectID,
		run.ConfigPath,
		run.DryRun,
		string(run.Status),
		run.StartedAt.UTC(),
		completedAt,
		run.Summary.Total,
		run.Summary.Created,
		run.Summary.Existing,
		run.Summary.Failed,
		run.ReportPath,
		run.Error,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// SaveResults replaces the stored results of a run with results, keeping
// their order.
func (s *SQLiteStore) SaveResults(ctx context.Context, runID string, results []engine.OperationResult) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check run: %w", err)
	}
	if exists == 0 {
		return engine.NewNotFoundError(fmt.Sprintf("run not found: %s", runID), nil)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM operation_results WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO operation_results (
			run_id, position, resource_type, identifier, name, status, error, data, warnings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range results {
		data, err := marshalJSON(r.Data, "{}")
		if err != nil {
			return fmt.Errorf("failed to encode data of %s %s: %w", r.ResourceType, r.Identifier, err)
		}
		warnings, err := marshalJSON(r.Warnings, "[]")
		if err != nil {
			return fmt.Errorf("failed to encode warnings of %s %s: %w", r.ResourceType, r.Identifier, err)
		}

		if _, err := stmt.ExecContext(ctx,
			runID,
			i,
			r.ResourceType,
			r.Identifier,
			r.Name,
			string(r.Status),
			r.Error,
			data,
			warnings,
		); err != nil {
			return fmt.Errorf("failed to save result %s %s: %w", r.ResourceType, r.Identifier, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

const runColumns = `id, project_id, config_path, dry_run, status, started_at, completed_at,
	total, created, existing, failed, report_path, error`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*engine.Run, error) {
	run := &engine.Run{}
	var status string
	err := row.Scan(
		&run.ID,
		&run.ProjectID,
		&run.ConfigPath,
		&run.DryRun,
		&status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Summary.Total,
		&run.Summary.Created,
		&run.Summary.Existing,
		&run.Summary.Failed,
		&run.ReportPath,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	return run, nil
}

// GetRun retrieves a run by ID. A missing run yields a not_found error.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError(fmt.Sprintf("run not found: %s", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, recorded_at DESC LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return engine.NewNotFoundError(fmt.Sprintf("run not found: %s", id), nil)
	}

	return nil
}

// ListResults returns the results of a run in the order they were produced.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]engine.OperationResult, error) {
	query := `
		SELECT resource_type, identifier, name, status, error, data, warnings
		FROM operation_results
		WHERE run_id = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	results := []engine.OperationResult{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// ResourceHistory returns the most recent results for one resource across
// runs, newest first.
func (s *SQLiteStore) ResourceHistory(ctx context.Context, resourceType, identifier string, limit int) ([]ResourceHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT r.id, r.project_id,
			o.resource_type, o.identifier, o.name, o.status, o.error, o.data, o.warnings
		FROM operation_results o
		JOIN runs r ON r.id = o.run_id
		WHERE o.resource_type = ? AND o.identifier = ?
		ORDER BY r.started_at DESC, o.id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, resourceType, identifier, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource history: %w", err)
	}
	defer rows.Close()

	entries := []ResourceHistoryEntry{}
	for rows.Next() {
		var e ResourceHistoryEntry
		var status, data, warnings string
		if err := rows.Scan(
			&e.RunID,
			&e.ProjectID,
			&e.Result.ResourceType,
			&e.Result.Identifier,
			&e.Result.Name,
			&status,
			&e.Result.Error,
			&data,
			&warnings,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resource history: %w", err)
		}
		if err := decodeResult(&e.Result, status, data, warnings); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource history: %w", err)
	}

	return entries, nil
}

func scanResult(row rowScanner) (engine.OperationResult, error) {
	var (
		r                      engine.OperationResult
		status, data, warnings string
	)
	if err := row.Scan(
		&r.ResourceType,
		&r.Identifier,
		&r.Name,
		&status,
		&r.Error,
		&data,
		&warnings,
	); err != nil {
		return r, fmt.Errorf("failed to scan result: %w", err)
	}
	if err := decodeResult(&r, status, data, warnings); err != nil {
		return r, err
	}
	return r, nil
}

func decodeResult(r *engine.OperationResult, status, data, warnings string) error {
	r.Status = engine.ResultStatus(status)
	r.Success = r.Status != engine.ResultFailed

	if data != "" && data != "{}" && data != "null" {
		if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
			return fmt.Errorf("failed to decode data of %s %s: %w", r.ResourceType, r.Identifier, err)
		}
	}
	if warnings != "" && warnings != "[]" && warnings != "null" {
		if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
			return fmt.Errorf("failed to decode warnings of %s %s: %w", r.ResourceType, r.Identifier, err)
		}
	}
	return nil
}

func marshalJSON(v interface{}, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
