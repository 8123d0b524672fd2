package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/taxgraph/taxgraph/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// Every connection to :memory: gets its own database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store at path.
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

// Init opens the database connection and enables WAL mode and foreign keys.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_txlock=immediate&_time_format=sqlite",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds())
	if s.cfg.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

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

// CreateRun creates a new run record. Zero timestamps are set to now.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.StartedAt = run.StartedAt.UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}
	if run.Status == "" {
		run.Status = engine.RunStatusRunning
	}
	if run.Metadata == "" {
		run.Metadata = "{}"
	}

	targets, err := encodeStrings(run.Targets)
	if err != nil {
		return err
	}
	warnings, err := encodeStrings(run.Warnings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (
			id, config_path, policy_date, targets, status, row_count, warnings,
			started_at, completed_at, duration_ms, error, error_code, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.ConfigPath,
		run.PolicyDate,
		targets,
		string(run.Status),
		run.Rows,
		warnings,
		run.StartedAt,
		run.CompletedAt,
		run.Duration.Milliseconds(),
		run.Error,
		run.ErrorCode,
		run.Metadata,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// CompleteRun records the outcome of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, outcome RunOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("run status %s is not terminal", outcome.Status)
	}

	warnings, err := encodeStrings(outcome.Warnings)
	if err != nil {
		return err
	}

	var errMsg, errCode *string
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		errMsg = &msg
		if code := engine.CodeOf(outcome.Err); code != "" {
			errCode = &code
		}
	}

	query := `
		UPDATE runs
		SET status = ?, row_count = ?, warnings = ?, duration_ms = ?, error = ?, error_code = ?,
		    completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		string(outcome.Status),
		outcome.Rows,
		warnings,
		outcome.Duration.Milliseconds(),
		errMsg,
		errCode,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	return expectOneRow(result, id)
}

const runColumns = `
	id, config_path, policy_date, targets, status, row_count, warnings,
	started_at, completed_at, duration_ms, error, error_code, metadata,
	created_at, updated_at
`

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
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

// DeleteRun deletes a run and its node errors
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	return expectOneRow(result, id)
}

// AppendNodeErrors stores the node failures of a run, sorted by name.
func (s *SQLiteStore) AppendNodeErrors(ctx context.Context, runID string, errs map[string]*engine.NodeError) error {
	if len(errs) == 0 {
		return nil
	}

	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_node_errors (run_id, node, status, class, code, message, causes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, name := range names {
		ne := errs[name]

		var class, code *string
		if c, ok := engine.ClassOf(ne.Err); ok {
			cs := string(c)
			class = &cs
		}
		if c := engine.CodeOf(ne.Err); c != "" {
			code = &c
		}

		msg := ""
		if ne.Err != nil {
			msg = ne.Err.Error()
		}

		causes, err := encodeStrings(ne.Causes)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx, runID, name, string(ne.Status), class, code, msg, causes, now); err != nil {
			return fmt.Errorf("failed to append node error %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit node errors: %w", err)
	}
	return nil
}

// ListNodeErrors returns the node failures of a run in insertion order.
func (s *SQLiteStore) ListNodeErrors(ctx context.Context, runID string) ([]*NodeErrorRecord, error) {
	query := `
		SELECT id, run_id, node, status, class, code, message, causes, created_at
		FROM run_node_errors
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node errors: %w", err)
	}
	defer rows.Close()

	records := []*NodeErrorRecord{}
	for rows.Next() {
		rec := &NodeErrorRecord{}
		var status, causes string
		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Node,
			&status,
			&rec.Class,
			&rec.Code,
			&rec.Message,
			&causes,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node error: %w", err)
		}
		rec.Status = engine.NodeStatus(status)
		if rec.Causes, err = decodeStrings(causes); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node errors: %w", err)
	}

	return records, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		status, targets, warnings string
		durationMS                int64
	)
	err := row.Scan(
		&run.ID,
		&run.ConfigPath,
		&run.PolicyDate,
		&targets,
		&status,
		&run.Rows,
		&warnings,
		&run.StartedAt,
		&run.CompletedAt,
		&durationMS,
		&run.Error,
		&run.ErrorCode,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = engine.RunStatus(status)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if run.Targets, err = decodeStrings(targets); err != nil {
		return nil, err
	}
	if run.Warnings, err = decodeStrings(warnings); err != nil {
		return nil, err
	}
	return run, nil
}

func expectOneRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

func decodeStrings(s string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
