package store

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
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	db, err := sqlx.Open("sqlite3", dsn+sep+"_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	return createRun(ctx, s.db, run)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, finishedAt time.Time, exitCode int, errMsg string) error {
	return finishRun(ctx, s.db, id, finishedAt, exitCode, errMsg)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	return listRuns(ctx, s.db, opts)
}

func (s *SQLiteStore) AddCheck(ctx context.Context, check *Check) error {
	return addCheck(ctx, s.db, check)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	return createRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) FinishRun(ctx context.Context, id string, finishedAt time.Time, exitCode int, errMsg string) error {
	return finishRun(ctx, s.tx, id, finishedAt, exitCode, errMsg)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	return listRuns(ctx, s.tx, opts)
}

func (s *txSQLiteStore) AddCheck(ctx context.Context, check *Check) error {
	return addCheck(ctx, s.tx, check)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID          string  `db:"id"`
	ComposeFile string  `db:"compose_file"`
	Command     string  `db:"command"`
	DockerHost  string  `db:"docker_host"`
	StartedAt   string  `db:"started_at"`
	FinishedAt  *string `db:"finished_at"`
	ExitCode    *int    `db:"exit_code"`
	Error       string  `db:"error"`
}

// checkRow represents a check row in the database.
type checkRow struct {
	ID         int64  `db:"id"`
	RunID      string `db:"run_id"`
	Service    string `db:"service"`
	Detector   string `db:"detector"`
	Ports      string `db:"ports"`
	Final      bool   `db:"final"`
	DurationMS int64  `db:"duration_ms"`
	Error      string `db:"error"`
}

func createRun(ctx context.Context, exec executor, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `
		INSERT INTO runs (
			id, compose_file, command, docker_host, started_at, error
		) VALUES (
			:id, :compose_file, :command, :docker_host, :started_at, :error
		)`

	row := map[string]any{
		"id":           run.ID,
		"compose_file": run.ComposeFile,
		"command":      run.Command,
		"docker_host":  run.DockerHost,
		"started_at":   formatTime(run.StartedAt),
		"error":        run.Error,
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("CreateRun", "run", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}

	return nil
}

func finishRun(ctx context.Context, exec executor, id string, finishedAt time.Time, exitCode int, errMsg string) error {
	query := `UPDATE runs SET finished_at = ?, exit_code = ?, error = ? WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, formatTime(finishedAt), exitCode, errMsg, id)
	if err != nil {
		return NewStoreError("FinishRun", "run", id, err.Error(), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("FinishRun", "run", id, err.Error(), err)
	}
	if rows == 0 {
		return NewStoreError("FinishRun", "run", id, "run not found", ErrNotFound)
	}

	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*Run, error) {
	var row runRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}

	var checks []checkRow
	err = exec.SelectContext(ctx, &checks, `SELECT * FROM checks WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, NewStoreError("GetRun", "check", id, err.Error(), err)
	}

	run := rowToRun(&row)
	for _, c := range checks {
		check, err := rowToCheck(&c)
		if err != nil {
			return nil, err
		}
		run.Checks = append(run.Checks, *check)
	}

	return run, nil
}

func listRuns(ctx context.Context, exec executor, opts ListOptions) ([]Run, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`

	var rows []runRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, *rowToRun(&row))
	}

	return runs, nil
}

func addCheck(ctx context.Context, exec executor, check *Check) error {
	portsJSON, err := json.Marshal(check.Ports)
	if err != nil {
		return NewStoreError("AddCheck", "check", check.RunID, "failed to serialize ports", ErrInvalidData)
	}

	query := `
		INSERT INTO checks (
			run_id, service, detector, ports, final, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := exec.ExecContext(ctx, query,
		check.RunID,
		check.Service,
		check.Detector,
		string(portsJSON),
		check.Final,
		check.Duration.Milliseconds(),
		check.Error,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("AddCheck", "check", check.RunID, "run does not exist", ErrForeignKey)
		}
		return NewStoreError("AddCheck", "check", check.RunID, err.Error(), err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return NewStoreError("AddCheck", "check", check.RunID, err.Error(), err)
	}
	check.ID = id

	return nil
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// rowToRun converts a database row to a Run.
func rowToRun(row *runRow) *Run {
	var finishedAt *time.Time
	if row.FinishedAt != nil && *row.FinishedAt != "" {
		t := parseTime(*row.FinishedAt)
		finishedAt = &t
	}

	return &Run{
		ID:          row.ID,
		ComposeFile: row.ComposeFile,
		Command:     row.Command,
		DockerHost:  row.DockerHost,
		StartedAt:   parseTime(row.StartedAt),
		FinishedAt:  finishedAt,
		ExitCode:    row.ExitCode,
		Error:       row.Error,
	}
}

// rowToCheck converts a database row to a Check.
func rowToCheck(row *checkRow) (*Check, error) {
	var ports []int
	if row.Ports != "" && row.Ports != "null" {
		if err := json.Unmarshal([]byte(row.Ports), &ports); err != nil {
			return nil, NewStoreError("rowToCheck", "check", row.RunID, "failed to parse ports", ErrInvalidData)
		}
	}

	return &Check{
		ID:       row.ID,
		RunID:    row.RunID,
		Service:  row.Service,
		Detector: row.Detector,
		Ports:    ports,
		Final:    row.Final,
		Duration: time.Duration(row.DurationMS) * time.Millisecond,
		Error:    row.Error,
	}, nil
}
