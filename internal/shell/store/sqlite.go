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

	"github.com/artpar/dahlia-deploy/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// A single connection keeps ":memory:" databases shared across queries.
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

// withForeignKeys enables foreign key enforcement, keeping any query
// parameters already present in dsn.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
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

// =============================================================================
// Rows
// =============================================================================

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type runRow struct {
	ID          string `db:"id"`
	Environment string `db:"environment"`
	Stages      string `db:"stages"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
	Succeeded   bool   `db:"succeeded"`
	FailedStage string `db:"failed_stage"`
}

type recordRow struct {
	RunID     string  `db:"run_id"`
	Seq       int     `db:"seq"`
	Timestamp float64 `db:"timestamp"`
	Action    string  `db:"action"`
	Status    string  `db:"status"`
	Details   string  `db:"details"`
}

func runToRow(run domain.PipelineRun) (runRow, error) {
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return runRow{}, err
	}
	return runRow{
		ID:          run.ID,
		Environment: run.Environment,
		Stages:      string(stages),
		StartedAt:   run.StartedAt.UTC().Format(timeLayout),
		FinishedAt:  run.FinishedAt.UTC().Format(timeLayout),
		Succeeded:   run.Succeeded,
		FailedStage: string(run.FailedStage),
	}, nil
}

func rowToRun(row runRow) (domain.PipelineRun, error) {
	var stages []domain.StageName
	if err := json.Unmarshal([]byte(row.Stages), &stages); err != nil {
		return domain.PipelineRun{}, fmt.Errorf("stages: %w", err)
	}
	for _, s := range stages {
		if !s.IsValid() {
			return domain.PipelineRun{}, fmt.Errorf("stages: unknown stage %q", s)
		}
	}
	failed := domain.StageName(row.FailedStage)
	if failed != "" && !failed.IsValid() {
		return domain.PipelineRun{}, fmt.Errorf("failed_stage: unknown stage %q", failed)
	}
	startedAt, err := time.Parse(time.RFC3339Nano, row.StartedAt)
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("started_at: %w", err)
	}
	finishedAt, err := time.Parse(time.RFC3339Nano, row.FinishedAt)
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("finished_at: %w", err)
	}
	return domain.PipelineRun{
		ID:          row.ID,
		Environment: row.Environment,
		Stages:      stages,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Succeeded:   row.Succeeded,
		FailedStage: failed,
	}, nil
}

// =============================================================================
// Run Operations
// =============================================================================

// SaveRun stores a finished run and its records in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run domain.PipelineRun, records []domain.ActionRecord) error {
	row, err := runToRow(run)
	if err != nil {
		return NewStoreError("SaveRun", "run", run.ID, "failed to serialize stages", ErrInvalidData)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("SaveRun", "run", run.ID, "failed to begin transaction", ErrTxFailed)
	}

	if err := saveRun(ctx, tx, row, records); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("SaveRun", "run", run.ID, fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("SaveRun", "run", run.ID, "failed to commit transaction", ErrTxFailed)
	}
	return nil
}

func saveRun(ctx context.Context, tx *sqlx.Tx, row runRow, records []domain.ActionRecord) error {
	query := `
		INSERT INTO runs (id, environment, stages, started_at, finished_at, succeeded, failed_stage)
		VALUES (:id, :environment, :stages, :started_at, :finished_at, :succeeded, :failed_stage)`

	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("SaveRun", "run", row.ID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("SaveRun", "run", row.ID, err.Error(), err)
	}

	recordQuery := `
		INSERT INTO action_records (run_id, seq, timestamp, action, status, details)
		VALUES (:run_id, :seq, :timestamp, :action, :status, :details)`

	for i, rec := range records {
		r := recordRow{
			RunID:     row.ID,
			Seq:       i,
			Timestamp: domain.EpochSeconds(rec.Timestamp),
			Action:    string(rec.Action),
			Status:    string(rec.Status),
			Details:   rec.Details,
		}
		if _, err := tx.NamedExecContext(ctx, recordQuery, r); err != nil {
			return NewStoreError("SaveRun", "run", row.ID, fmt.Sprintf("failed to save record %d: %v", i, err), err)
		}
	}
	return nil
}

// GetRun returns a run with its records.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var row runRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}

	run, err := rowToRun(row)
	if err != nil {
		return nil, NewStoreError("GetRun", "run", id, err.Error(), ErrInvalidData)
	}

	var rows []recordRow
	query := `SELECT * FROM action_records WHERE run_id = ? ORDER BY seq`
	if err := s.db.SelectContext(ctx, &rows, query, id); err != nil {
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}

	records := make([]domain.ActionRecord, len(rows))
	for i, r := range rows {
		records[i] = domain.ActionRecord{
			Timestamp: domain.FromEpochSeconds(r.Timestamp),
			Action:    domain.StageName(r.Action),
			Status:    domain.StageStatus(r.Status),
			Details:   r.Details,
		}
	}

	return &RunDetail{PipelineRun: run, Records: records}, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.PipelineRun, error) {
	opts = opts.Normalize()

	query := `SELECT * FROM runs`
	var args []any
	if opts.Environment != "" {
		query += ` WHERE environment = ?`
		args = append(args, opts.Environment)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	runs := make([]domain.PipelineRun, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(row)
		if err != nil {
			return nil, NewStoreError("ListRuns", "run", row.ID, err.Error(), ErrInvalidData)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// CountRuns returns the number of stored runs, optionally for one environment.
func (s *SQLiteStore) CountRuns(ctx context.Context, environment string) (int, error) {
	query := `SELECT COUNT(*) FROM runs`
	var args []any
	if environment != "" {
		query += ` WHERE environment = ?`
		args = append(args, environment)
	}

	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, NewStoreError("CountRuns", "run", "", err.Error(), err)
	}
	return n, nil
}
