package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var placeholder = regexp.MustCompile(`\$\d+`)

// rebind rewrites $N placeholders into SQLite's positional form. Every query
// in this package binds its parameters in ascending order.
func rebind(query string) string {
	return placeholder.ReplaceAllString(query, "?")
}

// SQLiteStore is a single-file Repository for local runs.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required for sqlite")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Migrate creates the tables when absent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// SaveRun writes the run and its opportunities in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run, opps []OpportunityRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, rebind(insertRunSQL), runArgs(run)...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(opps) > 0 {
		stmt, err := tx.PrepareContext(ctx, rebind(insertOpportunitySQL))
		if err != nil {
			return fmt.Errorf("prepare opportunity insert: %w", err)
		}
		defer stmt.Close()
		for _, o := range opps {
			if _, err := stmt.ExecContext(ctx, opportunityArgs(o)...); err != nil {
				return fmt.Errorf("insert opportunity rank %d: %w", o.Rank, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, err
	}
	run, err := scanRun(db.QueryRowContext(ctx, rebind(getRunSQL), id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRecentRuns lists the most recent runs ordered by descending start.
func (s *SQLiteStore) ListRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, rebind(listRecentRunsSQL), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListOpportunities lists a run's opportunities by rank.
func (s *SQLiteStore) ListOpportunities(ctx context.Context, runID uuid.UUID, limit int) ([]OpportunityRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, rebind(listOpportunitiesSQL), runID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	opps := make([]OpportunityRecord, 0)
	for rows.Next() {
		rec, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		opps = append(opps, rec)
	}
	return opps, rows.Err()
}

// DeleteRunsBefore prunes historical runs together with their opportunities.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, olderThan time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, rebind(deleteOpportunitiesBeforeSQL), olderThan.UTC()); err != nil {
		return fmt.Errorf("delete opportunities before: %w", err)
	}
	if _, err := db.ExecContext(ctx, rebind(deleteRunsBeforeSQL), olderThan.UTC()); err != nil {
		return fmt.Errorf("delete runs before: %w", err)
	}
	return nil
}
