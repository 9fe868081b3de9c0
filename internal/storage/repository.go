package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("storage: run not found")
)

const (
	insertRunSQL = `INSERT INTO detection_runs (
        id,
        started_at,
        finished_at,
        fingerprint,
        events,
        candidates,
        min_profit,
        opportunities,
        total_profit,
        max_profit,
        from_cache
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    );`

	insertOpportunitySQL = `INSERT INTO opportunities (
        run_id,
        rank,
        ts,
        block_number,
        direction,
        price_onchain,
        price_offchain,
        spread_pct,
        trade_size,
        net_profit,
        roi_pct,
        risk_score,
        slip_onchain,
        slip_offchain,
        gas_cost,
        model
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
    );`

	runColumns = `id,
        started_at,
        finished_at,
        fingerprint,
        events,
        candidates,
        min_profit,
        opportunities,
        total_profit,
        max_profit,
        from_cache`

	opportunityColumns = `run_id,
        rank,
        ts,
        block_number,
        direction,
        price_onchain,
        price_offchain,
        spread_pct,
        trade_size,
        net_profit,
        roi_pct,
        risk_score,
        slip_onchain,
        slip_offchain,
        gas_cost,
        model`

	listRecentRunsSQL = `SELECT ` + runColumns + `
    FROM detection_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	getRunSQL = `SELECT ` + runColumns + `
    FROM detection_runs
    WHERE id = $1;`

	listOpportunitiesSQL = `SELECT ` + opportunityColumns + `
    FROM opportunities
    WHERE run_id = $1
    ORDER BY rank
    LIMIT $2;`

	deleteOpportunitiesBeforeSQL = `DELETE FROM opportunities
    WHERE run_id IN (SELECT id FROM detection_runs WHERE started_at < $1);`

	deleteRunsBeforeSQL = `DELETE FROM detection_runs WHERE started_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Repository persists detection runs and their ranked opportunities.
type Repository interface {
	Migrate(ctx context.Context) error
	SaveRun(ctx context.Context, run Run, opps []OpportunityRecord) error
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	ListRecentRuns(ctx context.Context, limit int) ([]Run, error)
	ListOpportunities(ctx context.Context, runID uuid.UUID, limit int) ([]OpportunityRecord, error)
	DeleteRunsBefore(ctx context.Context, olderThan time.Time) error
	Close()
}

// Store is the PostgreSQL Repository.
type Store struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Store)(nil)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed unlock is released with the session when the connection closes.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the tables when absent.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// SaveRun writes the run and its opportunities in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run, opps []OpportunityRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertRunSQL, runArgs(run)...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(opps) > 0 {
		batch := &pgx.Batch{}
		for _, o := range opps {
			batch.Queue(insertOpportunitySQL, opportunityArgs(o)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert opportunities: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	pool, err := s.getPool()
	if err != nil {
		return Run{}, err
	}
	run, err := scanRun(pool.QueryRow(ctx, getRunSQL, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRecentRuns lists the most recent runs ordered by descending start.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// ListOpportunities lists a run's opportunities by rank.
func (s *Store) ListOpportunities(ctx context.Context, runID uuid.UUID, limit int) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpportunitiesSQL, runID.String(), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list opportunities: %w", queryErr)
	}
	defer rows.Close()

	opps := make([]OpportunityRecord, 0)
	for rows.Next() {
		rec, scanErr := scanOpportunity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		opps = append(opps, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return opps, nil
}

// DeleteRunsBefore prunes historical runs together with their opportunities.
func (s *Store) DeleteRunsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteOpportunitiesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete opportunities before: %w", execErr)
	}
	if _, execErr := pool.Exec(ctx, deleteRunsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete runs before: %w", execErr)
	}
	return nil
}

// rowScanner is satisfied by pgx rows and database/sql rows alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func runArgs(run Run) []any {
	return []any{
		run.ID.String(),
		run.StartedAt,
		run.FinishedAt,
		run.Fingerprint,
		run.Events,
		run.Candidates,
		run.MinProfit.String(),
		run.Opportunities,
		run.TotalProfit.String(),
		run.MaxProfit.String(),
		run.FromCache,
	}
}

func opportunityArgs(o OpportunityRecord) []any {
	return []any{
		o.RunID.String(),
		o.Rank,
		o.Timestamp,
		o.BlockNumber,
		o.Direction,
		o.OnchainPrice.String(),
		o.OffchainPrice.String(),
		o.SpreadPct.String(),
		o.TradeSize.String(),
		o.NetProfit.String(),
		o.ROIPct.String(),
		o.RiskScore.String(),
		o.SlipOnchain.String(),
		o.SlipOffchain.String(),
		o.GasCost.String(),
		o.Model,
	}
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var idStr, minProfit, totalProfit, maxProfit string
	if err := row.Scan(
		&idStr,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Fingerprint,
		&run.Events,
		&run.Candidates,
		&minProfit,
		&run.Opportunities,
		&totalProfit,
		&maxProfit,
		&run.FromCache,
	); err != nil {
		return Run{}, err
	}

	var err error
	if run.ID, err = uuid.Parse(idStr); err != nil {
		return Run{}, fmt.Errorf("parse run id: %w", err)
	}
	if run.MinProfit, err = decimal.NewFromString(minProfit); err != nil {
		return Run{}, fmt.Errorf("parse min profit: %w", err)
	}
	if run.TotalProfit, err = decimal.NewFromString(totalProfit); err != nil {
		return Run{}, fmt.Errorf("parse total profit: %w", err)
	}
	if run.MaxProfit, err = decimal.NewFromString(maxProfit); err != nil {
		return Run{}, fmt.Errorf("parse max profit: %w", err)
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	return run, nil
}

func scanOpportunity(row rowScanner) (OpportunityRecord, error) {
	var (
		rec   OpportunityRecord
		runID string
		text  [10]string
	)
	if err := row.Scan(
		&runID,
		&rec.Rank,
		&rec.Timestamp,
		&rec.BlockNumber,
		&rec.Direction,
		&text[0],
		&text[1],
		&text[2],
		&text[3],
		&text[4],
		&text[5],
		&text[6],
		&text[7],
		&text[8],
		&text[9],
		&rec.Model,
	); err != nil {
		return OpportunityRecord{}, err
	}

	var err error
	if rec.RunID, err = uuid.Parse(runID); err != nil {
		return OpportunityRecord{}, fmt.Errorf("parse run id: %w", err)
	}
	targets := []*decimal.Decimal{
		&rec.OnchainPrice,
		&rec.OffchainPrice,
		&rec.SpreadPct,
		&rec.TradeSize,
		&rec.NetProfit,
		&rec.ROIPct,
		&rec.RiskScore,
		&rec.SlipOnchain,
		&rec.SlipOffchain,
		&rec.GasCost,
	}
	for i, dst := range targets {
		if *dst, err = decimal.NewFromString(text[i]); err != nil {
			return OpportunityRecord{}, fmt.Errorf("parse opportunity column %d: %w", i, err)
		}
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}
