package storage

// postgresSchema is applied by Migrate; statements are idempotent.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS detection_runs (
    id            TEXT PRIMARY KEY,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL,
    fingerprint   TEXT        NOT NULL,
    events        INTEGER     NOT NULL,
    candidates    INTEGER     NOT NULL,
    min_profit    NUMERIC     NOT NULL,
    opportunities INTEGER     NOT NULL,
    total_profit  NUMERIC     NOT NULL,
    max_profit    NUMERIC     NOT NULL,
    from_cache    BOOLEAN     NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS opportunities (
    run_id         TEXT        NOT NULL REFERENCES detection_runs (id) ON DELETE CASCADE,
    rank           INTEGER     NOT NULL,
    ts             TIMESTAMPTZ NOT NULL,
    block_number   BIGINT      NOT NULL,
    direction      TEXT        NOT NULL,
    price_onchain  NUMERIC     NOT NULL,
    price_offchain NUMERIC     NOT NULL,
    spread_pct     NUMERIC     NOT NULL,
    trade_size     NUMERIC     NOT NULL,
    net_profit     NUMERIC     NOT NULL,
    roi_pct        NUMERIC     NOT NULL,
    risk_score     NUMERIC     NOT NULL,
    slip_onchain   NUMERIC     NOT NULL,
    slip_offchain  NUMERIC     NOT NULL,
    gas_cost       NUMERIC     NOT NULL,
    model          TEXT        NOT NULL,
    PRIMARY KEY (run_id, rank)
);

CREATE INDEX IF NOT EXISTS detection_runs_started_idx ON detection_runs (started_at DESC);
`

// sqliteSchema mirrors postgresSchema with SQLite affinities. Decimal
// columns are TEXT so values round-trip exactly.
const sqliteSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS detection_runs (
    id            TEXT PRIMARY KEY,
    started_at    TIMESTAMP NOT NULL,
    finished_at   TIMESTAMP NOT NULL,
    fingerprint   TEXT      NOT NULL,
    events        INTEGER   NOT NULL,
    candidates    INTEGER   NOT NULL,
    min_profit    TEXT      NOT NULL,
    opportunities INTEGER   NOT NULL,
    total_profit  TEXT      NOT NULL,
    max_profit    TEXT      NOT NULL,
    from_cache    BOOLEAN   NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS opportunities (
    run_id         TEXT      NOT NULL REFERENCES detection_runs (id) ON DELETE CASCADE,
    rank           INTEGER   NOT NULL,
    ts             TIMESTAMP NOT NULL,
    block_number   INTEGER   NOT NULL,
    direction      TEXT      NOT NULL,
    price_onchain  TEXT      NOT NULL,
    price_offchain TEXT      NOT NULL,
    spread_pct     TEXT      NOT NULL,
    trade_size     TEXT      NOT NULL,
    net_profit     TEXT      NOT NULL,
    roi_pct        TEXT      NOT NULL,
    risk_score     TEXT      NOT NULL,
    slip_onchain   TEXT      NOT NULL,
    slip_offchain  TEXT      NOT NULL,
    gas_cost       TEXT      NOT NULL,
    model          TEXT      NOT NULL,
    PRIMARY KEY (run_id, rank)
);

CREATE INDEX IF NOT EXISTS detection_runs_started_idx ON detection_runs (started_at DESC);
`
