package database

// schemas maps database names to their DDL. Every statement is idempotent
// so Migrate can run on every startup.
var schemas = map[string]string{
	"universe":  universeSchema,
	"portfolio": portfolioSchema,
	"decisions": decisionsSchema,
	"cache":     cacheSchema,
}

const universeSchema = `
CREATE TABLE IF NOT EXISTS profiles (
    asset_id            TEXT PRIMARY KEY,
    asset_class         TEXT NOT NULL,
    regime_index        TEXT NOT NULL DEFAULT 'SPY',
    regime_direction    TEXT NOT NULL DEFAULT 'BULL',
    vix_guard           INTEGER NOT NULL DEFAULT 1,
    event_guard         INTEGER NOT NULL DEFAULT 1,
    macro_guard         INTEGER NOT NULL DEFAULT 0,
    volume_features     INTEGER NOT NULL DEFAULT 1,
    benchmark_index     TEXT NOT NULL DEFAULT '',
    concentration_group TEXT NOT NULL DEFAULT '',
    broker              TEXT NOT NULL DEFAULT 'PAPER',
    tax_rate            REAL NOT NULL DEFAULT 0.0,
    data_source         TEXT NOT NULL DEFAULT 'tiingo',
    active              INTEGER NOT NULL DEFAULT 1,
    created_at          TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at          TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS prices (
    symbol TEXT NOT NULL,
    date   TEXT NOT NULL,
    open   REAL NOT NULL,
    high   REAL NOT NULL,
    low    REAL NOT NULL,
    close  REAL NOT NULL,
    volume REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_prices_symbol_date ON prices(symbol, date DESC);

CREATE TABLE IF NOT EXISTS macro_series (
    series_id TEXT NOT NULL,
    date      TEXT NOT NULL,
    value     REAL NOT NULL,
    PRIMARY KEY (series_id, date)
);

CREATE TABLE IF NOT EXISTS macro_sync (
    series_id TEXT PRIMARY KEY,
    synced_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS earnings_events (
    symbol     TEXT NOT NULL,
    event_date TEXT NOT NULL,
    source     TEXT NOT NULL DEFAULT 'projected',
    PRIMARY KEY (symbol, event_date)
);

CREATE TABLE IF NOT EXISTS earnings_sync (
    symbol    TEXT PRIMARY KEY,
    synced_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS economic_events (
    event_type  TEXT NOT NULL,
    event_date  TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (event_type, event_date)
);

CREATE TABLE IF NOT EXISTS economic_sync (
    id        INTEGER PRIMARY KEY CHECK (id = 1),
    synced_at TEXT NOT NULL
);
`

const portfolioSchema = `
CREATE TABLE IF NOT EXISTS account (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    cash        REAL NOT NULL DEFAULT 0,
    equity      REAL NOT NULL DEFAULT 0,
    peak_equity REAL NOT NULL DEFAULT 0,
    risk_status TEXT NOT NULL DEFAULT 'NORMAL',
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS positions (
    asset_id            TEXT PRIMARY KEY,
    size                REAL NOT NULL,
    entry_price         REAL NOT NULL,
    concentration_group TEXT NOT NULL DEFAULT '',
    risk_fraction       REAL NOT NULL DEFAULT 0,
    opened_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_orders (
    id                  TEXT PRIMARY KEY,
    run_id              TEXT NOT NULL,
    asset_id            TEXT NOT NULL,
    entry               REAL NOT NULL,
    stop                REAL NOT NULL,
    target              REAL NOT NULL,
    size                REAL NOT NULL,
    risk_fraction       REAL NOT NULL,
    concentration_group TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL DEFAULT 'PENDING',
    valid_until         TEXT NOT NULL,
    created_at          TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_pending_orders_status ON pending_orders(status);

CREATE TABLE IF NOT EXISTS cash_flows (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    amount      REAL NOT NULL,
    kind        TEXT NOT NULL,
    note        TEXT NOT NULL DEFAULT '',
    recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

const decisionsSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    run_date     TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'RUNNING',
    assets_total INTEGER NOT NULL DEFAULT 0,
    signals      INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    started_at   TEXT NOT NULL,
    finished_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_date ON runs(run_date DESC);

CREATE TABLE IF NOT EXISTS decisions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT NOT NULL,
    asset_id       TEXT NOT NULL,
    outcome        TEXT NOT NULL,
    reason         TEXT NOT NULL DEFAULT '',
    classification TEXT NOT NULL DEFAULT '',
    composite      REAL,
    guards         TEXT NOT NULL DEFAULT '[]',
    entry          REAL,
    stop           REAL,
    target         REAL,
    size           REAL,
    risk_fraction  REAL,
    reasoning      TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(run_id);
CREATE INDEX IF NOT EXISTS idx_decisions_asset ON decisions(asset_id, created_at DESC);
`

const cacheSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    run_id     TEXT PRIMARY KEY,
    run_date   TEXT NOT NULL,
    payload    BLOB NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_snapshots_date ON snapshots(run_date DESC);

CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    expires_at INTEGER NOT NULL DEFAULT 0
);
`
