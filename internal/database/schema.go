package database

import (
	"database/sql"
	"fmt"

	"github.com/aristath/casterly/internal/domain"
)

// sourceSchema holds the market-side tables. The simulator only ever reads
// from these; they are populated by an external ingestion process.
const sourceSchema = `
-- Trading movements (one row per closed trade)
CREATE TABLE IF NOT EXISTS movements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id TEXT NOT NULL,
    date TEXT NOT NULL,                    -- YYYY-MM-DD
    symbol TEXT,
    side TEXT,                             -- 'long' or 'short'
    closed_pnl REAL NOT NULL,
    qty REAL
);

CREATE INDEX IF NOT EXISTS idx_movements_date_agent ON movements(date, agent_id);
CREATE INDEX IF NOT EXISTS idx_movements_agent_date ON movements(agent_id, date);

-- End-of-day equity per agent
CREATE TABLE IF NOT EXISTS eod_balances (
    date TEXT NOT NULL,                    -- YYYY-MM-DD
    agent_id TEXT NOT NULL,
    balance REAL NOT NULL,
    PRIMARY KEY (date, agent_id)
);

CREATE INDEX IF NOT EXISTS idx_eod_balances_agent ON eod_balances(agent_id, date);
`

// resultsSchema holds every table the simulator derives. All rows are keyed
// by simulation_id so independent runs never collide.
const resultsSchema = `
-- Memoized daily returns
CREATE TABLE IF NOT EXISTS daily_roi (
    simulation_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    date TEXT NOT NULL,
    roi REAL NOT NULL,                     -- pnl / prior balance, 0.0 sentinel
    pnl REAL NOT NULL,
    prior_balance REAL NOT NULL,
    trade_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (simulation_id, agent_id, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_roi_sim_date ON daily_roi(simulation_id, date);

-- Per-agent cohort membership state
CREATE TABLE IF NOT EXISTS agent_states (
    simulation_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    is_in_casterly INTEGER NOT NULL DEFAULT 0,
    entry_date TEXT,
    roi_since_entry REAL NOT NULL DEFAULT 0,
    roi_day REAL NOT NULL DEFAULT 0,
    updated_date TEXT,
    PRIMARY KEY (simulation_id, agent_id)
);

-- Append-only rotation audit trail
CREATE TABLE IF NOT EXISTS rotation_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    simulation_id TEXT NOT NULL,
    date TEXT NOT NULL,
    agent_out TEXT,
    agent_in TEXT,
    reason TEXT NOT NULL,
    roi_window_out REAL,
    roi_total_out REAL,
    roi_window_in REAL,
    n_accounts INTEGER NOT NULL DEFAULT 0,
    total_aum REAL NOT NULL DEFAULT 0,
    window_days INTEGER NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotation_log_sim_date ON rotation_log(simulation_id, date);

-- Rank movements among surviving cohort members
CREATE TABLE IF NOT EXISTS rank_changes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    simulation_id TEXT NOT NULL,
    date TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    old_rank INTEGER NOT NULL,
    new_rank INTEGER NOT NULL,
    rank_change INTEGER NOT NULL           -- old_rank - new_rank (positive = climbed)
);

CREATE INDEX IF NOT EXISTS idx_rank_changes_sim_date ON rank_changes(simulation_id, date);

-- Simulated client accounts
CREATE TABLE IF NOT EXISTS client_accounts (
    simulation_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    initial_balance REAL NOT NULL,
    current_balance REAL NOT NULL,
    cumulative_roi REAL NOT NULL DEFAULT 0,
    current_agent_id TEXT,
    assigned_at TEXT,
    roi_at_assignment REAL NOT NULL DEFAULT 0,
    win_rate REAL NOT NULL DEFAULT 0,
    days_total INTEGER NOT NULL DEFAULT 0,
    days_won INTEGER NOT NULL DEFAULT 0,
    change_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (simulation_id, account_id)
);

CREATE INDEX IF NOT EXISTS idx_client_accounts_agent ON client_accounts(simulation_id, current_agent_id);

-- One row per account-agent assignment period
CREATE TABLE IF NOT EXISTS client_accounts_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    simulation_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT,                         -- NULL while assignment is open
    start_balance REAL NOT NULL,
    end_balance REAL
);

CREATE INDEX IF NOT EXISTS idx_accounts_history_sim_account ON client_accounts_history(simulation_id, account_id);

-- Daily account-universe snapshots (idempotent per simulation/day)
CREATE TABLE IF NOT EXISTS client_accounts_snapshots (
    simulation_id TEXT NOT NULL,
    date TEXT NOT NULL,
    n_accounts INTEGER NOT NULL,
    total_balance REAL NOT NULL,
    avg_roi REAL NOT NULL,
    avg_win_rate REAL NOT NULL,
    distribution TEXT NOT NULL,            -- JSON: agent_id -> {n_accounts, balance_total, avg_roi}
    accounts_blob BLOB,                    -- msgpack array of per-account state
    created_at TEXT NOT NULL,
    PRIMARY KEY (simulation_id, date)
);

-- Terminal simulation records
CREATE TABLE IF NOT EXISTS simulations (
    simulation_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    state TEXT NOT NULL,                   -- COMPLETED or FAILED
    error TEXT,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    window_days INTEGER NOT NULL,
    strategy TEXT NOT NULL,
    cohort_size INTEGER NOT NULL,
    stop_loss_threshold REAL NOT NULL,
    min_aum REAL NOT NULL,
    update_client_accounts INTEGER NOT NULL,
    days_processed INTEGER NOT NULL DEFAULT 0,
    rotation_count INTEGER NOT NULL DEFAULT 0,
    total_roi REAL,
    avg_roi REAL,
    volatility REAL,
    max_drawdown REAL,
    win_rate REAL,
    sharpe_ratio REAL,                     -- NULL when volatility is zero
    final_cohort TEXT,                     -- JSON array of agent_ids
    daily_metrics TEXT,                    -- JSON array of per-day metrics
    created_at TEXT NOT NULL,
    completed_at TEXT
);

-- Global run mutex and progress row. Exactly one row, id = 1.
CREATE TABLE IF NOT EXISTS simulation_status (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    is_running INTEGER NOT NULL DEFAULT 0,
    simulation_id TEXT,
    state TEXT NOT NULL DEFAULT 'IDLE',
    current_day TEXT,
    day_number INTEGER NOT NULL DEFAULT 0,
    total_days INTEGER NOT NULL DEFAULT 0,
    started_at TEXT,
    updated_at TEXT,
    message TEXT
);
`

// windowedSchema is instantiated once per supported window length. The
// window-ROI table keeps the raw daily series alongside the compounded
// total so rankers never re-scan movements.
const windowedSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
    simulation_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    date TEXT NOT NULL,
    roi_window_total REAL NOT NULL,
    total_pnl_window REAL NOT NULL,
    positive_days INTEGER NOT NULL DEFAULT 0,
    negative_days INTEGER NOT NULL DEFAULT 0,
    total_trades_window INTEGER NOT NULL DEFAULT 0,
    balance_current REAL NOT NULL DEFAULT 0,
    daily_rois TEXT NOT NULL,              -- JSON array, oldest first
    PRIMARY KEY (simulation_id, agent_id, date)
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_sim_date ON %[1]s(simulation_id, date);

CREATE TABLE IF NOT EXISTS %[2]s (
    simulation_id TEXT NOT NULL,
    date TEXT NOT NULL,
    rank INTEGER NOT NULL,
    agent_id TEXT NOT NULL,
    roi_window REAL NOT NULL,
    n_accounts INTEGER NOT NULL DEFAULT 0,
    total_aum REAL NOT NULL DEFAULT 0,
    is_in_casterly INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (simulation_id, date, rank)
);

CREATE INDEX IF NOT EXISTS idx_%[2]s_sim_agent ON %[2]s(simulation_id, agent_id, date);
`

// WindowROITable returns the window-ROI table name for a window length.
func WindowROITable(windowDays int) string {
	return fmt.Sprintf("agent_roi_%dd", windowDays)
}

// TopTable returns the ranked-list table name for a window length.
func TopTable(windowDays int) string {
	return fmt.Sprintf("top16_%dd", windowDays)
}

// EnsureSourceSchema creates the source-side tables if missing.
func EnsureSourceSchema(db *sql.DB) error {
	if _, err := db.Exec(sourceSchema); err != nil {
		return fmt.Errorf("failed to initialize source schema: %w", err)
	}
	return nil
}

// EnsureResultsSchema creates all derived tables, including one window-ROI
// and one ranked-list table per supported window length, and seeds the
// status singleton.
func EnsureResultsSchema(db *sql.DB) error {
	if _, err := db.Exec(resultsSchema); err != nil {
		return fmt.Errorf("failed to initialize results schema: %w", err)
	}

	for _, w := range domain.SupportedWindows {
		ddl := fmt.Sprintf(windowedSchema, WindowROITable(w), TopTable(w))
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to initialize %d-day window tables: %w", w, err)
		}
	}

	// Seed the status row so claim/release can always UPDATE it
	_, err := db.Exec(`INSERT OR IGNORE INTO simulation_status (id, is_running, state) VALUES (1, 0, 'IDLE')`)
	if err != nil {
		return fmt.Errorf("failed to seed simulation status row: %w", err)
	}

	return nil
}
