// Package marketdata provides read-only access to the market-side database:
// trading movements and end-of-day balances produced by an external
// ingestion process. The simulator never writes here.
package marketdata

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
)

// PnLCell is the per-(agent, day) aggregate over movements: summed closed
// PnL and the number of trades that produced it.
type PnLCell struct {
	AgentID string
	Date    string
	PnL     float64
	Trades  int
}

// Repository reads movements and EOD balances from source.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a market-data repository over source.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "marketdata").Logger(),
	}
}

// PnLByAgentDay aggregates movements into one cell per (agent, day) over the
// inclusive date range. Days without movements for an agent simply produce
// no cell. This is one of the two bulk range scans behind window ROI.
func (r *Repository) PnLByAgentDay(ctx context.Context, start, end string) ([]PnLCell, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, date, SUM(closed_pnl), COUNT(*)
		FROM movements
		WHERE date >= ? AND date <= ?
		GROUP BY agent_id, date`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query movement aggregates: %w", err)
	}
	defer rows.Close()

	var cells []PnLCell
	for rows.Next() {
		var c PnLCell
		if err := rows.Scan(&c.AgentID, &c.Date, &c.PnL, &c.Trades); err != nil {
			return nil, fmt.Errorf("failed to scan movement aggregate: %w", err)
		}
		cells = append(cells, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating movement aggregates: %w", err)
	}

	return cells, nil
}

// AgentPnLOn returns the summed closed PnL and trade count for one agent on
// one day. A day with no movements returns (0, 0), which is valid data, not
// an error.
func (r *Repository) AgentPnLOn(ctx context.Context, agentID, date string) (float64, int, error) {
	var pnl sql.NullFloat64
	var trades int
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(closed_pnl), COUNT(*)
		FROM movements
		WHERE agent_id = ? AND date = ?`,
		agentID, date,
	).Scan(&pnl, &trades)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query pnl for %s on %s: %w", agentID, date, err)
	}

	// SUM over zero rows yields NULL
	if !pnl.Valid {
		return 0, 0, nil
	}

	return pnl.Float64, trades, nil
}

// BalancesInRange returns every EOD balance row in the inclusive date range.
// This is the second bulk range scan behind window ROI; the agents observed
// here form the day's roster.
func (r *Repository) BalancesInRange(ctx context.Context, start, end string) ([]domain.EODBalance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, agent_id, balance
		FROM eod_balances
		WHERE date >= ? AND date <= ?`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances in range: %w", err)
	}
	defer rows.Close()

	var balances []domain.EODBalance
	for rows.Next() {
		var b domain.EODBalance
		if err := rows.Scan(&b.Date, &b.AgentID, &b.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}

	return balances, nil
}

// BalanceOn returns one agent's EOD balance for a day, or nil when the
// source has no row for that (agent, day). Absence is meaningful: daily ROI
// treats a missing prior balance as its 0.0 sentinel case.
func (r *Repository) BalanceOn(ctx context.Context, agentID, date string) (*float64, error) {
	var balance float64
	err := r.db.QueryRowContext(ctx,
		"SELECT balance FROM eod_balances WHERE agent_id = ? AND date = ?",
		agentID, date,
	).Scan(&balance)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query balance for %s on %s: %w", agentID, date, err)
	}

	return &balance, nil
}

// BalancesOn returns every agent's EOD balance for one day.
func (r *Repository) BalancesOn(ctx context.Context, date string) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT agent_id, balance FROM eod_balances WHERE date = ?",
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances on %s: %w", date, err)
	}
	defer rows.Close()

	balances := make(map[string]float64)
	for rows.Next() {
		var agentID string
		var balance float64
		if err := rows.Scan(&agentID, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances[agentID] = balance
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}

	return balances, nil
}

// BalanceDateBounds returns the earliest and latest dates with any EOD
// balance, or nils when the source is empty. Used for preflight range
// checks and status reporting.
func (r *Repository) BalanceDateBounds(ctx context.Context) (*string, *string, error) {
	var minDate, maxDate sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT MIN(date), MAX(date) FROM eod_balances",
	).Scan(&minDate, &maxDate)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query balance date bounds: %w", err)
	}

	if !minDate.Valid || !maxDate.Valid {
		return nil, nil, nil
	}

	return &minDate.String, &maxDate.String, nil
}
