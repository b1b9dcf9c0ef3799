// Package roi computes and persists agent returns: the memoized daily ROI
// cells and the compounded trailing-window aggregates built on top of them.
package roi

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/database"
	"github.com/aristath/casterly/internal/domain"
)

// Repository persists daily ROI cells in results.db. Every computed cell is
// written exactly as computed; recomputing a cell always yields the same
// value, so INSERT OR REPLACE keeps the table idempotent.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a daily-ROI repository over results.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "daily_roi").Logger(),
	}
}

// Get returns the memoized cell for (simulation, agent, date), or nil when
// it has not been computed yet.
func (r *Repository) Get(ctx context.Context, simID, agentID, date string) (*domain.DailyROI, error) {
	var cell domain.DailyROI
	err := r.db.QueryRowContext(ctx, `
		SELECT simulation_id, agent_id, date, roi, pnl, prior_balance, trade_count
		FROM daily_roi
		WHERE simulation_id = ? AND agent_id = ? AND date = ?`,
		simID, agentID, date,
	).Scan(&cell.SimulationID, &cell.AgentID, &cell.Date, &cell.ROI, &cell.Pnl, &cell.PriorBalance, &cell.TradeCount)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily roi for %s on %s: %w", agentID, date, err)
	}

	return &cell, nil
}

// UpsertBatch writes a batch of cells in one transaction.
func (r *Repository) UpsertBatch(ctx context.Context, cells []domain.DailyROI) error {
	if len(cells) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO daily_roi
				(simulation_id, agent_id, date, roi, pnl, prior_balance, trade_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range cells {
			if _, err := stmt.ExecContext(ctx, c.SimulationID, c.AgentID, c.Date, c.ROI, c.Pnl, c.PriorBalance, c.TradeCount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d daily roi cells: %w", len(cells), err)
	}

	r.log.Debug().Int("cells", len(cells)).Msg("Upserted daily ROI batch")
	return nil
}

// LastNonZeroAll returns, per agent, the most recent n non-zero daily ROIs
// at or before date, newest first. Zero cells are skipped entirely: a zero
// is "no signal", so it neither counts toward nor resets a losing streak.
func (r *Repository) LastNonZeroAll(ctx context.Context, simID, date string, n int) (map[string][]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, roi FROM (
			SELECT agent_id, roi,
			       ROW_NUMBER() OVER (PARTITION BY agent_id ORDER BY date DESC) AS rn
			FROM daily_roi
			WHERE simulation_id = ? AND date <= ? AND roi != 0.0
		)
		WHERE rn <= ?
		ORDER BY agent_id, rn`,
		simID, date, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trailing non-zero rois: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]float64)
	for rows.Next() {
		var agentID string
		var roi float64
		if err := rows.Scan(&agentID, &roi); err != nil {
			return nil, fmt.Errorf("failed to scan trailing roi: %w", err)
		}
		result[agentID] = append(result[agentID], roi)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trailing rois: %w", err)
	}

	return result, nil
}

// SumUpTo returns the plain sum of an agent's persisted daily ROIs at or
// before date. This is the informational lifetime figure attached to
// rotation events; it is not compounded.
func (r *Repository) SumUpTo(ctx context.Context, simID, agentID, date string) (float64, error) {
	var sum sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(roi) FROM daily_roi
		WHERE simulation_id = ? AND agent_id = ? AND date <= ?`,
		simID, agentID, date,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum daily rois for %s: %w", agentID, err)
	}

	if !sum.Valid {
		return 0, nil
	}
	return sum.Float64, nil
}

// DeleteSimulation removes every cell belonging to a simulation.
func (r *Repository) DeleteSimulation(ctx context.Context, simID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM daily_roi WHERE simulation_id = ?", simID)
	if err != nil {
		return fmt.Errorf("failed to delete daily rois for simulation %s: %w", simID, err)
	}
	return nil
}
