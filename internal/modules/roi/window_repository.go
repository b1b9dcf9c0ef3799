package roi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/database"
	"github.com/aristath/casterly/internal/domain"
)

// WindowRepository persists window-ROI aggregates. Each supported window
// length has its own table (agent_roi_3d, agent_roi_7d, ...) so a day's
// ranked scan never filters on window size.
type WindowRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewWindowRepository creates a window-ROI repository over results.db.
func NewWindowRepository(db *sql.DB, log zerolog.Logger) *WindowRepository {
	return &WindowRepository{
		db:  db,
		log: log.With().Str("repo", "window_roi").Logger(),
	}
}

// UpsertBatch writes a batch of window rows for one window length in one
// transaction. The per-day daily series is stored as a JSON array, oldest
// value first.
func (r *WindowRepository) UpsertBatch(ctx context.Context, windowDays int, rows []domain.WindowROI) error {
	if len(rows) == 0 {
		return nil
	}
	if !domain.IsSupportedWindow(windowDays) {
		return fmt.Errorf("%w: unsupported window %d", domain.ErrInvalidInput, windowDays)
	}

	table := database.WindowROITable(windowDays)
	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s
			(simulation_id, agent_id, date, roi_window_total, total_pnl_window,
			 positive_days, negative_days, total_trades_window, balance_current, daily_rois)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, row := range rows {
			series, err := json.Marshal(row.DailyROIs)
			if err != nil {
				return fmt.Errorf("failed to marshal daily series for %s: %w", row.AgentID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				row.SimulationID, row.AgentID, row.Date, row.ROIWindowTotal, row.TotalPnlWindow,
				row.PositiveDays, row.NegativeDays, row.TotalTradesWindow, row.BalanceCurrent, string(series),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d window rows into %s: %w", len(rows), table, err)
	}

	r.log.Debug().Int("rows", len(rows)).Str("table", table).Msg("Upserted window ROI batch")
	return nil
}

// ForDate returns every agent's window row for one day, ordered by
// agent_id for deterministic downstream processing.
func (r *WindowRepository) ForDate(ctx context.Context, simID string, windowDays int, date string) ([]domain.WindowROI, error) {
	if !domain.IsSupportedWindow(windowDays) {
		return nil, fmt.Errorf("%w: unsupported window %d", domain.ErrInvalidInput, windowDays)
	}

	table := database.WindowROITable(windowDays)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT simulation_id, agent_id, date, roi_window_total, total_pnl_window,
		       positive_days, negative_days, total_trades_window, balance_current, daily_rois
		FROM %s
		WHERE simulation_id = ? AND date = ?
		ORDER BY agent_id`, table),
		simID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s for %s: %w", table, date, err)
	}
	defer rows.Close()

	result, err := scanWindowRows(rows, windowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", table, err)
	}
	return result, nil
}

// Get returns one agent's window row for a day, or nil when absent.
func (r *WindowRepository) Get(ctx context.Context, simID string, windowDays int, agentID, date string) (*domain.WindowROI, error) {
	if !domain.IsSupportedWindow(windowDays) {
		return nil, fmt.Errorf("%w: unsupported window %d", domain.ErrInvalidInput, windowDays)
	}

	table := database.WindowROITable(windowDays)
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT simulation_id, agent_id, date, roi_window_total, total_pnl_window,
		       positive_days, negative_days, total_trades_window, balance_current, daily_rois
		FROM %s
		WHERE simulation_id = ? AND agent_id = ? AND date = ?`, table),
		simID, agentID, date,
	)

	var w domain.WindowROI
	var series string
	err := row.Scan(&w.SimulationID, &w.AgentID, &w.Date, &w.ROIWindowTotal, &w.TotalPnlWindow,
		&w.PositiveDays, &w.NegativeDays, &w.TotalTradesWindow, &w.BalanceCurrent, &series)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get window row for %s on %s: %w", agentID, date, err)
	}

	if err := json.Unmarshal([]byte(series), &w.DailyROIs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal daily series for %s: %w", agentID, err)
	}
	w.WindowDays = windowDays

	return &w, nil
}

// DeleteSimulation removes a simulation's rows from every window table.
func (r *WindowRepository) DeleteSimulation(ctx context.Context, simID string) error {
	for _, w := range domain.SupportedWindows {
		table := database.WindowROITable(w)
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE simulation_id = ?", table), simID); err != nil {
			return fmt.Errorf("failed to delete %s rows for simulation %s: %w", table, simID, err)
		}
	}
	return nil
}

func scanWindowRows(rows *sql.Rows, windowDays int) ([]domain.WindowROI, error) {
	var result []domain.WindowROI
	for rows.Next() {
		var w domain.WindowROI
		var series string
		if err := rows.Scan(&w.SimulationID, &w.AgentID, &w.Date, &w.ROIWindowTotal, &w.TotalPnlWindow,
			&w.PositiveDays, &w.NegativeDays, &w.TotalTradesWindow, &w.BalanceCurrent, &series); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(series), &w.DailyROIs); err != nil {
			return nil, err
		}
		w.WindowDays = windowDays
		result = append(result, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
