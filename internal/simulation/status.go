package simulation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
)

// StatusManager owns the simulation_status singleton row. The row is the
// process-wide mutex: Claim flips is_running inside a single conditional
// UPDATE, so two concurrent runs cannot both succeed even across processes
// sharing the results database.
type StatusManager struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStatusManager creates a status manager backed by the results database.
func NewStatusManager(db *sql.DB, logger zerolog.Logger) *StatusManager {
	return &StatusManager{
		db:  db,
		log: logger.With().Str("service", "status").Logger(),
	}
}

// Claim marks the run as started. Returns ErrSimulationRunning if another
// run already holds the row.
func (m *StatusManager) Claim(ctx context.Context, simulationID string, totalDays int) error {
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := m.db.ExecContext(ctx, `
		UPDATE simulation_status
		SET is_running = 1, simulation_id = ?, state = ?, current_day = NULL,
		    day_number = 0, total_days = ?, started_at = ?, updated_at = ?, message = ?
		WHERE id = 1 AND is_running = 0`,
		simulationID, string(domain.StatePreparing), totalDays, now, now, "claimed")
	if err != nil {
		return fmt.Errorf("failed to claim simulation status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected == 0 {
		return domain.ErrSimulationRunning
	}

	m.log.Info().Str("simulation_id", simulationID).Int("total_days", totalDays).Msg("Simulation status claimed")
	return nil
}

// Update records per-day progress while a run is active.
func (m *StatusManager) Update(ctx context.Context, state domain.SimulationState, currentDay string, dayNumber int, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := m.db.ExecContext(ctx, `
		UPDATE simulation_status
		SET state = ?, current_day = ?, day_number = ?, updated_at = ?, message = ?
		WHERE id = 1`,
		string(state), currentDay, dayNumber, now, message)
	if err != nil {
		return fmt.Errorf("failed to update simulation status: %w", err)
	}
	return nil
}

// Heartbeat bumps updated_at so external observers can tell a live run from
// a stale row left behind by a crashed process.
func (m *StatusManager) Heartbeat(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE simulation_status SET updated_at = ? WHERE id = 1 AND is_running = 1`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to heartbeat simulation status: %w", err)
	}
	return nil
}

// Release clears is_running and records the terminal state. Safe to call
// even when the claim was never taken.
func (m *StatusManager) Release(ctx context.Context, state domain.SimulationState, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := m.db.ExecContext(ctx, `
		UPDATE simulation_status
		SET is_running = 0, state = ?, updated_at = ?, message = ?
		WHERE id = 1`,
		string(state), now, message)
	if err != nil {
		return fmt.Errorf("failed to release simulation status: %w", err)
	}

	m.log.Info().Str("state", string(state)).Msg("Simulation status released")
	return nil
}

// Get returns the current status row.
func (m *StatusManager) Get(ctx context.Context) (*domain.SimulationStatus, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT is_running, simulation_id, state, current_day, day_number,
		       total_days, started_at, updated_at, message
		FROM simulation_status WHERE id = 1`)

	var (
		st                    domain.SimulationStatus
		simID, day            sql.NullString
		started, updated, msg sql.NullString
		state                 string
	)
	if err := row.Scan(&st.IsRunning, &simID, &state, &day, &st.DayNumber,
		&st.TotalDays, &started, &updated, &msg); err != nil {
		return nil, fmt.Errorf("failed to get simulation status: %w", err)
	}

	st.SimulationID = simID.String
	st.State = domain.SimulationState(state)
	st.CurrentDay = day.String
	st.Message = msg.String
	if started.Valid {
		if t, err := time.Parse(time.RFC3339, started.String); err == nil {
			st.StartedAt = t
		}
	}
	if updated.Valid {
		if t, err := time.Parse(time.RFC3339, updated.String); err == nil {
			st.UpdatedAt = t
		}
	}
	return &st, nil
}
