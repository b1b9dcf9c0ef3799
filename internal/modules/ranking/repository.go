package ranking

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/database"
	"github.com/aristath/casterly/internal/domain"
)

// Repository persists daily ranked lists (one table per window length) and
// the per-agent membership state.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a ranking repository over results.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ranking").Logger(),
	}
}

// ReplaceDay atomically replaces a day's ranked list. Delete-then-insert in
// one transaction keeps reruns of the same day idempotent.
func (r *Repository) ReplaceDay(ctx context.Context, windowDays int, simID, date string, entries []domain.TopEntry) error {
	if !domain.IsSupportedWindow(windowDays) {
		return fmt.Errorf("%w: unsupported window %d", domain.ErrInvalidInput, windowDays)
	}

	table := database.TopTable(windowDays)
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE simulation_id = ? AND date = ?", table),
			simID, date,
		); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
			INSERT INTO %s
				(simulation_id, date, rank, agent_id, roi_window, n_accounts, total_aum, is_in_casterly)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx,
				e.SimulationID, e.Date, e.Rank, e.AgentID, e.ROIWindow, e.NAccounts, e.TotalAUM, e.InCasterly,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace ranked list for %s: %w", date, err)
	}

	r.log.Debug().Str("date", date).Int("entries", len(entries)).Msg("Replaced ranked list")
	return nil
}

// GetDay returns a day's full ranked list in rank order.
func (r *Repository) GetDay(ctx context.Context, windowDays int, simID, date string) ([]domain.TopEntry, error) {
	return r.queryEntries(ctx, windowDays, simID, date, false)
}

// GetCohort returns only the day's cohort members, in rank order.
func (r *Repository) GetCohort(ctx context.Context, windowDays int, simID, date string) ([]domain.TopEntry, error) {
	return r.queryEntries(ctx, windowDays, simID, date, true)
}

func (r *Repository) queryEntries(ctx context.Context, windowDays int, simID, date string, cohortOnly bool) ([]domain.TopEntry, error) {
	if !domain.IsSupportedWindow(windowDays) {
		return nil, fmt.Errorf("%w: unsupported window %d", domain.ErrInvalidInput, windowDays)
	}

	table := database.TopTable(windowDays)
	query := fmt.Sprintf(`
		SELECT simulation_id, date, rank, agent_id, roi_window, n_accounts, total_aum, is_in_casterly
		FROM %s
		WHERE simulation_id = ? AND date = ?`, table)
	if cohortOnly {
		query += " AND is_in_casterly = 1"
	}
	query += " ORDER BY rank"

	rows, err := r.db.QueryContext(ctx, query, simID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranked list for %s: %w", date, err)
	}
	defer rows.Close()

	var entries []domain.TopEntry
	for rows.Next() {
		var e domain.TopEntry
		if err := rows.Scan(&e.SimulationID, &e.Date, &e.Rank, &e.AgentID, &e.ROIWindow, &e.NAccounts, &e.TotalAUM, &e.InCasterly); err != nil {
			return nil, fmt.Errorf("failed to scan ranked entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ranked list: %w", err)
	}

	return entries, nil
}

// GetStates returns every agent's membership state for a simulation.
func (r *Repository) GetStates(ctx context.Context, simID string) (map[string]domain.AgentState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT simulation_id, agent_id, is_in_casterly, entry_date, roi_since_entry, roi_day, updated_date
		FROM agent_states
		WHERE simulation_id = ?`,
		simID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]domain.AgentState)
	for rows.Next() {
		var s domain.AgentState
		var entryDate, updatedDate sql.NullString
		if err := rows.Scan(&s.SimulationID, &s.AgentID, &s.InCasterly, &entryDate, &s.ROISinceEntry, &s.ROIDay, &updatedDate); err != nil {
			return nil, fmt.Errorf("failed to scan agent state: %w", err)
		}
		s.EntryDate = entryDate.String
		s.UpdatedDate = updatedDate.String
		states[s.AgentID] = s
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent states: %w", err)
	}

	return states, nil
}

// UpsertStates writes a batch of membership states in one transaction.
func (r *Repository) UpsertStates(ctx context.Context, states []domain.AgentState) error {
	if len(states) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO agent_states
				(simulation_id, agent_id, is_in_casterly, entry_date, roi_since_entry, roi_day, updated_date)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(simulation_id, agent_id) DO UPDATE SET
				is_in_casterly = excluded.is_in_casterly,
				entry_date = excluded.entry_date,
				roi_since_entry = excluded.roi_since_entry,
				roi_day = excluded.roi_day,
				updated_date = excluded.updated_date`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range states {
			entryDate := sql.NullString{String: s.EntryDate, Valid: s.EntryDate != ""}
			updatedDate := sql.NullString{String: s.UpdatedDate, Valid: s.UpdatedDate != ""}
			if _, err := stmt.ExecContext(ctx,
				s.SimulationID, s.AgentID, s.InCasterly, entryDate, s.ROISinceEntry, s.ROIDay, updatedDate,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d agent states: %w", len(states), err)
	}

	return nil
}

// DeleteSimulation removes a simulation's ranked lists and agent states.
func (r *Repository) DeleteSimulation(ctx context.Context, simID string) error {
	for _, w := range domain.SupportedWindows {
		table := database.TopTable(w)
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE simulation_id = ?", table), simID); err != nil {
			return fmt.Errorf("failed to delete %s rows for simulation %s: %w", table, simID, err)
		}
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM agent_states WHERE simulation_id = ?", simID); err != nil {
		return fmt.Errorf("failed to delete agent states for simulation %s: %w", simID, err)
	}
	return nil
}
