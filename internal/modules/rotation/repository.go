// Package rotation diffs consecutive cohort days, pairs exits with entries,
// classifies each pair and records the append-only audit trail.
package rotation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/database"
	"github.com/aristath/casterly/internal/domain"
)

// Repository persists rotation events and rank changes. Both tables are
// append-only; rows are never updated.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a rotation repository over results.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "rotation").Logger(),
	}
}

// AppendEvents writes a day's rotation events in one transaction.
func (r *Repository) AppendEvents(ctx context.Context, events []domain.RotationEvent) error {
	if len(events) == 0 {
		return nil
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO rotation_log
				(simulation_id, date, agent_out, agent_in, reason,
				 roi_window_out, roi_total_out, roi_window_in,
				 n_accounts, total_aum, window_days, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, ev := range events {
			_, err := stmt.ExecContext(ctx,
				ev.SimulationID, ev.Date, ev.AgentOut, ev.AgentIn, string(ev.Reason),
				ev.ROIWindowOut, ev.ROITotalOut, ev.ROIWindowIn,
				ev.NAccounts, ev.TotalAUM, ev.WindowDays, createdAt,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append %d rotation events: %w", len(events), err)
	}

	r.log.Debug().Int("events", len(events)).Msg("Appended rotation events")
	return nil
}

// AppendRankChanges writes a day's rank movements in one transaction.
func (r *Repository) AppendRankChanges(ctx context.Context, changes []domain.RankChange) error {
	if len(changes) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO rank_changes
				(simulation_id, date, agent_id, old_rank, new_rank, rank_change)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range changes {
			if _, err := stmt.ExecContext(ctx, c.SimulationID, c.Date, c.AgentID, c.OldRank, c.NewRank, c.Change); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append %d rank changes: %w", len(changes), err)
	}

	return nil
}

// EventsForDate returns a day's rotation events in insertion order.
func (r *Repository) EventsForDate(ctx context.Context, simID, date string) ([]domain.RotationEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, simulation_id, date, agent_out, agent_in, reason,
		       roi_window_out, roi_total_out, roi_window_in,
		       n_accounts, total_aum, window_days
		FROM rotation_log
		WHERE simulation_id = ? AND date = ?
		ORDER BY id`,
		simID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotation events for %s: %w", date, err)
	}
	defer rows.Close()

	var events []domain.RotationEvent
	for rows.Next() {
		var ev domain.RotationEvent
		var reason string
		err := rows.Scan(
			&ev.ID, &ev.SimulationID, &ev.Date, &ev.AgentOut, &ev.AgentIn, &reason,
			&ev.ROIWindowOut, &ev.ROITotalOut, &ev.ROIWindowIn,
			&ev.NAccounts, &ev.TotalAUM, &ev.WindowDays,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rotation event: %w", err)
		}
		ev.Reason = domain.RotationReason(reason)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rotation events: %w", err)
	}

	return events, nil
}

// RankChangesForDate returns a day's rank movements in insertion order.
func (r *Repository) RankChangesForDate(ctx context.Context, simID, date string) ([]domain.RankChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT simulation_id, date, agent_id, old_rank, new_rank, rank_change
		FROM rank_changes
		WHERE simulation_id = ? AND date = ?
		ORDER BY id`,
		simID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rank changes for %s: %w", date, err)
	}
	defer rows.Close()

	var changes []domain.RankChange
	for rows.Next() {
		var c domain.RankChange
		if err := rows.Scan(&c.SimulationID, &c.Date, &c.AgentID, &c.OldRank, &c.NewRank, &c.Change); err != nil {
			return nil, fmt.Errorf("failed to scan rank change: %w", err)
		}
		changes = append(changes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rank changes: %w", err)
	}

	return changes, nil
}

// CountBySimulation returns the total number of rotation events recorded
// for a simulation.
func (r *Repository) CountBySimulation(ctx context.Context, simID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM rotation_log WHERE simulation_id = ?", simID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rotation events: %w", err)
	}
	return count, nil
}

// DeleteSimulation removes a simulation's rotation events and rank changes.
func (r *Repository) DeleteSimulation(ctx context.Context, simID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM rotation_log WHERE simulation_id = ?", simID); err != nil {
		return fmt.Errorf("failed to delete rotation log for simulation %s: %w", simID, err)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM rank_changes WHERE simulation_id = ?", simID); err != nil {
		return fmt.Errorf("failed to delete rank changes for simulation %s: %w", simID, err)
	}
	return nil
}
