// Package snapshots writes the end-of-day account aggregates used for
// timeline replay and reporting.
package snapshots

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/casterly/internal/domain"
)

// Repository persists daily snapshots. One row per (simulation, date);
// rewriting a day overwrites it.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a snapshots repository over results.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// Upsert writes one snapshot. The distribution map is stored as JSON; the
// optional per-account array is packed with msgpack.
func (r *Repository) Upsert(ctx context.Context, snap domain.Snapshot) error {
	distribution, err := json.Marshal(snap.Distribution)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot distribution: %w", err)
	}

	var blob []byte
	if len(snap.Accounts) > 0 {
		blob, err = msgpack.Marshal(snap.Accounts)
		if err != nil {
			return fmt.Errorf("failed to pack snapshot accounts: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO client_accounts_snapshots
			(simulation_id, date, n_accounts, total_balance, avg_roi, avg_win_rate,
			 distribution, accounts_blob, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SimulationID, snap.Date, snap.TotalAccounts, snap.BalanceTotal,
		snap.AvgROI, snap.AvgWinRate, string(distribution), blob,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot for %s: %w", snap.Date, err)
	}

	return nil
}

// Get returns one snapshot, or nil when the day has none.
func (r *Repository) Get(ctx context.Context, simID, date string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	var distribution string
	var blob []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT simulation_id, date, n_accounts, total_balance, avg_roi, avg_win_rate,
		       distribution, accounts_blob
		FROM client_accounts_snapshots
		WHERE simulation_id = ? AND date = ?`,
		simID, date,
	).Scan(&snap.SimulationID, &snap.Date, &snap.TotalAccounts, &snap.BalanceTotal,
		&snap.AvgROI, &snap.AvgWinRate, &distribution, &blob)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot for %s: %w", date, err)
	}

	if err := json.Unmarshal([]byte(distribution), &snap.Distribution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot distribution: %w", err)
	}
	if len(blob) > 0 {
		if err := msgpack.Unmarshal(blob, &snap.Accounts); err != nil {
			return nil, fmt.Errorf("failed to unpack snapshot accounts: %w", err)
		}
	}

	return &snap, nil
}

// Dates returns the snapshot dates of a simulation in ascending order.
func (r *Repository) Dates(ctx context.Context, simID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT date FROM client_accounts_snapshots WHERE simulation_id = ? ORDER BY date",
		simID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot date: %w", err)
		}
		dates = append(dates, date)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot dates: %w", err)
	}

	return dates, nil
}

// DeleteSimulation removes every snapshot belonging to a simulation.
func (r *Repository) DeleteSimulation(ctx context.Context, simID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM client_accounts_snapshots WHERE simulation_id = ?", simID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshots for simulation %s: %w", simID, err)
	}
	return nil
}
