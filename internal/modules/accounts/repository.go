// Package accounts manages the simulated client-account universe: who each
// account follows, how its balance advances, and the assignment history.
package accounts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/database"
	"github.com/aristath/casterly/internal/domain"
)

// Move is one account handoff. The embedded account carries its
// post-move state; ToAgent empty leaves the account unassigned.
type Move struct {
	Account domain.ClientAccount
	ToAgent string
	Date    string
}

// Repository persists client accounts and their assignment history.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an accounts repository over results.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

const accountColumns = `simulation_id, account_id, initial_balance, current_balance,
	cumulative_roi, current_agent_id, assigned_at, roi_at_assignment,
	win_rate, days_total, days_won, change_count`

// GetAll returns a simulation's accounts ordered by account_id.
func (r *Repository) GetAll(ctx context.Context, simID string) ([]domain.ClientAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM client_accounts WHERE simulation_id = ? ORDER BY account_id",
		simID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query client accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// GetByAgent returns the accounts currently assigned to one agent,
// ordered by account_id.
func (r *Repository) GetByAgent(ctx context.Context, simID, agentID string) ([]domain.ClientAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM client_accounts WHERE simulation_id = ? AND current_agent_id = ? ORDER BY account_id",
		simID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts for agent %s: %w", agentID, err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// Get returns one account, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, simID, accountID string) (*domain.ClientAccount, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM client_accounts WHERE simulation_id = ? AND account_id = ?",
		simID, accountID,
	)

	acct, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}
	return &acct, nil
}

// Count returns the number of accounts in a simulation.
func (r *Repository) Count(ctx context.Context, simID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM client_accounts WHERE simulation_id = ?", simID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count client accounts: %w", err)
	}
	return count, nil
}

// CountsByAgent returns the live footprint (account count, combined
// balance) per assigned agent. Unassigned accounts are not included.
func (r *Repository) CountsByAgent(ctx context.Context, simID string) (map[string]domain.AgentFootprint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT current_agent_id, COUNT(*), SUM(current_balance)
		FROM client_accounts
		WHERE simulation_id = ? AND current_agent_id IS NOT NULL AND current_agent_id != ''
		GROUP BY current_agent_id`,
		simID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query account footprints: %w", err)
	}
	defer rows.Close()

	footprints := make(map[string]domain.AgentFootprint)
	for rows.Next() {
		var agentID string
		var fp domain.AgentFootprint
		if err := rows.Scan(&agentID, &fp.Count, &fp.AUM); err != nil {
			return nil, fmt.Errorf("failed to scan account footprint: %w", err)
		}
		footprints[agentID] = fp
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account footprints: %w", err)
	}

	return footprints, nil
}

// CreateBatch inserts new accounts in one transaction.
func (r *Repository) CreateBatch(ctx context.Context, accts []domain.ClientAccount) error {
	if len(accts) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO client_accounts (`+accountColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range accts {
			_, err := stmt.ExecContext(ctx,
				a.SimulationID, a.AccountID, a.InitialBalance, a.CurrentBalance,
				a.CumulativeROI, nullable(a.CurrentAgentID), nullable(a.AssignedAt),
				a.ROIAtAssignment, a.WinRate, a.DaysTotal, a.DaysWon, a.ChangeCount,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create %d client accounts: %w", len(accts), err)
	}

	r.log.Debug().Int("accounts", len(accts)).Msg("Created client accounts")
	return nil
}

// UpdateBatch persists mutable account fields in one transaction. It does
// not touch the assignment history; use ReassignBatch for handoffs.
func (r *Repository) UpdateBatch(ctx context.Context, accts []domain.ClientAccount) error {
	if len(accts) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE client_accounts SET
				current_balance = ?, cumulative_roi = ?, current_agent_id = ?,
				assigned_at = ?, roi_at_assignment = ?, win_rate = ?,
				days_total = ?, days_won = ?, change_count = ?
			WHERE simulation_id = ? AND account_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range accts {
			_, err := stmt.ExecContext(ctx,
				a.CurrentBalance, a.CumulativeROI, nullable(a.CurrentAgentID),
				nullable(a.AssignedAt), a.ROIAtAssignment, a.WinRate,
				a.DaysTotal, a.DaysWon, a.ChangeCount,
				a.SimulationID, a.AccountID,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update %d client accounts: %w", len(accts), err)
	}

	return nil
}

// ReassignBatch persists a set of account handoffs atomically: the open
// history row of each account is closed, the account row is updated to its
// post-move state, and a fresh history row is opened unless the account is
// being left unassigned.
func (r *Repository) ReassignBatch(ctx context.Context, moves []Move) error {
	if len(moves) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		closeStmt, err := tx.PrepareContext(ctx, `
			UPDATE client_accounts_history
			SET end_date = ?, end_balance = ?
			WHERE simulation_id = ? AND account_id = ? AND end_date IS NULL`)
		if err != nil {
			return err
		}
		defer closeStmt.Close()

		updateStmt, err := tx.PrepareContext(ctx, `
			UPDATE client_accounts SET
				current_balance = ?, cumulative_roi = ?, current_agent_id = ?,
				assigned_at = ?, roi_at_assignment = ?, win_rate = ?,
				days_total = ?, days_won = ?, change_count = ?
			WHERE simulation_id = ? AND account_id = ?`)
		if err != nil {
			return err
		}
		defer updateStmt.Close()

		openStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO client_accounts_history
				(simulation_id, account_id, agent_id, start_date, start_balance)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer openStmt.Close()

		for _, m := range moves {
			a := m.Account
			if _, err := closeStmt.ExecContext(ctx, m.Date, a.CurrentBalance, a.SimulationID, a.AccountID); err != nil {
				return err
			}
			_, err := updateStmt.ExecContext(ctx,
				a.CurrentBalance, a.CumulativeROI, nullable(a.CurrentAgentID),
				nullable(a.AssignedAt), a.ROIAtAssignment, a.WinRate,
				a.DaysTotal, a.DaysWon, a.ChangeCount,
				a.SimulationID, a.AccountID,
			)
			if err != nil {
				return err
			}
			if m.ToAgent != "" {
				if _, err := openStmt.ExecContext(ctx, a.SimulationID, a.AccountID, m.ToAgent, m.Date, a.CurrentBalance); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reassign %d client accounts: %w", len(moves), err)
	}

	r.log.Debug().Int("moves", len(moves)).Msg("Reassigned client accounts")
	return nil
}

// History returns an account's assignment intervals in chronological order.
func (r *Repository) History(ctx context.Context, simID, accountID string) ([]domain.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, simulation_id, account_id, agent_id, start_date, end_date, start_balance, end_balance
		FROM client_accounts_history
		WHERE simulation_id = ? AND account_id = ?
		ORDER BY id`,
		simID, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment history for %s: %w", accountID, err)
	}
	defer rows.Close()

	var history []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.SimulationID, &a.AccountID, &a.AgentID, &a.StartDate, &a.EndDate, &a.StartBalance, &a.EndBalance); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		history = append(history, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignment history: %w", err)
	}

	return history, nil
}

// ResetToBaseline reverts every account to its day-0 state, preserving
// initial_balance, and clears the assignment history. Used when a
// simulation re-runs over an existing account universe.
func (r *Repository) ResetToBaseline(ctx context.Context, simID string) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE client_accounts SET
				current_balance = initial_balance, cumulative_roi = 0,
				current_agent_id = NULL, assigned_at = NULL, roi_at_assignment = 0,
				win_rate = 0, days_total = 0, days_won = 0, change_count = 0
			WHERE simulation_id = ?`, simID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM client_accounts_history WHERE simulation_id = ?", simID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to reset accounts for simulation %s: %w", simID, err)
	}

	r.log.Debug().Str("simulation_id", simID).Msg("Reset accounts to baseline")
	return nil
}

// DeleteSimulation removes a simulation's accounts and their history.
func (r *Repository) DeleteSimulation(ctx context.Context, simID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM client_accounts WHERE simulation_id = ?", simID); err != nil {
		return fmt.Errorf("failed to delete client accounts for simulation %s: %w", simID, err)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM client_accounts_history WHERE simulation_id = ?", simID); err != nil {
		return fmt.Errorf("failed to delete account history for simulation %s: %w", simID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.ClientAccount, error) {
	var a domain.ClientAccount
	var agentID, assignedAt sql.NullString
	err := row.Scan(
		&a.SimulationID, &a.AccountID, &a.InitialBalance, &a.CurrentBalance,
		&a.CumulativeROI, &agentID, &assignedAt, &a.ROIAtAssignment,
		&a.WinRate, &a.DaysTotal, &a.DaysWon, &a.ChangeCount,
	)
	if err != nil {
		return domain.ClientAccount{}, err
	}
	a.CurrentAgentID = agentID.String
	a.AssignedAt = assignedAt.String
	return a, nil
}

func collectAccounts(rows *sql.Rows) ([]domain.ClientAccount, error) {
	var accts []domain.ClientAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client account: %w", err)
		}
		accts = append(accts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating client accounts: %w", err)
	}

	return accts, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
