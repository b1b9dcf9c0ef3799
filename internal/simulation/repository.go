package simulation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
)

// Repository persists terminal simulation records. One row per run,
// written once when the run completes or fails.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a simulation repository backed by the results
// database.
func NewRepository(db *sql.DB, logger zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: logger.With().Str("repo", "simulations").Logger(),
	}
}

const simulationColumns = `simulation_id, name, description, state, error,
	start_date, end_date, window_days, strategy, cohort_size,
	stop_loss_threshold, min_aum, update_client_accounts, days_processed,
	rotation_count, total_roi, avg_roi, volatility, max_drawdown, win_rate,
	sharpe_ratio, final_cohort, daily_metrics, created_at, completed_at`

// Save upserts the terminal record of a run. Re-running a simulation under
// the same id replaces the previous record.
func (r *Repository) Save(ctx context.Context, sim *domain.Simulation) error {
	cohortJSON, err := json.Marshal(sim.FinalCohort)
	if err != nil {
		return fmt.Errorf("failed to marshal final cohort: %w", err)
	}
	metricsJSON, err := json.Marshal(sim.DailyMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal daily metrics: %w", err)
	}

	var completedAt sql.NullString
	if sim.CompletedAt != nil {
		completedAt = sql.NullString{String: sim.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO simulations (`+simulationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sim.ID, sim.Name, sim.Description, string(sim.Status), sim.Error,
		sim.StartDate, sim.EndDate, sim.WindowDays, sim.Strategy, sim.CohortSize,
		sim.StopLossThreshold, sim.MinAUM, sim.UpdateClientAccounts, sim.DaysProcessed,
		sim.TotalRotations, sim.KPIs.TotalROI, sim.KPIs.AvgROI, sim.KPIs.Volatility,
		sim.KPIs.MaxDrawdown, sim.KPIs.WinRate, sim.KPIs.SharpeRatio,
		string(cohortJSON), string(metricsJSON),
		sim.CreatedAt.UTC().Format(time.RFC3339), completedAt)
	if err != nil {
		return fmt.Errorf("failed to save simulation %s: %w", sim.ID, err)
	}

	r.log.Info().Str("simulation_id", sim.ID).Str("state", string(sim.Status)).Msg("Simulation record saved")
	return nil
}

// Get returns a stored simulation record, or nil if none exists.
func (r *Repository) Get(ctx context.Context, simulationID string) (*domain.Simulation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+simulationColumns+` FROM simulations WHERE simulation_id = ?`,
		simulationID)

	sim, err := scanSimulation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get simulation %s: %w", simulationID, err)
	}
	return sim, nil
}

// List returns all stored simulations, newest first.
func (r *Repository) List(ctx context.Context) ([]domain.Simulation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+simulationColumns+` FROM simulations ORDER BY created_at DESC, simulation_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list simulations: %w", err)
	}
	defer rows.Close()

	var sims []domain.Simulation
	for rows.Next() {
		sim, err := scanSimulation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan simulation: %w", err)
		}
		sims = append(sims, *sim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate simulations: %w", err)
	}
	return sims, nil
}

// Delete removes a stored simulation record.
func (r *Repository) Delete(ctx context.Context, simulationID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM simulations WHERE simulation_id = ?`, simulationID)
	if err != nil {
		return fmt.Errorf("failed to delete simulation %s: %w", simulationID, err)
	}
	return nil
}

func scanSimulation(row interface{ Scan(dest ...any) error }) (*domain.Simulation, error) {
	var (
		sim                  domain.Simulation
		description, errText sql.NullString
		state                string
		sharpe               sql.NullFloat64
		cohortJSON, metrics  sql.NullString
		createdAt            string
		completedAt          sql.NullString
	)
	if err := row.Scan(&sim.ID, &sim.Name, &description, &state, &errText,
		&sim.StartDate, &sim.EndDate, &sim.WindowDays, &sim.Strategy, &sim.CohortSize,
		&sim.StopLossThreshold, &sim.MinAUM, &sim.UpdateClientAccounts, &sim.DaysProcessed,
		&sim.TotalRotations, &sim.KPIs.TotalROI, &sim.KPIs.AvgROI, &sim.KPIs.Volatility,
		&sim.KPIs.MaxDrawdown, &sim.KPIs.WinRate, &sharpe,
		&cohortJSON, &metrics, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	sim.Description = description.String
	sim.Status = domain.SimulationState(state)
	sim.Error = errText.String
	if sharpe.Valid {
		v := sharpe.Float64
		sim.KPIs.SharpeRatio = &v
	}
	if cohortJSON.Valid && cohortJSON.String != "" {
		if err := json.Unmarshal([]byte(cohortJSON.String), &sim.FinalCohort); err != nil {
			return nil, fmt.Errorf("failed to unmarshal final cohort: %w", err)
		}
	}
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &sim.DailyMetrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal daily metrics: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		sim.CreatedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			sim.CompletedAt = &t
		}
	}
	return &sim, nil
}
