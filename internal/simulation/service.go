// Package simulation orchestrates full runs: it claims the status
// singleton, replays the date range day by day through the ROI, ranking,
// rotation and account pipelines, and records the terminal result.
package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/events"
	"github.com/aristath/casterly/internal/modules/accounts"
	"github.com/aristath/casterly/internal/modules/ranking"
	"github.com/aristath/casterly/internal/modules/roi"
	"github.com/aristath/casterly/internal/modules/rotation"
	"github.com/aristath/casterly/internal/modules/snapshots"
	"github.com/aristath/casterly/internal/simulation/progress"
)

// Deps bundles the pipeline stages the orchestrator drives.
type Deps struct {
	Windows      *roi.WindowCalculator
	Daily        *roi.Repository
	WindowRows   *roi.WindowRepository
	Ranker       *ranking.Service
	Ranks        *ranking.Repository
	Detector     *rotation.Detector
	Rotations    *rotation.Repository
	Accounts     *accounts.Repository
	Distributor  *accounts.Redistributor
	Advancer     *accounts.Advancer
	Snapshots    *snapshots.Service
	SnapshotRepo *snapshots.Repository
	Records      *Repository
	Status       *StatusManager
	Events       *events.Manager
}

// Service runs simulations end to end. One instance serves the whole
// process; the status singleton serializes actual runs.
type Service struct {
	deps Deps
	log  zerolog.Logger
}

// NewService creates the simulation orchestrator.
func NewService(deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		deps: deps,
		log:  logger.With().Str("service", "simulation").Logger(),
	}
}

// dayResult is what one simulated day leaves behind for the run loop.
type dayResult struct {
	entries     []domain.TopEntry
	cohort      []string
	cohortROI   float64
	balance     float64
	rotations   int
	distributed bool
}

// RunSimulation executes a full run over the configured date range.
//
// The run claims the status singleton, purges every derived row the
// simulation id left behind, then replays each day: window ROI, ranking,
// rotation detection, account redistribution, balance advancement and the
// daily snapshot. Cancellation is honored at day boundaries, so the day in
// flight always finishes and the stored state stays consistent.
//
// The returned Simulation record is also persisted unless cfg.DryRun is
// set. On failure the record carries the error and the FAILED state.
func (s *Service) RunSimulation(ctx context.Context, cfg RunConfig, cb progress.Callback) (*domain.Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := ranking.ByName(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	dates, err := domain.DateRange(cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, err
	}

	if err := s.deps.Status.Claim(ctx, cfg.SimulationID, len(dates)); err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = cfg.SimulationID
	}
	sim := &domain.Simulation{
		ID:                   cfg.SimulationID,
		Name:                 name,
		Description:          cfg.Description,
		CreatedAt:            time.Now().UTC(),
		StartDate:            cfg.StartDate,
		EndDate:              cfg.EndDate,
		WindowDays:           cfg.WindowDays,
		Strategy:             cfg.Strategy,
		CohortSize:           cfg.CohortSize,
		StopLossThreshold:    cfg.StopLoss,
		MinAUM:               cfg.MinAUM,
		UpdateClientAccounts: cfg.UpdateClientAccounts,
		Status:               domain.StatePreparing,
	}

	s.log.Info().
		Str("simulation_id", cfg.SimulationID).
		Str("start", cfg.StartDate).
		Str("end", cfg.EndDate).
		Int("window_days", cfg.WindowDays).
		Str("strategy", cfg.Strategy).
		Int("cohort_size", cfg.CohortSize).
		Bool("dry_run", cfg.DryRun).
		Msg("Simulation starting")
	s.deps.Events.Emit(events.SimulationStarted, "simulation", map[string]interface{}{
		"simulation_id": cfg.SimulationID,
		"start_date":    cfg.StartDate,
		"end_date":      cfg.EndDate,
		"total_days":    len(dates),
	})

	progress.Call(cb, 0, len(dates), "preparing")
	if err := s.prepare(ctx, cfg); err != nil {
		return s.fail(cfg, sim, fmt.Errorf("failed to prepare simulation: %w", err))
	}

	params := ranking.Params{
		Strategy:   strategy,
		CohortSize: cfg.CohortSize,
		MinAUM:     cfg.MinAUM,
		StopLoss:   cfg.StopLoss,
	}

	var (
		prevEntries []domain.TopEntry
		cohort      []string
		distributed bool
		roiSeries   = make([]float64, 0, len(dates))
		metrics     = make([]domain.DailyMetric, 0, len(dates))
		rotations   int
	)

	for i, date := range dates {
		// Day boundary: a cancelled context stops the run here, never
		// inside a half-written day.
		if ctx.Err() != nil {
			return s.fail(cfg, sim, fmt.Errorf("%w after %d of %d days", domain.ErrCancelled, i, len(dates)))
		}

		res, err := s.processDay(ctx, cfg, params, date, prevEntries, distributed)
		if err != nil {
			return s.fail(cfg, sim, fmt.Errorf("failed to process %s: %w", date, err))
		}

		prevEntries = res.entries
		cohort = res.cohort
		distributed = res.distributed
		rotations += res.rotations
		roiSeries = append(roiSeries, res.cohortROI)
		metrics = append(metrics, domain.DailyMetric{
			Date:         date,
			CohortROI:    res.cohortROI,
			BalanceTotal: res.balance,
			Rotations:    res.rotations,
		})
		sim.DaysProcessed = i + 1

		// The status write is ordered after everything the day persisted,
		// so an observed day count never exceeds the stored state.
		if err := s.deps.Status.Update(ctx, domain.StateRunning, date, i+1, fmt.Sprintf("processed %s", date)); err != nil {
			return s.fail(cfg, sim, err)
		}
		progress.Call(cb, i+1, len(dates), date)
		s.deps.Events.Emit(events.DayCompleted, "simulation", map[string]interface{}{
			"simulation_id": cfg.SimulationID,
			"date":          date,
			"day":           i + 1,
			"rotations":     res.rotations,
		})
	}

	now := time.Now().UTC()
	sim.Status = domain.StateCompleted
	sim.KPIs = ComputeKPIs(roiSeries)
	sim.TotalRotations = rotations
	sim.FinalCohort = cohort
	sim.DailyMetrics = metrics
	sim.CompletedAt = &now

	if !cfg.DryRun {
		if err := s.deps.Records.Save(context.Background(), sim); err != nil {
			return s.fail(cfg, sim, err)
		}
	}
	if err := s.deps.Status.Release(context.Background(), domain.StateCompleted, "completed"); err != nil {
		return sim, err
	}

	s.log.Info().
		Str("simulation_id", cfg.SimulationID).
		Int("days", sim.DaysProcessed).
		Int("rotations", rotations).
		Float64("total_roi", sim.KPIs.TotalROI).
		Msg("Simulation completed")
	s.deps.Events.Emit(events.SimulationCompleted, "simulation", map[string]interface{}{
		"simulation_id": cfg.SimulationID,
		"days":          sim.DaysProcessed,
		"rotations":     rotations,
		"total_roi":     sim.KPIs.TotalROI,
	})

	return sim, nil
}

// GetStatus returns the live status row.
func (s *Service) GetStatus(ctx context.Context) (*domain.SimulationStatus, error) {
	return s.deps.Status.Get(ctx)
}

// ResetSimulation removes every trace of a simulation id: derived rows,
// client accounts and the terminal record. Refused while a run is active.
func (s *Service) ResetSimulation(ctx context.Context, simulationID string) error {
	if simulationID == "" {
		return fmt.Errorf("%w: simulation id is required", domain.ErrInvalidInput)
	}

	status, err := s.deps.Status.Get(ctx)
	if err != nil {
		return err
	}
	if status.IsRunning {
		return domain.ErrSimulationRunning
	}

	if err := s.purgeDerived(ctx, simulationID); err != nil {
		return err
	}
	if err := s.deps.Accounts.DeleteSimulation(ctx, simulationID); err != nil {
		return err
	}
	if err := s.deps.Records.Delete(ctx, simulationID); err != nil {
		return err
	}

	s.log.Info().Str("simulation_id", simulationID).Msg("Simulation reset")
	return nil
}

// prepare purges the previous outputs of this simulation id and restores
// the account universe to its baseline.
func (s *Service) prepare(ctx context.Context, cfg RunConfig) error {
	if err := s.deps.Status.Update(ctx, domain.StatePreparing, "", 0, "purging previous run"); err != nil {
		return err
	}

	if err := s.purgeDerived(ctx, cfg.SimulationID); err != nil {
		return err
	}

	if !cfg.UpdateClientAccounts {
		return nil
	}

	existing, err := s.deps.Accounts.GetAll(ctx, cfg.SimulationID)
	if err != nil {
		return err
	}

	// Same universe shape: keep the accounts and restart them from their
	// original balances. Anything else means rebuild.
	if len(existing) == cfg.NumAccounts && existing[0].InitialBalance == cfg.InitialBalance {
		return s.deps.Accounts.ResetToBaseline(ctx, cfg.SimulationID)
	}

	if err := s.deps.Accounts.DeleteSimulation(ctx, cfg.SimulationID); err != nil {
		return err
	}
	universe := accounts.BuildUniverse(cfg.SimulationID, cfg.NumAccounts, cfg.InitialBalance)
	return s.deps.Accounts.CreateBatch(ctx, universe)
}

// purgeDerived deletes the derived rows of one simulation across every
// pipeline table. The terminal simulations record and the account universe
// are handled separately.
func (s *Service) purgeDerived(ctx context.Context, simulationID string) error {
	purges := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{"daily_roi", s.deps.Daily.DeleteSimulation},
		{"window_roi", s.deps.WindowRows.DeleteSimulation},
		{"rankings", s.deps.Ranks.DeleteSimulation},
		{"rotations", s.deps.Rotations.DeleteSimulation},
		{"snapshots", s.deps.SnapshotRepo.DeleteSimulation},
	}
	for _, p := range purges {
		if err := p.fn(ctx, simulationID); err != nil {
			return fmt.Errorf("failed to purge %s: %w", p.name, err)
		}
	}
	return nil
}

// processDay advances the pipeline by one day. Stage order matters: window
// ROI before ranking, ranking before rotation detection, rotations applied
// to accounts before the rebalance, and balances advanced only after every
// account sits with its final agent for the day.
func (s *Service) processDay(ctx context.Context, cfg RunConfig, params ranking.Params, date string, prev []domain.TopEntry, distributed bool) (*dayResult, error) {
	rows, err := s.deps.Windows.ComputeDay(ctx, cfg.SimulationID, date, cfg.WindowDays)
	if err != nil {
		return nil, err
	}
	windowsByAgent := make(map[string]domain.WindowROI, len(rows))
	for _, row := range rows {
		windowsByAgent[row.AgentID] = row
	}

	footprints := map[string]domain.AgentFootprint{}
	if cfg.UpdateClientAccounts {
		footprints, err = s.deps.Accounts.CountsByAgent(ctx, cfg.SimulationID)
		if err != nil {
			return nil, err
		}
	}

	ranked, err := s.deps.Ranker.RankDay(ctx, params, cfg.WindowDays, cfg.SimulationID, date, rows, footprints)
	if err != nil {
		return nil, err
	}

	res := &dayResult{
		entries:     ranked.Entries,
		cohort:      ranked.Cohort,
		cohortROI:   cohortMeanROI(ranked.Cohort, windowsByAgent),
		distributed: distributed,
	}

	// The first ranked day seeds the cohort; there is nothing to diff.
	if prev != nil {
		detected, err := s.deps.Detector.DetectDay(ctx, rotation.Params{
			SimulationID: cfg.SimulationID,
			Date:         date,
			WindowDays:   cfg.WindowDays,
			StopLoss:     cfg.StopLoss,
		}, prev, ranked.Entries, windowsByAgent, footprints)
		if err != nil {
			return nil, err
		}
		res.rotations = len(detected.Events)
		if res.rotations > 0 {
			s.deps.Events.Emit(events.RotationDetected, "rotation", map[string]interface{}{
				"simulation_id": cfg.SimulationID,
				"date":          date,
				"events":        res.rotations,
			})
		}

		if cfg.UpdateClientAccounts {
			if err := s.applyRotations(ctx, cfg.SimulationID, date, detected.Events); err != nil {
				return nil, err
			}
		}
	}

	if !cfg.UpdateClientAccounts {
		return res, nil
	}

	switch {
	case !res.distributed && len(ranked.Cohort) > 0:
		moved, err := s.deps.Distributor.InitialDistribution(ctx, cfg.SimulationID, date, ranked.Cohort)
		if err != nil {
			return nil, err
		}
		res.distributed = true
		s.deps.Events.Emit(events.AccountsDistributed, "accounts", map[string]interface{}{
			"simulation_id": cfg.SimulationID,
			"date":          date,
			"accounts":      moved,
		})
	case res.distributed && len(ranked.Cohort) > 0:
		moved, err := s.deps.Distributor.Rebalance(ctx, cfg.SimulationID, date, ranked.Cohort)
		if err != nil {
			return nil, err
		}
		if moved > 0 {
			s.deps.Events.Emit(events.AccountsRebalanced, "accounts", map[string]interface{}{
				"simulation_id": cfg.SimulationID,
				"date":          date,
				"accounts":      moved,
			})
		}
	}

	if _, err := s.deps.Advancer.AdvanceDay(ctx, cfg.SimulationID, date); err != nil {
		return nil, err
	}

	snap, err := s.deps.Snapshots.WriteDay(ctx, cfg.SimulationID, date, cfg.SnapshotAccounts)
	if err != nil {
		return nil, err
	}
	res.balance = snap.BalanceTotal

	return res, nil
}

// applyRotations moves the account side of each detected event: paired
// exits hand their book to the incoming agent, unpaired exits unassign it.
// Pure entries receive their share in the rebalance pass.
func (s *Service) applyRotations(ctx context.Context, simulationID, date string, evs []domain.RotationEvent) error {
	for _, ev := range evs {
		switch {
		case ev.AgentOut != nil && ev.AgentIn != nil:
			if _, err := s.deps.Distributor.Transfer(ctx, simulationID, date, *ev.AgentOut, *ev.AgentIn); err != nil {
				return err
			}
		case ev.AgentOut != nil:
			if _, err := s.deps.Distributor.Unassign(ctx, simulationID, date, *ev.AgentOut); err != nil {
				return err
			}
		}
	}
	return nil
}

// fail records the terminal failure, releases the status row and returns
// the original error. Terminal writes use a fresh context so a cancelled
// run can still leave a consistent trail.
func (s *Service) fail(cfg RunConfig, sim *domain.Simulation, runErr error) (*domain.Simulation, error) {
	now := time.Now().UTC()
	sim.Status = domain.StateFailed
	sim.Error = runErr.Error()
	sim.CompletedAt = &now

	cleanupCtx := context.Background()
	if !cfg.DryRun {
		if err := s.deps.Records.Save(cleanupCtx, sim); err != nil {
			s.log.Error().Err(err).Str("simulation_id", sim.ID).Msg("Failed to save failed simulation record")
		}
	}
	if err := s.deps.Status.Release(cleanupCtx, domain.StateFailed, runErr.Error()); err != nil {
		s.log.Error().Err(err).Msg("Failed to release simulation status")
	}

	s.log.Error().Err(runErr).Str("simulation_id", sim.ID).Msg("Simulation failed")
	s.deps.Events.Emit(events.SimulationFailed, "simulation", map[string]interface{}{
		"simulation_id": sim.ID,
		"error":         runErr.Error(),
		"days":          sim.DaysProcessed,
	})

	return sim, runErr
}

// cohortMeanROI is the day's arithmetic mean daily return across cohort
// members. An empty cohort contributes a zero to the KPI series.
func cohortMeanROI(cohort []string, windows map[string]domain.WindowROI) float64 {
	if len(cohort) == 0 {
		return 0
	}
	sum := 0.0
	for _, agentID := range cohort {
		if row, ok := windows[agentID]; ok && len(row.DailyROIs) > 0 {
			sum += row.DailyROIs[len(row.DailyROIs)-1]
		}
	}
	return sum / float64(len(cohort))
}
