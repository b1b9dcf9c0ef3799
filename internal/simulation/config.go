package simulation

import (
	"fmt"

	"github.com/aristath/casterly/internal/config"
	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/modules/ranking"
)

// minRangeDays is the shortest meaningful run: anything below three days
// cannot express a rotation followed by its aftermath.
const minRangeDays = 3

// RunConfig carries everything a single simulation run needs. Zero values
// are not usable; build one with FromDefaults and override as needed.
type RunConfig struct {
	SimulationID string
	Name         string
	Description  string

	// Inclusive date range, ISO format (YYYY-MM-DD).
	StartDate string
	EndDate   string

	WindowDays int
	Strategy   string
	CohortSize int
	StopLoss   float64
	MinAUM     float64

	NumAccounts    int
	InitialBalance float64

	// UpdateClientAccounts gates the whole account pipeline. When false the
	// run still ranks and logs rotations but never touches client accounts.
	UpdateClientAccounts bool

	// DryRun computes everything but skips the final simulations record.
	DryRun bool

	// SnapshotAccounts embeds the full per-account state in each daily
	// snapshot. Expensive for large universes.
	SnapshotAccounts bool

	Workers int
}

// FromDefaults seeds a RunConfig from the application defaults. The caller
// still has to fill SimulationID and the date range.
func FromDefaults(def config.SimulationDefaults) RunConfig {
	return RunConfig{
		WindowDays:           def.WindowDays,
		Strategy:             def.Strategy,
		CohortSize:           def.CohortSize,
		StopLoss:             def.StopLossThreshold,
		MinAUM:               def.MinAUM,
		NumAccounts:          def.Accounts,
		InitialBalance:       def.InitialBalance,
		UpdateClientAccounts: true,
		Workers:              def.Workers,
	}
}

// Validate checks the configuration and returns ErrInvalidInput describing
// the first problem found.
func (c RunConfig) Validate() error {
	if c.SimulationID == "" {
		return fmt.Errorf("%w: simulation id is required", domain.ErrInvalidInput)
	}
	start, err := domain.ParseDate(c.StartDate)
	if err != nil {
		return fmt.Errorf("%w: invalid start date %q", domain.ErrInvalidInput, c.StartDate)
	}
	end, err := domain.ParseDate(c.EndDate)
	if err != nil {
		return fmt.Errorf("%w: invalid end date %q", domain.ErrInvalidInput, c.EndDate)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end date %s precedes start date %s", domain.ErrInvalidInput, c.EndDate, c.StartDate)
	}
	if days := c.Days(); days < minRangeDays {
		return fmt.Errorf("%w: date range spans %d days, need at least %d", domain.ErrInvalidInput, days, minRangeDays)
	}
	if !domain.IsSupportedWindow(c.WindowDays) {
		return fmt.Errorf("%w: unsupported window %d (supported: %v)", domain.ErrInvalidInput, c.WindowDays, domain.SupportedWindows)
	}
	if _, err := ranking.ByName(c.Strategy); err != nil {
		return err
	}
	if c.CohortSize < 1 {
		return fmt.Errorf("%w: cohort size must be positive, got %d", domain.ErrInvalidInput, c.CohortSize)
	}
	if c.StopLoss >= 0 {
		return fmt.Errorf("%w: stop loss must be negative, got %f", domain.ErrInvalidInput, c.StopLoss)
	}
	if c.MinAUM < 0 {
		return fmt.Errorf("%w: min AUM must not be negative, got %f", domain.ErrInvalidInput, c.MinAUM)
	}
	if c.UpdateClientAccounts {
		if c.NumAccounts < 1 {
			return fmt.Errorf("%w: number of accounts must be positive, got %d", domain.ErrInvalidInput, c.NumAccounts)
		}
		if c.InitialBalance <= 0 {
			return fmt.Errorf("%w: initial balance must be positive, got %f", domain.ErrInvalidInput, c.InitialBalance)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", domain.ErrInvalidInput, c.Workers)
	}
	return nil
}

// Days returns the number of simulated days in the inclusive range. Both
// dates must parse; Validate checks that first.
func (c RunConfig) Days() int {
	days, err := domain.DaysBetween(c.StartDate, c.EndDate)
	if err != nil {
		return 0
	}
	return days + 1
}
