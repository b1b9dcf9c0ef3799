package accounts

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/modules/roi"
)

// Advancer applies each agent's daily return to the accounts following it.
type Advancer struct {
	repo *Repository
	calc *roi.Calculator
	log  zerolog.Logger
}

// NewAdvancer creates an account advancer.
func NewAdvancer(repo *Repository, calc *roi.Calculator, log zerolog.Logger) *Advancer {
	return &Advancer{
		repo: repo,
		calc: calc,
		log:  log.With().Str("service", "advancer").Logger(),
	}
}

// AdvanceDay compounds every assigned account by its agent's return for
// the day. Assignments are taken as they stand, so on a rotation day the
// newly assigned agent's return applies. Each advanced day counts toward
// the win-rate denominator; only r > 0 counts as a win. Unassigned
// accounts are left untouched.
func (a *Advancer) AdvanceDay(ctx context.Context, simID, date string) (int, error) {
	accts, err := a.repo.GetAll(ctx, simID)
	if err != nil {
		return 0, err
	}

	// One lookup per distinct agent; the bulk window pass has usually
	// memoized these already.
	rois := make(map[string]float64)
	for _, acct := range accts {
		agentID := acct.CurrentAgentID
		if agentID == "" {
			continue
		}
		if _, done := rois[agentID]; done {
			continue
		}
		cell, err := a.calc.DailyROI(ctx, simID, agentID, date)
		if err != nil {
			return 0, err
		}
		rois[agentID] = cell.ROI
	}

	updated := make([]domain.ClientAccount, 0, len(accts))
	for _, acct := range accts {
		if acct.CurrentAgentID == "" {
			continue
		}

		r := rois[acct.CurrentAgentID]
		acct.CurrentBalance *= 1 + r
		acct.CumulativeROI = acct.CurrentBalance/acct.InitialBalance - 1
		acct.DaysTotal++
		if r > 0 {
			acct.DaysWon++
		}
		acct.WinRate = float64(acct.DaysWon) / float64(acct.DaysTotal)

		updated = append(updated, acct)
	}

	if err := a.repo.UpdateBatch(ctx, updated); err != nil {
		return 0, err
	}

	a.log.Debug().
		Str("date", date).
		Int("accounts", len(updated)).
		Int("agents", len(rois)).
		Msg("Advanced account balances")

	return len(updated), nil
}
