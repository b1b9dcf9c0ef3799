package snapshots

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/modules/accounts"
)

// Service aggregates the account universe into one snapshot per day.
type Service struct {
	repo     *Repository
	accounts *accounts.Repository
	log      zerolog.Logger
}

// NewService creates a snapshot service.
func NewService(repo *Repository, accts *accounts.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accts,
		log:      log.With().Str("service", "snapshots").Logger(),
	}
}

// WriteDay captures the account universe as of end of day: totals and
// averages over all accounts, the per-agent distribution, and (when
// withAccounts is set) the packed per-account array for replay. Writing
// the same day again overwrites the previous capture.
func (s *Service) WriteDay(ctx context.Context, simID, date string, withAccounts bool) (*domain.Snapshot, error) {
	accts, err := s.accounts.GetAll(ctx, simID)
	if err != nil {
		return nil, err
	}

	snap := domain.Snapshot{
		SimulationID:  simID,
		Date:          date,
		TotalAccounts: len(accts),
		Distribution:  make(map[string]domain.AgentSlice),
	}

	type agentTotals struct {
		balance float64
		roi     float64
		n       int
	}
	perAgent := make(map[string]*agentTotals)

	var roiSum, winSum float64
	for _, acct := range accts {
		snap.BalanceTotal += acct.CurrentBalance
		roiSum += acct.CumulativeROI
		winSum += acct.WinRate

		if acct.CurrentAgentID != "" {
			totals := perAgent[acct.CurrentAgentID]
			if totals == nil {
				totals = &agentTotals{}
				perAgent[acct.CurrentAgentID] = totals
			}
			totals.n++
			totals.balance += acct.CurrentBalance
			totals.roi += acct.CumulativeROI
		}

		if withAccounts {
			snap.Accounts = append(snap.Accounts, domain.AccountSnapshot{
				AccountID:     acct.AccountID,
				AgentID:       acct.CurrentAgentID,
				Balance:       acct.CurrentBalance,
				CumulativeROI: acct.CumulativeROI,
				WinRate:       acct.WinRate,
			})
		}
	}

	if len(accts) > 0 {
		snap.AvgROI = roiSum / float64(len(accts))
		snap.AvgWinRate = winSum / float64(len(accts))
	}

	for agentID, totals := range perAgent {
		snap.Distribution[agentID] = domain.AgentSlice{
			NAccounts:    totals.n,
			BalanceTotal: totals.balance,
			AvgROI:       totals.roi / float64(totals.n),
		}
	}

	if err := s.repo.Upsert(ctx, snap); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("date", date).
		Int("accounts", snap.TotalAccounts).
		Float64("total_balance", snap.BalanceTotal).
		Msg("Wrote daily snapshot")

	return &snap, nil
}
