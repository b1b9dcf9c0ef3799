package roi

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/modules/marketdata"
)

// Calculator produces single daily-ROI cells on demand, memoized through
// the repository. The bulk window path fills the same table ahead of time,
// so in a running simulation most lookups are memo hits.
type Calculator struct {
	repo   *Repository
	market *marketdata.Repository
	log    zerolog.Logger
}

// NewCalculator creates a daily-ROI calculator.
func NewCalculator(repo *Repository, market *marketdata.Repository, log zerolog.Logger) *Calculator {
	return &Calculator{
		repo:   repo,
		market: market,
		log:    log.With().Str("service", "roi_calculator").Logger(),
	}
}

// DailyROI returns the agent's return for one day:
//
//	roi = pnl(date) / eod_balance(date − 1)
//
// with 0.0 as the sentinel when the prior balance is missing or
// non-positive, or when the agent had no movements that day. The computed
// cell is persisted before returning so the next lookup is a memo hit.
func (c *Calculator) DailyROI(ctx context.Context, simID, agentID, date string) (domain.DailyROI, error) {
	cached, err := c.repo.Get(ctx, simID, agentID, date)
	if err != nil {
		return domain.DailyROI{}, err
	}
	if cached != nil {
		return *cached, nil
	}

	pnl, trades, err := c.market.AgentPnLOn(ctx, agentID, date)
	if err != nil {
		return domain.DailyROI{}, err
	}

	priorDate, err := domain.AddDays(date, -1)
	if err != nil {
		return domain.DailyROI{}, fmt.Errorf("invalid date %q: %w", date, err)
	}

	prior, err := c.market.BalanceOn(ctx, agentID, priorDate)
	if err != nil {
		return domain.DailyROI{}, err
	}

	cell := domain.DailyROI{
		SimulationID: simID,
		AgentID:      agentID,
		Date:         date,
		TradeCount:   trades,
		Pnl:          pnl,
	}
	if prior != nil {
		cell.PriorBalance = *prior
	}

	// Division only on a positive prior balance with actual trading. A
	// zero here means "no signal", never a gain or a loss.
	if prior != nil && *prior > 0 && trades > 0 {
		cell.ROI = pnl / *prior
	}

	if err := c.repo.UpsertBatch(ctx, []domain.DailyROI{cell}); err != nil {
		return domain.DailyROI{}, err
	}

	return cell, nil
}
