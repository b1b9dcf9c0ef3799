package roi

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/modules/marketdata"
	"github.com/aristath/casterly/pkg/formulas"
)

// WindowCalculator computes every agent's trailing-window ROI for one day
// with a fixed query cost: two bulk range scans regardless of how many
// agents or window days are involved, an in-memory (agent × day) grid, and
// a per-agent fan-out on the worker pool.
type WindowCalculator struct {
	market  *marketdata.Repository
	daily   *Repository
	windows *WindowRepository
	pool    *WorkerPool
	log     zerolog.Logger
}

// NewWindowCalculator creates a window-ROI calculator.
func NewWindowCalculator(market *marketdata.Repository, daily *Repository, windows *WindowRepository, pool *WorkerPool, log zerolog.Logger) *WindowCalculator {
	return &WindowCalculator{
		market:  market,
		daily:   daily,
		windows: windows,
		pool:    pool,
		log:     log.With().Str("service", "window_roi").Logger(),
	}
}

// pnlPoint is one grid cell of the movement scan
type pnlPoint struct {
	pnl    float64
	trades int
}

// ComputeDay computes, persists, and returns the window row of every agent
// observed in the balance scan, ordered by agent_id. The roster is defined
// by balances, not movements: an agent that stopped trading but still holds
// a balance keeps appearing with zero-ROI days.
//
// Movements are scanned over [T−W+1, T] and balances over [T−W, T]; the
// extra leading balance day provides the prior-day denominator for the
// first window day. Every daily cell the grid produces is persisted to the
// memo table before the window rows are written, so same-day readers (the
// three-day-fall query in particular) always see day-T cells.
func (c *WindowCalculator) ComputeDay(ctx context.Context, simID, date string, windowDays int) ([]domain.WindowROI, error) {
	if !domain.IsSupportedWindow(windowDays) {
		return nil, fmt.Errorf("%w: unsupported window %d", domain.ErrInvalidInput, windowDays)
	}

	start, err := domain.AddDays(date, -(windowDays - 1))
	if err != nil {
		return nil, err
	}
	balStart, err := domain.AddDays(date, -windowDays)
	if err != nil {
		return nil, err
	}
	dates, err := domain.DateRange(start, date)
	if err != nil {
		return nil, err
	}

	var cells []marketdata.PnLCell
	var balances []domain.EODBalance

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var scanErr error
		cells, scanErr = c.market.PnLByAgentDay(gctx, start, date)
		return scanErr
	})
	g.Go(func() error {
		var scanErr error
		balances, scanErr = c.market.BalancesInRange(gctx, balStart, date)
		return scanErr
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to scan window inputs for %s: %w", date, err)
	}

	pnlGrid := make(map[string]map[string]pnlPoint)
	for _, cell := range cells {
		if pnlGrid[cell.AgentID] == nil {
			pnlGrid[cell.AgentID] = make(map[string]pnlPoint)
		}
		pnlGrid[cell.AgentID][cell.Date] = pnlPoint{pnl: cell.PnL, trades: cell.Trades}
	}

	balGrid := make(map[string]map[string]float64)
	for _, b := range balances {
		if balGrid[b.AgentID] == nil {
			balGrid[b.AgentID] = make(map[string]float64)
		}
		balGrid[b.AgentID][b.Date] = b.Balance
	}

	roster := make([]string, 0, len(balGrid))
	for agentID := range balGrid {
		roster = append(roster, agentID)
	}
	sort.Strings(roster)

	// priorDates[i] is the denominator day for dates[i]
	priorDates := make([]string, len(dates))
	priorDates[0] = balStart
	for i := 1; i < len(dates); i++ {
		priorDates[i] = dates[i-1]
	}

	outputs := c.pool.ComputeBatch(roster, func(agentID string) agentWindow {
		return computeAgentWindow(simID, agentID, dates, priorDates, windowDays, pnlGrid[agentID], balGrid[agentID])
	})

	var allDailies []domain.DailyROI
	rows := make([]domain.WindowROI, 0, len(outputs))
	for _, out := range outputs {
		allDailies = append(allDailies, out.dailies...)
		rows = append(rows, out.row)
	}

	if err := c.daily.UpsertBatch(ctx, allDailies); err != nil {
		return nil, err
	}
	if err := c.windows.UpsertBatch(ctx, windowDays, rows); err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("date", date).
		Int("window_days", windowDays).
		Int("agents", len(rows)).
		Msg("Computed window ROI")

	return rows, nil
}

// computeAgentWindow builds one agent's window row and its daily cells from
// the grid. Pure function; runs inside the worker pool.
func computeAgentWindow(simID, agentID string, dates, priorDates []string, windowDays int, pnl map[string]pnlPoint, bal map[string]float64) agentWindow {
	row := domain.WindowROI{
		SimulationID: simID,
		AgentID:      agentID,
		Date:         dates[len(dates)-1],
		WindowDays:   windowDays,
		DailyROIs:    make([]float64, 0, len(dates)),
	}
	dailies := make([]domain.DailyROI, 0, len(dates))

	for i, d := range dates {
		cell := domain.DailyROI{
			SimulationID: simID,
			AgentID:      agentID,
			Date:         d,
		}
		if p, ok := pnl[d]; ok {
			cell.Pnl = p.pnl
			cell.TradeCount = p.trades
		}
		if prior, ok := bal[priorDates[i]]; ok {
			cell.PriorBalance = prior
		}
		if cell.PriorBalance > 0 && cell.TradeCount > 0 {
			cell.ROI = cell.Pnl / cell.PriorBalance
		}

		row.DailyROIs = append(row.DailyROIs, cell.ROI)
		row.TotalPnlWindow += cell.Pnl
		row.TotalTradesWindow += cell.TradeCount
		switch {
		case cell.ROI > 0:
			row.PositiveDays++
		case cell.ROI < 0:
			row.NegativeDays++
		}

		dailies = append(dailies, cell)
	}

	row.ROIWindowTotal = formulas.CompoundReturn(row.DailyROIs)
	row.BalanceCurrent = bal[row.Date]

	return agentWindow{row: row, dailies: dailies}
}
