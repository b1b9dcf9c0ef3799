// Package ranking orders the day's agents, applies the expulsion
// pre-filters, and maintains cohort membership state.
package ranking

import (
	"fmt"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/pkg/formulas"
)

// Strategy reduces one agent's window row to a sortable score. Higher is
// better; ties are broken by agent_id ascending outside the strategy.
type Strategy interface {
	Score(row domain.WindowROI) float64
	Name() string
}

// ROIStrategy ranks by the compounded window return. This is the default.
type ROIStrategy struct{}

func (ROIStrategy) Score(row domain.WindowROI) float64 { return row.ROIWindowTotal }
func (ROIStrategy) Name() string                       { return "roi" }

// SharpeStrategy ranks by the Sharpe ratio of the window's daily series.
// An undefined ratio (flat series) scores zero so it sorts with the
// unremarkable middle rather than the top.
type SharpeStrategy struct{}

func (SharpeStrategy) Score(row domain.WindowROI) float64 {
	if s := formulas.SharpeRatio(row.DailyROIs); s != nil {
		return *s
	}
	return 0
}
func (SharpeStrategy) Name() string { return "sharpe" }

// PnLStrategy ranks by absolute window profit, ignoring account size.
type PnLStrategy struct{}

func (PnLStrategy) Score(row domain.WindowROI) float64 { return row.TotalPnlWindow }
func (PnLStrategy) Name() string                       { return "pnl" }

// WinRateStrategy ranks by the share of winning days among days that had a
// signal. Agents with no non-zero days score zero.
type WinRateStrategy struct{}

func (WinRateStrategy) Score(row domain.WindowROI) float64 {
	signalDays := row.PositiveDays + row.NegativeDays
	if signalDays == 0 {
		return 0
	}
	return float64(row.PositiveDays) / float64(signalDays)
}
func (WinRateStrategy) Name() string { return "win_rate" }

// CompositeStrategy blends return, risk-adjusted return, and consistency
// into one weighted score.
type CompositeStrategy struct {
	ROIWeight     float64
	SharpeWeight  float64
	WinRateWeight float64
}

// NewCompositeStrategy returns the composite with its default weights.
func NewCompositeStrategy() CompositeStrategy {
	return CompositeStrategy{
		ROIWeight:     0.5,
		SharpeWeight:  0.3,
		WinRateWeight: 0.2,
	}
}

func (s CompositeStrategy) Score(row domain.WindowROI) float64 {
	return s.ROIWeight*ROIStrategy{}.Score(row) +
		s.SharpeWeight*SharpeStrategy{}.Score(row) +
		s.WinRateWeight*WinRateStrategy{}.Score(row)
}
func (s CompositeStrategy) Name() string { return "composite" }

// ByName resolves a strategy identifier from configuration.
func ByName(name string) (Strategy, error) {
	switch name {
	case "", "roi":
		return ROIStrategy{}, nil
	case "sharpe":
		return SharpeStrategy{}, nil
	case "pnl":
		return PnLStrategy{}, nil
	case "win_rate":
		return WinRateStrategy{}, nil
	case "composite":
		return NewCompositeStrategy(), nil
	default:
		return nil, fmt.Errorf("%w: unknown ranking strategy %q", domain.ErrInvalidInput, name)
	}
}
