package simulation

import (
	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/pkg/formulas"
)

// ComputeKPIs derives the aggregate performance figures of a run from its
// daily cohort-average ROI series.
//
// All figures describe the same series: total ROI compounds it, volatility
// is its sample standard deviation, max drawdown is measured on the equity
// curve built from it, and the Sharpe ratio stays nil when the series has
// no spread.
func ComputeKPIs(dailyROIs []float64) domain.KPIs {
	kpis := domain.KPIs{
		TotalROI:    formulas.CompoundReturn(dailyROIs),
		AvgROI:      formulas.Mean(dailyROIs),
		Volatility:  formulas.StdDev(dailyROIs),
		WinRate:     formulas.WinRate(dailyROIs),
		SharpeRatio: formulas.SharpeRatio(dailyROIs),
	}

	if dd := formulas.MaxDrawdown(formulas.EquityCurve(dailyROIs)); dd != nil {
		kpis.MaxDrawdown = *dd
	}

	return kpis
}
