package formulas

// SharpeRatio calculates the non-annualized Sharpe ratio of a series of
// periodic returns.
//
// Sharpe Ratio Formula:
//
//	Sharpe = Mean(returns) / StdDev(returns)
//
// No risk-free rate is subtracted; the series is already net of costs.
//
// Returns:
//
//	Sharpe ratio, or nil when fewer than two returns exist or the
//	standard deviation is zero (the ratio is undefined, not zero).
func SharpeRatio(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	sharpe := Mean(returns) / stdDev
	return &sharpe
}
