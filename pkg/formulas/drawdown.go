package formulas

// DrawdownMetrics represents drawdown analysis results
type DrawdownMetrics struct {
	MaxDrawdown     float64 `json:"max_drawdown"`     // Deepest drawdown (signed, ≤ 0; -0.25 = 25% below peak)
	CurrentDrawdown float64 `json:"current_drawdown"` // Drawdown from peak at the end of the series (signed)
	DaysInDrawdown  int     `json:"days_in_drawdown"` // Days since the peak
	PeakValue       float64 `json:"peak_value"`       // Value at peak
	CurrentValue    float64 `json:"current_value"`    // Last value of the series
}

// MaxDrawdown calculates the maximum drawdown of a value series (usually
// an equity curve from EquityCurve).
//
// Drawdown Formula:
//
//	Drawdown_t = (V_t − peak_t) / peak_t   where peak_t = max_{s ≤ t} V_s
//	Max Drawdown = min_t Drawdown_t
//
// The result is signed: 0 means the series never fell below a prior
// peak, -0.25 means it fell 25% below one. Returns nil when fewer than
// two values exist.
func MaxDrawdown(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]

	for _, v := range values {
		if v > peak {
			peak = v
		}

		if peak > 0 {
			drawdown := (v - peak) / peak
			if drawdown < maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return &maxDrawdown
}

// CalculateDrawdownMetrics calculates comprehensive drawdown metrics
// including current drawdown, days in drawdown, and peak values
func CalculateDrawdownMetrics(values []float64) *DrawdownMetrics {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]
	peakIndex := 0
	currentValue := values[len(values)-1]

	for i, v := range values {
		if v > peak {
			peak = v
			peakIndex = i
		}

		if peak > 0 {
			drawdown := (v - peak) / peak
			if drawdown < maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	currentDrawdown := 0.0
	if peak > 0 {
		currentDrawdown = (currentValue - peak) / peak
	}

	return &DrawdownMetrics{
		MaxDrawdown:     maxDrawdown,
		CurrentDrawdown: currentDrawdown,
		DaysInDrawdown:  len(values) - 1 - peakIndex,
		PeakValue:       peak,
		CurrentValue:    currentValue,
	}
}
