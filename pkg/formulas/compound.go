package formulas

// CompoundReturn compounds a sequence of periodic returns into a single
// total return.
//
// Formula:
//
//	total = ∏(1 + r_i) − 1
//
// Sums of percentages are misleading across compounding periods; the
// product of growth factors matches balance-drift semantics.
func CompoundReturn(returns []float64) float64 {
	factor := 1.0
	for _, r := range returns {
		factor *= 1 + r
	}
	return factor - 1
}

// EquityCurve converts periodic returns into the cumulative growth curve.
//
//	V_t = ∏_{u ≤ t} (1 + r_u)
//
// The returned slice has the same length as the input.
func EquityCurve(returns []float64) []float64 {
	curve := make([]float64, len(returns))
	factor := 1.0
	for i, r := range returns {
		factor *= 1 + r
		curve[i] = factor
	}
	return curve
}
