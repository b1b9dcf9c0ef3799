package roi

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/modules/marketdata"
)

func newWindowCalculator(t *testing.T) (*WindowCalculator, *Repository, *WindowRepository, *sql.DB) {
	t.Helper()
	source, results := newTestDBs(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	daily := NewRepository(results, log)
	windows := NewWindowRepository(results, log)
	market := marketdata.NewRepository(source, log)
	calc := NewWindowCalculator(market, daily, windows, NewWorkerPool(4), log)

	return calc, daily, windows, source
}

// seedTradingDay records one movement and the resulting EOD balance
func seedTradingDay(t *testing.T, source *sql.DB, agentID, date string, pnl, eodBalance float64) {
	t.Helper()
	seedMovement(t, source, agentID, date, pnl)
	seedBalance(t, source, agentID, date, eodBalance)
}

func TestComputeDay_CompoundsWindow(t *testing.T) {
	calc, _, _, source := newWindowCalculator(t)
	ctx := context.Background()

	// Three trading days: +10%, −5%, +10% on a 1000 start
	seedBalance(t, source, "A", "2024-01-01", 1000.0)
	seedTradingDay(t, source, "A", "2024-01-02", 100.0, 1100.0)
	seedTradingDay(t, source, "A", "2024-01-03", -55.0, 1045.0)
	seedTradingDay(t, source, "A", "2024-01-04", 104.5, 1149.5)

	rows, err := calc.ComputeDay(ctx, testSim, "2024-01-04", 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "A", row.AgentID)
	assert.Equal(t, "2024-01-04", row.Date)
	assert.Equal(t, 3, row.WindowDays)

	// (1.10 × 0.95 × 1.10) − 1, not the 0.15 a linear sum would give
	assert.InDelta(t, 0.1495, row.ROIWindowTotal, 1e-9)

	require.Len(t, row.DailyROIs, 3)
	assert.InDelta(t, 0.10, row.DailyROIs[0], 1e-9)
	assert.InDelta(t, -0.05, row.DailyROIs[1], 1e-9)
	assert.InDelta(t, 0.10, row.DailyROIs[2], 1e-9)

	assert.Equal(t, 2, row.PositiveDays)
	assert.Equal(t, 1, row.NegativeDays)
	assert.Equal(t, 3, row.TotalTradesWindow)
	assert.InDelta(t, 149.5, row.TotalPnlWindow, 1e-9)
	assert.InDelta(t, 1149.5, row.BalanceCurrent, 1e-9)
}

func TestComputeDay_RosterComesFromBalances(t *testing.T) {
	calc, _, _, source := newWindowCalculator(t)
	ctx := context.Background()

	// A holds balances but never trades: included, all-zero series
	seedBalance(t, source, "A", "2024-01-03", 500.0)
	seedBalance(t, source, "A", "2024-01-04", 500.0)

	// B trades but has no balance rows at all: excluded
	seedMovement(t, source, "B", "2024-01-04", 100.0)

	rows, err := calc.ComputeDay(ctx, testSim, "2024-01-04", 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "A", rows[0].AgentID)
	assert.Zero(t, rows[0].ROIWindowTotal)
	for _, r := range rows[0].DailyROIs {
		assert.Zero(t, r)
	}
}

func TestComputeDay_MissingPriorBalanceIsSentinel(t *testing.T) {
	calc, _, _, source := newWindowCalculator(t)
	ctx := context.Background()

	// No balance on 2024-01-02, so the movement on 2024-01-03 has no
	// denominator and its day contributes a zero
	seedBalance(t, source, "A", "2024-01-01", 1000.0)
	seedMovement(t, source, "A", "2024-01-03", 500.0)
	seedBalance(t, source, "A", "2024-01-03", 1500.0)
	seedTradingDay(t, source, "A", "2024-01-04", 150.0, 1650.0)

	rows, err := calc.ComputeDay(ctx, testSim, "2024-01-04", 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	require.Len(t, row.DailyROIs, 3)
	assert.Zero(t, row.DailyROIs[0])                   // 01-02: no movements
	assert.Zero(t, row.DailyROIs[1])                   // 01-03: no prior balance
	assert.InDelta(t, 0.10, row.DailyROIs[2], 1e-9)    // 150 / 1500
	assert.InDelta(t, 0.10, row.ROIWindowTotal, 1e-9)  // zeros compound as factor 1
}

func TestComputeDay_PersistsDailyCellsBeforeReturning(t *testing.T) {
	calc, daily, _, source := newWindowCalculator(t)
	ctx := context.Background()

	seedBalance(t, source, "A", "2024-01-01", 1000.0)
	seedTradingDay(t, source, "A", "2024-01-02", -100.0, 900.0)
	seedTradingDay(t, source, "A", "2024-01-03", -90.0, 810.0)
	seedTradingDay(t, source, "A", "2024-01-04", -81.0, 729.0)

	_, err := calc.ComputeDay(ctx, testSim, "2024-01-04", 3)
	require.NoError(t, err)

	// Every window day is memoized, so the trailing-streak query sees
	// them immediately
	trailing, err := daily.LastNonZeroAll(ctx, testSim, "2024-01-04", 3)
	require.NoError(t, err)
	require.Len(t, trailing["A"], 3)
	for _, r := range trailing["A"] {
		assert.Negative(t, r)
	}
}

func TestComputeDay_Idempotent(t *testing.T) {
	calc, _, windows, source := newWindowCalculator(t)
	ctx := context.Background()

	seedBalance(t, source, "A", "2024-01-01", 1000.0)
	seedTradingDay(t, source, "A", "2024-01-02", 100.0, 1100.0)
	seedBalance(t, source, "A", "2024-01-03", 1100.0)
	seedBalance(t, source, "A", "2024-01-04", 1100.0)

	first, err := calc.ComputeDay(ctx, testSim, "2024-01-04", 3)
	require.NoError(t, err)
	second, err := calc.ComputeDay(ctx, testSim, "2024-01-04", 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	stored, err := windows.ForDate(ctx, testSim, 3, "2024-01-04")
	require.NoError(t, err)
	assert.Len(t, stored, 1, "recompute must replace, not duplicate")
}

func TestComputeDay_MultipleAgentsSortedByID(t *testing.T) {
	calc, _, _, source := newWindowCalculator(t)
	ctx := context.Background()

	for _, agent := range []string{"charlie", "alpha", "bravo"} {
		seedBalance(t, source, agent, "2024-01-03", 1000.0)
		seedBalance(t, source, agent, "2024-01-04", 1000.0)
	}

	rows, err := calc.ComputeDay(ctx, testSim, "2024-01-04", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "alpha", rows[0].AgentID)
	assert.Equal(t, "bravo", rows[1].AgentID)
	assert.Equal(t, "charlie", rows[2].AgentID)
}

func TestComputeDay_UnsupportedWindow(t *testing.T) {
	calc, _, _, _ := newWindowCalculator(t)

	_, err := calc.ComputeDay(context.Background(), testSim, "2024-01-04", 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWindowRepository_GetRoundTrip(t *testing.T) {
	_, results := newTestDBs(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	windows := NewWindowRepository(results, log)
	ctx := context.Background()

	row := domain.WindowROI{
		SimulationID:      testSim,
		AgentID:           "A",
		Date:              "2024-01-04",
		WindowDays:        7,
		ROIWindowTotal:    0.08,
		TotalPnlWindow:    80.0,
		PositiveDays:      4,
		NegativeDays:      2,
		TotalTradesWindow: 19,
		BalanceCurrent:    1080.0,
		DailyROIs:         []float64{0, 0.01, -0.02, 0.03, 0.02, -0.01, 0.05},
	}
	require.NoError(t, windows.UpsertBatch(ctx, 7, []domain.WindowROI{row}))

	got, err := windows.Get(ctx, testSim, 7, "A", "2024-01-04")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, row, *got)

	missing, err := windows.Get(ctx, testSim, 7, "A", "2024-01-05")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWorkerPool_PreservesInputOrder(t *testing.T) {
	pool := NewWorkerPool(3)
	agents := []string{"e", "a", "c", "b", "d"}

	outputs := pool.ComputeBatch(agents, func(agentID string) agentWindow {
		return agentWindow{row: domain.WindowROI{AgentID: agentID}}
	})

	require.Len(t, outputs, len(agents))
	for i, out := range outputs {
		assert.Equal(t, agents[i], out.row.AgentID)
	}
}

func TestWorkerPool_EmptyBatch(t *testing.T) {
	pool := NewWorkerPool(4)
	outputs := pool.ComputeBatch(nil, func(string) agentWindow { return agentWindow{} })
	assert.Empty(t, outputs)
}
