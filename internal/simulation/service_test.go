package simulation

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/casterly/internal/database"
	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/events"
	"github.com/aristath/casterly/internal/modules/accounts"
	"github.com/aristath/casterly/internal/modules/marketdata"
	"github.com/aristath/casterly/internal/modules/ranking"
	"github.com/aristath/casterly/internal/modules/roi"
	"github.com/aristath/casterly/internal/modules/rotation"
	"github.com/aristath/casterly/internal/modules/snapshots"
)

type harness struct {
	svc     *Service
	source  *sql.DB
	results *sql.DB
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	open := func(ensure func(*sql.DB) error) *sql.DB {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		// In-memory SQLite is per-connection; a second pool connection
		// would see an empty database
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { db.Close() })
		require.NoError(t, ensure(db))
		return db
	}

	source := open(database.EnsureSourceSchema)
	results := open(database.EnsureResultsSchema)

	log := zerolog.New(nil).Level(zerolog.Disabled)

	market := marketdata.NewRepository(source, log)
	daily := roi.NewRepository(results, log)
	windowRows := roi.NewWindowRepository(results, log)
	windows := roi.NewWindowCalculator(market, daily, windowRows, roi.NewWorkerPool(2), log)
	calc := roi.NewCalculator(daily, market, log)

	rankRepo := ranking.NewRepository(results, log)
	rotRepo := rotation.NewRepository(results, log)
	acctRepo := accounts.NewRepository(results, log)
	snapRepo := snapshots.NewRepository(results, log)

	deps := Deps{
		Windows:      windows,
		Daily:        daily,
		WindowRows:   windowRows,
		Ranker:       ranking.NewService(rankRepo, daily, log),
		Ranks:        rankRepo,
		Detector:     rotation.NewDetector(rotRepo, daily, log),
		Rotations:    rotRepo,
		Accounts:     acctRepo,
		Distributor:  accounts.NewRedistributor(acctRepo, log),
		Advancer:     accounts.NewAdvancer(acctRepo, calc, log),
		Snapshots:    snapshots.NewService(snapRepo, acctRepo, log),
		SnapshotRepo: snapRepo,
		Records:      NewRepository(results, log),
		Status:       NewStatusManager(results, log),
		Events:       events.NewManager(log),
	}

	return &harness{
		svc:     NewService(deps, log),
		source:  source,
		results: results,
		deps:    deps,
	}
}

// seedDay writes one agent-day into the source tables. A zero pnl means the
// agent did not trade that day; the balance row is written either way.
func (h *harness) seedDay(t *testing.T, agentID, date string, pnl, balance float64) {
	t.Helper()
	if pnl != 0 {
		_, err := h.source.Exec(
			"INSERT INTO movements (agent_id, date, symbol, side, closed_pnl, qty) VALUES (?, ?, 'SYM', 'long', ?, 1)",
			agentID, date, pnl)
		require.NoError(t, err)
	}
	_, err := h.source.Exec(
		"INSERT INTO eod_balances (date, agent_id, balance) VALUES (?, ?, ?)",
		date, agentID, balance)
	require.NoError(t, err)
}

// seedScenario seeds five trading days (2024-03-04 through 2024-03-08).
// alice gains steadily; bob collapses and is expelled on the third day with
// carol taking his place; carol then out-trades alice and takes rank 1 on
// the last day. Balances are pinned at 10000 so every daily return is just
// pnl/10000.
func (h *harness) seedScenario(t *testing.T) {
	t.Helper()

	pnl := map[string][]float64{
		"alice": {200, 200, 200, 200, 200},
		"bob":   {150, -600, -700, 0, 0},
		"carol": {-500, 0, 300, 300, 300},
	}

	days := []string{"2024-03-04", "2024-03-05", "2024-03-06", "2024-03-07", "2024-03-08"}
	for agentID, series := range pnl {
		// Balance rows start before the range so the first window day has
		// its prior-day denominator
		for _, date := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
			h.seedDay(t, agentID, date, 0, 10000)
		}
		for i, date := range days {
			h.seedDay(t, agentID, date, series[i], 10000)
		}
	}
}

func testRunConfig() RunConfig {
	return RunConfig{
		SimulationID:         "sim-e2e",
		StartDate:            "2024-03-04",
		EndDate:              "2024-03-08",
		WindowDays:           3,
		Strategy:             "roi",
		CohortSize:           2,
		StopLoss:             -0.10,
		MinAUM:               0.01,
		NumAccounts:          4,
		InitialBalance:       1000,
		UpdateClientAccounts: true,
		Workers:              2,
	}
}

func TestRunSimulation_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.seedScenario(t)
	ctx := context.Background()

	calls := 0
	sim, err := h.svc.RunSimulation(ctx, testRunConfig(), func(current, total int, message string) {
		calls++
		assert.Equal(t, 5, total)
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StateCompleted, sim.Status)
	assert.Equal(t, 5, sim.DaysProcessed)
	assert.Equal(t, 1, sim.TotalRotations)
	assert.Equal(t, []string{"carol", "alice"}, sim.FinalCohort)
	assert.Equal(t, 6, calls) // preparing plus one per day
	require.NotNil(t, sim.CompletedAt)

	// Daily cohort-average returns: both members' same-day ROI, halved
	require.Len(t, sim.DailyMetrics, 5)
	assert.InDelta(t, 0.0175, sim.DailyMetrics[0].CohortROI, 1e-9)
	assert.InDelta(t, -0.02, sim.DailyMetrics[1].CohortROI, 1e-9)
	assert.InDelta(t, 0.025, sim.DailyMetrics[2].CohortROI, 1e-9)
	assert.Equal(t, 1, sim.DailyMetrics[2].Rotations)
	assert.Equal(t, 0, sim.DailyMetrics[4].Rotations)

	wantTotal := 1.0175*0.98*1.025*1.025*1.025 - 1
	assert.InDelta(t, wantTotal, sim.KPIs.TotalROI, 1e-9)
	assert.InDelta(t, 0.8, sim.KPIs.WinRate, 1e-9)
	assert.InDelta(t, -0.02, sim.KPIs.MaxDrawdown, 1e-9)
	require.NotNil(t, sim.KPIs.SharpeRatio)
	assert.Greater(t, sim.KPIs.Volatility, 0.0)

	// Status row released with the terminal state
	status, err := h.svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, domain.StateCompleted, status.State)
	assert.Equal(t, 5, status.DayNumber)
	assert.Equal(t, "2024-03-08", status.CurrentDay)

	// Terminal record persisted and readable
	stored, err := h.deps.Records.Get(ctx, "sim-e2e")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StateCompleted, stored.Status)
	assert.InDelta(t, wantTotal, stored.KPIs.TotalROI, 1e-9)
	assert.Equal(t, []string{"carol", "alice"}, stored.FinalCohort)
	require.Len(t, stored.DailyMetrics, 5)
}

func TestRunSimulation_RotationAudit(t *testing.T) {
	h := newHarness(t)
	h.seedScenario(t)
	ctx := context.Background()

	_, err := h.svc.RunSimulation(ctx, testRunConfig(), nil)
	require.NoError(t, err)

	evs, err := h.deps.Rotations.EventsForDate(ctx, "sim-e2e", "2024-03-06")
	require.NoError(t, err)
	require.Len(t, evs, 1)

	ev := evs[0]
	require.NotNil(t, ev.AgentOut)
	require.NotNil(t, ev.AgentIn)
	assert.Equal(t, "bob", *ev.AgentOut)
	assert.Equal(t, "carol", *ev.AgentIn)
	assert.Equal(t, domain.ReasonStopLoss, ev.Reason)
	require.NotNil(t, ev.ROIWindowOut)
	assert.InDelta(t, 1.015*0.94*0.93-1, *ev.ROIWindowOut, 1e-9)
	require.NotNil(t, ev.ROITotalOut)
	assert.InDelta(t, -0.115, *ev.ROITotalOut, 1e-9)
	assert.Equal(t, 2, ev.NAccounts)
	assert.InDelta(t, 2*1000*1.015*0.94, ev.TotalAUM, 1e-6)
	assert.Equal(t, 3, ev.WindowDays)

	count, err := h.deps.Rotations.CountBySimulation(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// carol overtakes alice on the last day without any membership change
	changes, err := h.deps.Rotations.RankChangesForDate(ctx, "sim-e2e", "2024-03-08")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "carol", changes[0].AgentID)
	assert.Equal(t, 2, changes[0].OldRank)
	assert.Equal(t, 1, changes[0].NewRank)
	assert.Equal(t, 1, changes[0].Change)
	assert.Equal(t, "alice", changes[1].AgentID)
	assert.Equal(t, -1, changes[1].Change)
}

func TestRunSimulation_AccountLifecycle(t *testing.T) {
	h := newHarness(t)
	h.seedScenario(t)
	ctx := context.Background()

	_, err := h.svc.RunSimulation(ctx, testRunConfig(), nil)
	require.NoError(t, err)

	aliceBal := 1000 * 1.02 * 1.02 * 1.02 * 1.02 * 1.02
	carolBal := 1000 * 1.015 * 0.94 * 1.03 * 1.03 * 1.03

	aliceBook, err := h.deps.Accounts.GetByAgent(ctx, "sim-e2e", "alice")
	require.NoError(t, err)
	require.Len(t, aliceBook, 2)
	for _, acct := range aliceBook {
		assert.InDelta(t, aliceBal, acct.CurrentBalance, 1e-6)
		assert.Equal(t, 5, acct.DaysTotal)
		assert.Equal(t, 5, acct.DaysWon)
		assert.Equal(t, 0, acct.ChangeCount)
	}

	// bob's book moved wholesale to carol on the rotation day and took
	// carol's returns from that day on
	carolBook, err := h.deps.Accounts.GetByAgent(ctx, "sim-e2e", "carol")
	require.NoError(t, err)
	require.Len(t, carolBook, 2)
	for _, acct := range carolBook {
		assert.InDelta(t, carolBal, acct.CurrentBalance, 1e-6)
		assert.Equal(t, 5, acct.DaysTotal)
		assert.Equal(t, 4, acct.DaysWon)
		assert.InDelta(t, 0.8, acct.WinRate, 1e-9)
		assert.Equal(t, 1, acct.ChangeCount)
		assert.Equal(t, "2024-03-06", acct.AssignedAt)
	}

	bobBook, err := h.deps.Accounts.GetByAgent(ctx, "sim-e2e", "bob")
	require.NoError(t, err)
	assert.Empty(t, bobBook)

	history, err := h.deps.Accounts.History(ctx, "sim-e2e", carolBook[0].AccountID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "bob", history[0].AgentID)
	require.NotNil(t, history[0].EndDate)
	assert.Equal(t, "2024-03-06", *history[0].EndDate)
	assert.Equal(t, "carol", history[1].AgentID)
	assert.Nil(t, history[1].EndDate)

	// One snapshot per day; the last one carries the final universe value
	dates, err := h.deps.SnapshotRepo.Dates(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Len(t, dates, 5)

	snap, err := h.deps.SnapshotRepo.Get(ctx, "sim-e2e", "2024-03-08")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.InDelta(t, 2*aliceBal+2*carolBal, snap.BalanceTotal, 1e-6)
	assert.Len(t, snap.Distribution, 2)
}

func TestRunSimulation_RejectedWhileAnotherRuns(t *testing.T) {
	h := newHarness(t)
	h.seedScenario(t)
	ctx := context.Background()

	require.NoError(t, h.deps.Status.Claim(ctx, "sim-other", 10))

	_, err := h.svc.RunSimulation(ctx, testRunConfig(), nil)
	require.ErrorIs(t, err, domain.ErrSimulationRunning)

	// The losing run must not have touched the claim
	status, err := h.svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
	assert.Equal(t, "sim-other", status.SimulationID)
}

func TestRunSimulation_DryRunSkipsRecord(t *testing.T) {
	h := newHarness(t)
	h.seedScenario(t)
	ctx := context.Background()

	cfg := testRunConfig()
	cfg.DryRun = true

	sim, err := h.svc.RunSimulation(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, sim.Status)

	stored, err := h.deps.Records.Get(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// The pipeline itself still ran
	dates, err := h.deps.SnapshotRepo.Dates(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Len(t, dates, 5)
}

func TestRunSimulation_AccountsDisabled(t *testing.T) {
	h := newHarness(t)
	h.seedScenario(t)
	ctx := context.Background()

	cfg := testRunConfig()
	cfg.UpdateClientAccounts = false

	sim, err := h.svc.RunSimulation(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, sim.Status)
	assert.Equal(t, 1, sim.TotalRotations)

	// No universe, no snapshots; rankings and the rotation log still exist
	n, err := h.deps.Accounts.Count(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Zero(t, n)

	dates, err := h.deps.SnapshotRepo.Dates(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Empty(t, dates)

	cohort, err := h.deps.Ranks.GetCohort(ctx, 3, "sim-e2e", "2024-03-08")
	require.NoError(t, err)
	require.Len(t, cohort, 2)
	assert.Equal(t, "carol", cohort[0].AgentID)

	evs, err := h.deps.Rotations.EventsForDate(ctx, "sim-e2e", "2024-03-06")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Zero(t, evs[0].NAccounts)
}

func TestRunSimulation_RerunIsDeterministic(t *testing.T) {
	h := newHarness(t)
	h.seedScenario(t)
	ctx := context.Background()

	first, err := h.svc.RunSimulation(ctx, testRunConfig(), nil)
	require.NoError(t, err)

	// The rerun resets the same universe to baseline and must land on the
	// exact same trajectory
	second, err := h.svc.RunSimulation(ctx, testRunConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.KPIs.TotalROI, second.KPIs.TotalROI)
	assert.Equal(t, first.FinalCohort, second.FinalCohort)
	assert.Equal(t, first.TotalRotations, second.TotalRotations)

	count, err := h.deps.Rotations.CountBySimulation(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	accts, err := h.deps.Accounts.GetAll(ctx, "sim-e2e")
	require.NoError(t, err)
	require.Len(t, accts, 4)
	for _, acct := range accts {
		assert.InDelta(t, 1000, acct.InitialBalance, 1e-9)
		assert.Equal(t, 5, acct.DaysTotal)
	}
}

func TestRunSimulation_CancelStopsAtDayBoundary(t *testing.T) {
	h := newHarness(t)
	h.seedScenario(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim, err := h.svc.RunSimulation(ctx, testRunConfig(), func(current, total int, message string) {
		if current == 2 {
			cancel()
		}
	})
	require.ErrorIs(t, err, domain.ErrCancelled)
	require.NotNil(t, sim)
	assert.Equal(t, domain.StateFailed, sim.Status)
	assert.Equal(t, 2, sim.DaysProcessed)

	// The day in flight finished; the claim was released with FAILED
	status, err := h.svc.GetStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, domain.StateFailed, status.State)

	stored, err := h.deps.Records.Get(context.Background(), "sim-e2e")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StateFailed, stored.Status)
	assert.Contains(t, stored.Error, "cancelled")
}

func TestRunSimulation_InvalidConfigLeavesStatusIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cfg := testRunConfig()
	cfg.EndDate = "2024-03-01" // before start

	_, err := h.svc.RunSimulation(ctx, cfg, nil)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	status, err := h.svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, domain.StateIdle, status.State)
}

func TestResetSimulation(t *testing.T) {
	h := newHarness(t)
	h.seedScenario(t)
	ctx := context.Background()

	_, err := h.svc.RunSimulation(ctx, testRunConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, h.svc.ResetSimulation(ctx, "sim-e2e"))

	stored, err := h.deps.Records.Get(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Nil(t, stored)

	n, err := h.deps.Accounts.Count(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Zero(t, n)

	dates, err := h.deps.SnapshotRepo.Dates(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Empty(t, dates)

	count, err := h.deps.Rotations.CountBySimulation(ctx, "sim-e2e")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestResetSimulation_RefusedWhileRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.deps.Status.Claim(ctx, "sim-e2e", 5))

	err := h.svc.ResetSimulation(ctx, "sim-e2e")
	require.ErrorIs(t, err, domain.ErrSimulationRunning)
}
