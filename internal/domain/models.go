package domain

import "time"

// SupportedWindows lists the window sizes (in calendar days) the engine
// can compute. Window-partitioned tables exist for each of these.
var SupportedWindows = []int{3, 5, 7, 10, 15, 30}

// IsSupportedWindow reports whether w is one of the supported window sizes
func IsSupportedWindow(w int) bool {
	for _, s := range SupportedWindows {
		if s == w {
			return true
		}
	}
	return false
}

// RotationReason classifies why a cohort rotation happened
type RotationReason string

const (
	ReasonStopLoss            RotationReason = "STOP_LOSS"
	ReasonThreeDaysFall       RotationReason = "THREE_DAYS_FALL"
	ReasonRankingDisplacement RotationReason = "RANKING_DISPLACEMENT"
	ReasonDailyRotation       RotationReason = "DAILY_ROTATION"
	ReasonManual              RotationReason = "MANUAL"
)

// SimulationState is the orchestrator state machine position
type SimulationState string

const (
	StateIdle      SimulationState = "IDLE"
	StatePreparing SimulationState = "PREPARING"
	StateRunning   SimulationState = "RUNNING"
	StateCompleted SimulationState = "COMPLETED"
	StateFailed    SimulationState = "FAILED"
)

// Movement is one closed trade of an agent. Immutable source data.
type Movement struct {
	ID        int64   `json:"id"`
	AgentID   string  `json:"agent_id"`
	Date      string  `json:"date"` // YYYY-MM-DD
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"` // long or short
	ClosedPnl float64 `json:"closed_pnl"`
	Qty       float64 `json:"qty"`
}

// EODBalance is an agent's end-of-day balance. Immutable source data.
type EODBalance struct {
	AgentID string  `json:"agent_id"`
	Date    string  `json:"date"`
	Balance float64 `json:"balance"`
}

// DailyROI is the memoized per-(agent, day) return.
// ROI is 0.0 when the prior balance is non-positive or the agent had no
// movements that day; zero is the "no signal" sentinel for the
// three-day-fall counter, never a loss.
type DailyROI struct {
	SimulationID string  `json:"simulation_id"`
	AgentID      string  `json:"agent_id"`
	Date         string  `json:"date"`
	ROI          float64 `json:"roi"`
	Pnl          float64 `json:"pnl"`
	PriorBalance float64 `json:"prior_balance"`
	TradeCount   int     `json:"trade_count"`
}

// WindowROI is the compounded return of an agent over the trailing
// WindowDays calendar days ending on Date, plus derived counters.
type WindowROI struct {
	SimulationID      string    `json:"simulation_id"`
	AgentID           string    `json:"agent_id"`
	Date              string    `json:"date"`
	WindowDays        int       `json:"window_days"`
	ROIWindowTotal    float64   `json:"roi_window_total"` // ∏(1+roi_d) − 1
	TotalPnlWindow    float64   `json:"total_pnl_window"`
	PositiveDays      int       `json:"positive_days"`
	NegativeDays      int       `json:"negative_days"`
	TotalTradesWindow int       `json:"total_trades_window"`
	BalanceCurrent    float64   `json:"balance_current"`
	DailyROIs         []float64 `json:"daily_rois"` // ordered, oldest first, length = WindowDays
}

// AgentFootprint is an agent's live account load: how many client
// accounts it manages and their combined balance.
type AgentFootprint struct {
	Count int     `json:"n_accounts"`
	AUM   float64 `json:"total_aum"`
}

// TopEntry is one row of a day's ranked list. The first CohortSize ranks
// carry InCasterly = true.
type TopEntry struct {
	SimulationID string  `json:"simulation_id"`
	Date         string  `json:"date"`
	Rank         int     `json:"rank"`
	AgentID      string  `json:"agent_id"`
	ROIWindow    float64 `json:"roi_window"`
	NAccounts    int     `json:"n_accounts"`
	TotalAUM     float64 `json:"total_aum"`
	InCasterly   bool    `json:"is_in_casterly"`
}

// AgentState tracks an agent's cohort membership within one simulation.
// EntryDate resets on every re-entry; ROISinceEntry compounds daily while
// membership is continuous.
type AgentState struct {
	SimulationID  string  `json:"simulation_id"`
	AgentID       string  `json:"agent_id"`
	InCasterly    bool    `json:"is_in_casterly"`
	EntryDate     string  `json:"entry_date"`
	ROISinceEntry float64 `json:"roi_since_entry"`
	ROIDay        float64 `json:"roi_day"`
	UpdatedDate   string  `json:"updated_date"`
}

// RotationEvent is one append-only rotation log entry. AgentOut or
// AgentIn is nil when the exit/entry had no counterpart that day.
type RotationEvent struct {
	ID           int64          `json:"id"`
	SimulationID string         `json:"simulation_id"`
	Date         string         `json:"date"`
	AgentOut     *string        `json:"agent_out"`
	AgentIn      *string        `json:"agent_in"`
	Reason       RotationReason `json:"reason"`
	ROIWindowOut *float64       `json:"roi_window_out"`
	// ROITotalOut is the plain sum of the outgoing agent's persisted
	// daily ROIs up to the rotation date. Informational only; it is not
	// compounded and must not be used as a balance multiplier.
	ROITotalOut *float64 `json:"roi_total_out"`
	ROIWindowIn *float64 `json:"roi_window_in"`
	NAccounts   int      `json:"n_accounts"`
	TotalAUM    float64  `json:"total_aum"`
	WindowDays  int      `json:"window_days"`
}

// RankChange records a cohort member whose rank moved between two
// consecutive days. Change is positive when the rank improved.
type RankChange struct {
	SimulationID string `json:"simulation_id"`
	Date         string `json:"date"`
	AgentID      string `json:"agent_id"`
	OldRank      int    `json:"old_rank"`
	NewRank      int    `json:"new_rank"`
	Change       int    `json:"rank_change"` // OldRank − NewRank
}

// ClientAccount is one simulated client account. InitialBalance never
// changes after creation, across resets included.
type ClientAccount struct {
	SimulationID    string  `json:"simulation_id"`
	AccountID       string  `json:"account_id"`
	InitialBalance  float64 `json:"initial_balance"`
	CurrentBalance  float64 `json:"current_balance"`
	CumulativeROI   float64 `json:"cumulative_roi"`
	CurrentAgentID  string  `json:"current_agent_id"` // empty = unassigned
	AssignedAt      string  `json:"assigned_at"`
	ROIAtAssignment float64 `json:"roi_at_assignment"`
	WinRate         float64 `json:"win_rate"`
	DaysTotal       int     `json:"days_total"`
	DaysWon         int     `json:"days_won"`
	ChangeCount     int     `json:"change_count"`
}

// Assignment is one append-only account-to-agent assignment interval
type Assignment struct {
	ID           int64    `json:"id"`
	SimulationID string   `json:"simulation_id"`
	AccountID    string   `json:"account_id"`
	AgentID      string   `json:"agent_id"`
	StartDate    string   `json:"start_date"`
	EndDate      *string  `json:"end_date"`
	StartBalance float64  `json:"start_balance"`
	EndBalance   *float64 `json:"end_balance"`
}

// AgentSlice is the per-agent aggregate inside a daily snapshot
type AgentSlice struct {
	NAccounts    int     `json:"n_accounts"`
	BalanceTotal float64 `json:"balance_total"`
	AvgROI       float64 `json:"avg_roi"`
}

// AccountSnapshot is the compact per-account state embedded in a daily
// snapshot for timeline replay. Serialized with msgpack.
type AccountSnapshot struct {
	AccountID     string  `msgpack:"account_id" json:"account_id"`
	AgentID       string  `msgpack:"agent_id" json:"agent_id"`
	Balance       float64 `msgpack:"balance" json:"balance"`
	CumulativeROI float64 `msgpack:"cumulative_roi" json:"cumulative_roi"`
	WinRate       float64 `msgpack:"win_rate" json:"win_rate"`
}

// Snapshot is the end-of-day aggregate view of all client accounts
type Snapshot struct {
	SimulationID  string                `json:"simulation_id"`
	Date          string                `json:"date"`
	TotalAccounts int                   `json:"total_accounts"`
	BalanceTotal  float64               `json:"balance_total"`
	AvgROI        float64               `json:"avg_roi"`
	AvgWinRate    float64               `json:"avg_win_rate"`
	Distribution  map[string]AgentSlice `json:"distribution"`
	Accounts      []AccountSnapshot     `json:"accounts,omitempty"`
}

// DailyMetric is one point of a simulation's per-day metrics series
type DailyMetric struct {
	Date         string  `json:"date"`
	CohortROI    float64 `json:"cohort_roi"` // mean daily ROI across cohort members
	BalanceTotal float64 `json:"balance_total"`
	Rotations    int     `json:"rotations"`
}

// KPIs are the aggregate performance figures of a completed simulation,
// computed over the daily cohort-average ROI series.
type KPIs struct {
	TotalROI    float64  `json:"total_roi"`    // compounded
	AvgROI      float64  `json:"avg_roi"`      // arithmetic mean
	Volatility  float64  `json:"volatility"`   // sample stddev (n-1)
	MaxDrawdown float64  `json:"max_drawdown"` // signed, zero or below
	WinRate     float64  `json:"win_rate"`
	SharpeRatio *float64 `json:"sharpe_ratio"` // nil when volatility is 0
}

// Simulation is the stored record of one run
type Simulation struct {
	ID                   string          `json:"simulation_id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	CreatedAt            time.Time       `json:"created_at"`
	StartDate            string          `json:"start_date"`
	EndDate              string          `json:"end_date"`
	WindowDays           int             `json:"window_days"`
	Strategy             string          `json:"strategy"`
	CohortSize           int             `json:"cohort_size"`
	StopLossThreshold    float64         `json:"stop_loss_threshold"`
	MinAUM               float64         `json:"min_aum"`
	UpdateClientAccounts bool            `json:"update_client_accounts"`
	Status               SimulationState `json:"status"`
	Error                string          `json:"error,omitempty"`
	DaysProcessed        int             `json:"days_processed"`
	KPIs                 KPIs            `json:"kpis"`
	TotalRotations       int             `json:"total_rotations"`
	FinalCohort          []string        `json:"final_cohort"`
	DailyMetrics         []DailyMetric   `json:"daily_metrics"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// SimulationStatus is the singleton progress document. It doubles as the
// process-wide mutex: only one simulation may hold is_running at a time.
type SimulationStatus struct {
	IsRunning    bool            `json:"is_running"`
	SimulationID string          `json:"simulation_id"`
	State        SimulationState `json:"state"`
	CurrentDay   string          `json:"current_day"` // date being processed
	DayNumber    int             `json:"day_number"`  // 1-based position in the range
	TotalDays    int             `json:"total_days"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Message      string          `json:"message"`
}
