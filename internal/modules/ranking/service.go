package ranking

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/modules/roi"
)

// Filter labels attached to agents removed before ranking.
const (
	FilterMinAUM       = "min_aum"
	FilterStopLoss     = "stop_loss"
	FilterThreeDayFall = "three_day_fall"
)

// Params are the per-run knobs of the ranking stage.
type Params struct {
	Strategy   Strategy
	CohortSize int
	MinAUM     float64 // balance at or below this is treated as dust
	StopLoss   float64 // expulsion threshold, negative (e.g. -0.10)
}

// DayRanking is the outcome of ranking one day.
type DayRanking struct {
	Entries []domain.TopEntry // full ranked list, rank order
	Cohort  []string          // top CohortSize agent ids, rank order
	Dropped map[string]string // agent id -> filter that removed it
}

// Service ranks a day's agents and maintains membership state.
type Service struct {
	repo  *Repository
	daily *roi.Repository
	log   zerolog.Logger
}

// NewService creates a ranking service.
func NewService(repo *Repository, daily *roi.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		daily: daily,
		log:   log.With().Str("service", "ranking").Logger(),
	}
}

// scored pairs a window row with its strategy score and effective
// since-entry return for the day.
type scored struct {
	row        domain.WindowROI
	score      float64
	roiDay     float64
	sinceEntry float64 // compounded through today; meaningful for members
	entryDate  string  // carried forward for continuing members
	wasMember  bool
}

// RankDay applies the expulsion pre-filters to the day's window rows,
// orders the survivors, persists the ranked list, and advances membership
// state. The ranked list puts every agent with a positive window return
// ahead of every agent without one; within a bucket the strategy score
// decides, with agent_id as the deterministic tie-break.
//
// Membership state compounds roi_since_entry with today's daily return
// before the in-cohort stop-loss is evaluated, so a member whose losses
// cross the threshold today is expelled today, not tomorrow.
func (s *Service) RankDay(ctx context.Context, params Params, windowDays int, simID, date string, rows []domain.WindowROI, accounts map[string]domain.AgentFootprint) (*DayRanking, error) {
	if params.CohortSize <= 0 {
		return nil, fmt.Errorf("%w: cohort size must be positive", domain.ErrInvalidInput)
	}
	if params.Strategy == nil {
		return nil, fmt.Errorf("%w: ranking strategy is required", domain.ErrInvalidInput)
	}

	states, err := s.repo.GetStates(ctx, simID)
	if err != nil {
		return nil, err
	}

	trailing, err := s.daily.LastNonZeroAll(ctx, simID, date, 3)
	if err != nil {
		return nil, err
	}

	dropped := make(map[string]string)
	var survivors []scored

	for _, row := range rows {
		prev, had := states[row.AgentID]
		wasMember := had && prev.InCasterly

		roiDay := 0.0
		if len(row.DailyROIs) > 0 {
			roiDay = row.DailyROIs[len(row.DailyROIs)-1]
		}

		sinceEntry := 0.0
		entryDate := ""
		if wasMember {
			sinceEntry = (1+prev.ROISinceEntry)*(1+roiDay) - 1
			entryDate = prev.EntryDate
		}

		// Pre-filters, first match wins
		switch {
		case row.BalanceCurrent <= params.MinAUM:
			dropped[row.AgentID] = FilterMinAUM
			continue
		case wasMember && sinceEntry <= params.StopLoss:
			dropped[row.AgentID] = FilterStopLoss
			continue
		case !wasMember && row.ROIWindowTotal < params.StopLoss:
			dropped[row.AgentID] = FilterStopLoss
			continue
		case isThreeDayFall(trailing[row.AgentID]):
			dropped[row.AgentID] = FilterThreeDayFall
			continue
		}

		survivors = append(survivors, scored{
			row:        row,
			score:      params.Strategy.Score(row),
			roiDay:     roiDay,
			sinceEntry: sinceEntry,
			entryDate:  entryDate,
			wasMember:  wasMember,
		})
	}

	// Members that vanished from the day's roster have no balance left;
	// they fall out with the dust filter
	present := make(map[string]bool, len(rows))
	for _, row := range rows {
		present[row.AgentID] = true
	}
	for agentID, st := range states {
		if st.InCasterly && !present[agentID] {
			dropped[agentID] = FilterMinAUM
		}
	}

	ordered := orderSurvivors(survivors)

	entries := make([]domain.TopEntry, 0, len(ordered))
	cohort := make([]string, 0, params.CohortSize)
	for i, sc := range ordered {
		rank := i + 1
		inCohort := rank <= params.CohortSize
		acct := accounts[sc.row.AgentID]

		entries = append(entries, domain.TopEntry{
			SimulationID: simID,
			Date:         date,
			Rank:         rank,
			AgentID:      sc.row.AgentID,
			ROIWindow:    sc.row.ROIWindowTotal,
			NAccounts:    acct.Count,
			TotalAUM:     acct.AUM,
			InCasterly:   inCohort,
		})
		if inCohort {
			cohort = append(cohort, sc.row.AgentID)
		}
	}

	if err := s.repo.ReplaceDay(ctx, windowDays, simID, date, entries); err != nil {
		return nil, err
	}

	if err := s.advanceStates(ctx, simID, date, params.CohortSize, ordered, dropped); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("date", date).
		Int("ranked", len(entries)).
		Int("cohort", len(cohort)).
		Int("dropped", len(dropped)).
		Msg("Ranked day")

	return &DayRanking{Entries: entries, Cohort: cohort, Dropped: dropped}, nil
}

// isThreeDayFall reports whether the last three non-zero daily returns are
// all losses. Fewer than three non-zero days is not a streak.
func isThreeDayFall(trailing []float64) bool {
	if len(trailing) < 3 {
		return false
	}
	for _, r := range trailing[:3] {
		if r >= 0 {
			return false
		}
	}
	return true
}

// orderSurvivors sorts positive-return agents ahead of the rest, each
// bucket by score descending with agent_id as tie-break.
func orderSurvivors(survivors []scored) []scored {
	var positive, rest []scored
	for _, sc := range survivors {
		if sc.row.ROIWindowTotal > 0 {
			positive = append(positive, sc)
		} else {
			rest = append(rest, sc)
		}
	}

	byScore := func(bucket []scored) {
		sort.Slice(bucket, func(i, j int) bool {
			if bucket[i].score != bucket[j].score {
				return bucket[i].score > bucket[j].score
			}
			return bucket[i].row.AgentID < bucket[j].row.AgentID
		})
	}
	byScore(positive)
	byScore(rest)

	return append(positive, rest...)
}

// advanceStates writes the day's membership states: continuing members
// keep their entry date and carry the compounded since-entry return, fresh
// members start at zero with today as the entry date, and every dropped or
// displaced agent is flagged out with its streak cleared.
func (s *Service) advanceStates(ctx context.Context, simID, date string, cohortSize int, ordered []scored, dropped map[string]string) error {
	updates := make([]domain.AgentState, 0, len(ordered)+len(dropped))

	for i, sc := range ordered {
		inCohort := i < cohortSize
		st := domain.AgentState{
			SimulationID: simID,
			AgentID:      sc.row.AgentID,
			InCasterly:   inCohort,
			ROIDay:       sc.roiDay,
			UpdatedDate:  date,
		}

		if inCohort {
			if sc.wasMember {
				st.EntryDate = sc.entryDate
				st.ROISinceEntry = sc.sinceEntry
			} else {
				st.EntryDate = date
			}
		}

		updates = append(updates, st)
	}

	for agentID := range dropped {
		updates = append(updates, domain.AgentState{
			SimulationID: simID,
			AgentID:      agentID,
			UpdatedDate:  date,
		})
	}

	return s.repo.UpsertStates(ctx, updates)
}
