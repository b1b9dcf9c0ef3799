package rotation

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/modules/roi"
)

// Params carries the simulation-scoped constants the detector classifies
// against. StopLoss is the same (negative) threshold the ranker uses.
type Params struct {
	SimulationID string
	Date         string
	WindowDays   int
	StopLoss     float64
}

// DayRotations is the recorded outcome of diffing one day against the
// previous one.
type DayRotations struct {
	Events      []domain.RotationEvent
	RankChanges []domain.RankChange
}

// Detector compares two consecutive cohort days and turns the difference
// into rotation events and rank changes.
type Detector struct {
	repo  *Repository
	daily *roi.Repository
	log   zerolog.Logger
}

// NewDetector creates a rotation detector.
func NewDetector(repo *Repository, daily *roi.Repository, log zerolog.Logger) *Detector {
	return &Detector{
		repo:  repo,
		daily: daily,
		log:   log.With().Str("module", "rotation").Logger(),
	}
}

// DetectDay diffs yesterday's cohort against today's, pairs exits with
// entries by ascending agent_id (excess elements keep a nil counterpart),
// classifies every pair, and appends the resulting events and rank changes.
//
// The first simulation day has no previous cohort and must not be passed
// through here; the initial distribution is not a rotation.
//
// windows holds today's window rows keyed by agent and supplies
// roi_window_out and roi_window_in; accounts holds the pre-transfer
// footprint per agent. Classification priority: stop-loss on the outgoing
// window ROI, then three trailing losses, then ranking displacement.
func (d *Detector) DetectDay(
	ctx context.Context,
	p Params,
	prevCohort, todayCohort []domain.TopEntry,
	windows map[string]domain.WindowROI,
	accounts map[string]domain.AgentFootprint,
) (*DayRotations, error) {
	prevRanks := cohortRanks(prevCohort)
	todayRanks := cohortRanks(todayCohort)

	var out, in []string
	for agentID := range prevRanks {
		if _, stays := todayRanks[agentID]; !stays {
			out = append(out, agentID)
		}
	}
	for agentID := range todayRanks {
		if _, wasHere := prevRanks[agentID]; !wasHere {
			in = append(in, agentID)
		}
	}
	sort.Strings(out)
	sort.Strings(in)

	var trailing map[string][]float64
	if len(out) > 0 {
		var err error
		trailing, err = d.daily.LastNonZeroAll(ctx, p.SimulationID, p.Date, 3)
		if err != nil {
			return nil, fmt.Errorf("failed to load trailing rois: %w", err)
		}
	}

	pairs := len(out)
	if len(in) > pairs {
		pairs = len(in)
	}

	events := make([]domain.RotationEvent, 0, pairs)
	for i := 0; i < pairs; i++ {
		ev := domain.RotationEvent{
			SimulationID: p.SimulationID,
			Date:         p.Date,
			WindowDays:   p.WindowDays,
		}

		if i < len(out) {
			agentOut := out[i]
			ev.AgentOut = &agentOut

			if w, ok := windows[agentOut]; ok {
				roiOut := w.ROIWindowTotal
				ev.ROIWindowOut = &roiOut
			}

			sum, err := d.daily.SumUpTo(ctx, p.SimulationID, agentOut, p.Date)
			if err != nil {
				return nil, fmt.Errorf("failed to sum lifetime roi for %s: %w", agentOut, err)
			}
			ev.ROITotalOut = &sum
		}

		if i < len(in) {
			agentIn := in[i]
			ev.AgentIn = &agentIn

			if w, ok := windows[agentIn]; ok {
				roiIn := w.ROIWindowTotal
				ev.ROIWindowIn = &roiIn
			}
		}

		ev.Reason = classify(ev, trailing, p.StopLoss)

		// The footprint at stake: the outgoing agent's accounts, or the
		// entering agent's current holdings when nobody left.
		fp, ok := lookupFootprint(ev, accounts)
		if ok {
			ev.NAccounts = fp.Count
			ev.TotalAUM = fp.AUM
		}

		events = append(events, ev)
	}

	// Rank changes cover agents present in both cohorts whose rank moved.
	// todayCohort arrives rank-ordered, which keeps output deterministic.
	var changes []domain.RankChange
	for _, entry := range todayCohort {
		oldRank, wasHere := prevRanks[entry.AgentID]
		if !wasHere || oldRank == entry.Rank {
			continue
		}
		changes = append(changes, domain.RankChange{
			SimulationID: p.SimulationID,
			Date:         p.Date,
			AgentID:      entry.AgentID,
			OldRank:      oldRank,
			NewRank:      entry.Rank,
			Change:       oldRank - entry.Rank,
		})
	}

	if err := d.repo.AppendEvents(ctx, events); err != nil {
		return nil, err
	}
	if err := d.repo.AppendRankChanges(ctx, changes); err != nil {
		return nil, err
	}

	if len(events) > 0 {
		d.log.Info().
			Str("date", p.Date).
			Int("rotations", len(events)).
			Int("rank_changes", len(changes)).
			Msg("Cohort rotation detected")
	}

	return &DayRotations{Events: events, RankChanges: changes}, nil
}

// classify applies the reason priority to one pair. A pure entry has no
// outgoing agent to blame, so it falls through to displacement.
func classify(ev domain.RotationEvent, trailing map[string][]float64, stopLoss float64) domain.RotationReason {
	if ev.ROIWindowOut != nil && *ev.ROIWindowOut <= stopLoss {
		return domain.ReasonStopLoss
	}
	if ev.AgentOut != nil && threeTrailingLosses(trailing[*ev.AgentOut]) {
		return domain.ReasonThreeDaysFall
	}
	return domain.ReasonRankingDisplacement
}

// threeTrailingLosses reports whether the newest three non-zero daily ROIs
// are all negative. Zeros were already filtered out upstream.
func threeTrailingLosses(series []float64) bool {
	if len(series) < 3 {
		return false
	}
	for _, r := range series[:3] {
		if r >= 0 {
			return false
		}
	}
	return true
}

func lookupFootprint(ev domain.RotationEvent, accounts map[string]domain.AgentFootprint) (domain.AgentFootprint, bool) {
	if ev.AgentOut != nil {
		fp, ok := accounts[*ev.AgentOut]
		return fp, ok
	}
	if ev.AgentIn != nil {
		fp, ok := accounts[*ev.AgentIn]
		return fp, ok
	}
	return domain.AgentFootprint{}, false
}

func cohortRanks(entries []domain.TopEntry) map[string]int {
	ranks := make(map[string]int, len(entries))
	for _, e := range entries {
		if e.InCasterly {
			ranks[e.AgentID] = e.Rank
		}
	}
	return ranks
}
