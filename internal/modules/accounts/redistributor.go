package accounts

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/domain"
)

// Redistributor moves accounts between agents: the seeded day-one spread,
// per-rotation transfers, and the end-of-day count equalization.
type Redistributor struct {
	repo *Repository
	log  zerolog.Logger
}

// NewRedistributor creates an account redistributor.
func NewRedistributor(repo *Repository, log zerolog.Logger) *Redistributor {
	return &Redistributor{
		repo: repo,
		log:  log.With().Str("service", "redistributor").Logger(),
	}
}

// BuildUniverse generates n fresh accounts (CL0001, CL0002, ...) with the
// given starting balance, all unassigned.
func BuildUniverse(simID string, n int, initialBalance float64) []domain.ClientAccount {
	accts := make([]domain.ClientAccount, n)
	for i := 0; i < n; i++ {
		accts[i] = domain.ClientAccount{
			SimulationID:   simID,
			AccountID:      fmt.Sprintf("CL%04d", i+1),
			InitialBalance: initialBalance,
			CurrentBalance: initialBalance,
		}
	}
	return accts
}

// InitialDistribution spreads every account over the cohort on day one:
// accounts are sorted by id, shuffled with a PRNG seeded from the
// simulation id, and dealt round-robin over the cohort in rank order.
// Counts end up within one of each other; re-running a simulation id
// reproduces the identical mapping.
func (d *Redistributor) InitialDistribution(ctx context.Context, simID, date string, cohort []string) (int, error) {
	if len(cohort) == 0 {
		return 0, fmt.Errorf("%w: cannot distribute accounts over an empty cohort", domain.ErrInvalidInput)
	}

	accts, err := d.repo.GetAll(ctx, simID)
	if err != nil {
		return 0, err
	}
	if len(accts) == 0 {
		return 0, nil
	}

	shuffled := make([]domain.ClientAccount, len(accts))
	copy(shuffled, accts)
	rnd := rand.New(rand.NewSource(seedFromID(simID)))
	rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	moves := make([]Move, 0, len(shuffled))
	for i, acct := range shuffled {
		agent := cohort[i%len(cohort)]
		acct.CurrentAgentID = agent
		acct.AssignedAt = date
		acct.ROIAtAssignment = acct.CumulativeROI
		moves = append(moves, Move{Account: acct, ToAgent: agent, Date: date})
	}

	if err := d.repo.ReassignBatch(ctx, moves); err != nil {
		return 0, err
	}

	d.log.Info().
		Str("simulation_id", simID).
		Int("accounts", len(moves)).
		Int("cohort", len(cohort)).
		Msg("Initial account distribution complete")

	return len(moves), nil
}

// Transfer hands every account of agentOut to agentIn and returns how many
// moved.
func (d *Redistributor) Transfer(ctx context.Context, simID, date, agentOut, agentIn string) (int, error) {
	accts, err := d.repo.GetByAgent(ctx, simID, agentOut)
	if err != nil {
		return 0, err
	}
	if len(accts) == 0 {
		return 0, nil
	}

	moves := make([]Move, 0, len(accts))
	for _, acct := range accts {
		acct.CurrentAgentID = agentIn
		acct.AssignedAt = date
		acct.ROIAtAssignment = acct.CumulativeROI
		acct.ChangeCount++
		moves = append(moves, Move{Account: acct, ToAgent: agentIn, Date: date})
	}

	if err := d.repo.ReassignBatch(ctx, moves); err != nil {
		return 0, err
	}

	d.log.Debug().
		Str("agent_out", agentOut).
		Str("agent_in", agentIn).
		Int("accounts", len(moves)).
		Msg("Transferred accounts")

	return len(moves), nil
}

// Unassign detaches every account of an agent. Used when an exit has no
// entering counterpart; the next Rebalance spreads the orphans over the
// cohort.
func (d *Redistributor) Unassign(ctx context.Context, simID, date, agentID string) (int, error) {
	accts, err := d.repo.GetByAgent(ctx, simID, agentID)
	if err != nil {
		return 0, err
	}
	if len(accts) == 0 {
		return 0, nil
	}

	moves := make([]Move, 0, len(accts))
	for _, acct := range accts {
		acct.CurrentAgentID = ""
		acct.AssignedAt = ""
		acct.ChangeCount++
		moves = append(moves, Move{Account: acct, Date: date})
	}

	if err := d.repo.ReassignBatch(ctx, moves); err != nil {
		return 0, err
	}

	return len(moves), nil
}

// Rebalance equalizes account counts across the cohort to within one of
// each other, after the day's transfers have been applied. Accounts held
// by non-members or left unassigned are pooled and dealt out first; when a
// member holds more than its target, the surplus accounts with the highest
// account_ids are the ones that move. Targets follow cohort rank order, so
// the outcome is fully deterministic.
func (d *Redistributor) Rebalance(ctx context.Context, simID, date string, cohort []string) (int, error) {
	if len(cohort) == 0 {
		return 0, nil
	}

	accts, err := d.repo.GetAll(ctx, simID)
	if err != nil {
		return 0, err
	}
	if len(accts) == 0 {
		return 0, nil
	}

	members := make(map[string]bool, len(cohort))
	for _, agentID := range cohort {
		members[agentID] = true
	}

	// GetAll returns account_id order, so buckets and pool inherit it
	buckets := make(map[string][]domain.ClientAccount, len(cohort))
	var pool []domain.ClientAccount
	for _, acct := range accts {
		if acct.CurrentAgentID != "" && members[acct.CurrentAgentID] {
			buckets[acct.CurrentAgentID] = append(buckets[acct.CurrentAgentID], acct)
		} else {
			pool = append(pool, acct)
		}
	}

	base := len(accts) / len(cohort)
	extra := len(accts) % len(cohort)

	targets := make(map[string]int, len(cohort))
	for i, agentID := range cohort {
		targets[agentID] = base
		if i < extra {
			targets[agentID]++
		}
	}

	// Shed surpluses into the pool
	for _, agentID := range cohort {
		bucket := buckets[agentID]
		if len(bucket) > targets[agentID] {
			pool = append(pool, bucket[targets[agentID]:]...)
			buckets[agentID] = bucket[:targets[agentID]]
		}
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].AccountID < pool[j].AccountID })

	// Deal the pool out to members below target, in rank order
	var moves []Move
	next := 0
	for _, agentID := range cohort {
		for len(buckets[agentID]) < targets[agentID] && next < len(pool) {
			acct := pool[next]
			next++

			if acct.CurrentAgentID != "" {
				acct.ChangeCount++
			}
			acct.CurrentAgentID = agentID
			acct.AssignedAt = date
			acct.ROIAtAssignment = acct.CumulativeROI
			buckets[agentID] = append(buckets[agentID], acct)
			moves = append(moves, Move{Account: acct, ToAgent: agentID, Date: date})
		}
	}

	if err := d.repo.ReassignBatch(ctx, moves); err != nil {
		return 0, err
	}

	if len(moves) > 0 {
		d.log.Debug().
			Str("date", date).
			Int("moved", len(moves)).
			Msg("Rebalanced account counts")
	}

	return len(moves), nil
}

// seedFromID derives the deterministic PRNG seed for a simulation.
func seedFromID(simID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(simID))
	return int64(h.Sum64())
}
