package roi

import (
	"sync"

	"github.com/aristath/casterly/internal/domain"
)

// WorkerPool fans the per-agent window computation out over a bounded set
// of goroutines. Each job is pure in-memory math over the prefetched grid,
// so workers never touch the database.
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 8
	}
	return &WorkerPool{
		numWorkers: numWorkers,
	}
}

// agentWindow is the full output of one agent's window computation: the
// window aggregate row plus every daily cell that went into it.
type agentWindow struct {
	row     domain.WindowROI
	dailies []domain.DailyROI
}

// windowJob is a single agent to compute
type windowJob struct {
	index   int
	agentID string
}

// windowResult pairs a computation output with its input position
type windowResult struct {
	index  int
	window agentWindow
}

// ComputeBatch runs compute for every agent in parallel and returns the
// outputs in input order.
func (wp *WorkerPool) ComputeBatch(agentIDs []string, compute func(agentID string) agentWindow) []agentWindow {
	numAgents := len(agentIDs)
	if numAgents == 0 {
		return []agentWindow{}
	}

	jobs := make(chan windowJob, numAgents)
	results := make(chan windowResult, numAgents)

	var wg sync.WaitGroup
	numActualWorkers := wp.numWorkers
	if numAgents < numActualWorkers {
		numActualWorkers = numAgents
	}

	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- windowResult{
					index:  job.index,
					window: compute(job.agentID),
				}
			}
		}()
	}

	for idx, agentID := range agentIDs {
		jobs <- windowJob{index: idx, agentID: agentID}
	}
	close(jobs)

	wg.Wait()
	close(results)

	ordered := make([]agentWindow, numAgents)
	for result := range results {
		ordered[result.index] = result.window
	}

	return ordered
}
