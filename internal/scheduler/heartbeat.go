package scheduler

import (
	"context"
	"time"

	"github.com/aristath/casterly/internal/simulation"
	"github.com/rs/zerolog"
)

// HeartbeatJob refreshes the status row's updated_at so observers can tell
// a long-running day apart from a dead process.
// Runs every 30 seconds while a simulation is active.
type HeartbeatJob struct {
	log    zerolog.Logger
	status *simulation.StatusManager
}

// NewHeartbeatJob creates a new heartbeat job
func NewHeartbeatJob(log zerolog.Logger, status *simulation.StatusManager) *HeartbeatJob {
	return &HeartbeatJob{
		log:    log.With().Str("job", "heartbeat").Logger(),
		status: status,
	}
}

// Name returns the job name
func (j *HeartbeatJob) Name() string {
	return "heartbeat"
}

// Run bumps updated_at on the status row. A no-op when nothing is running.
func (j *HeartbeatJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return j.status.Heartbeat(ctx)
}
