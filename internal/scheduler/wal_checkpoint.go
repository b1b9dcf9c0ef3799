package scheduler

import (
	"github.com/aristath/casterly/internal/database"
	"github.com/rs/zerolog"
)

// walWarnBytes flags a WAL that outgrew a checkpoint interval of writes.
const walWarnBytes = 16 << 20 // 16 MB

// WALCheckpointJob truncates the results WAL between simulation days.
// Runs every 2 minutes while a simulation is active.
type WALCheckpointJob struct {
	log     zerolog.Logger
	results *database.DB
}

// NewWALCheckpointJob creates a new WAL checkpoint job
func NewWALCheckpointJob(log zerolog.Logger, results *database.DB) *WALCheckpointJob {
	return &WALCheckpointJob{
		log:     log.With().Str("job", "wal_checkpoint").Logger(),
		results: results,
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run truncates the WAL back to its minimal size
func (j *WALCheckpointJob) Run() error {
	if stats, err := j.results.GetStats(); err == nil && stats.WALSizeBytes > walWarnBytes {
		j.log.Warn().
			Int64("wal_bytes", stats.WALSizeBytes).
			Msg("WAL grew large between checkpoints")
	}

	// TRUNCATE blocks behind in-flight writes; busy_timeout and Retry bound the wait
	if err := database.Retry(func() error {
		return j.results.WALCheckpoint("TRUNCATE")
	}); err != nil {
		return err
	}

	j.log.Debug().Msg("WAL checkpoint completed")
	return nil
}
