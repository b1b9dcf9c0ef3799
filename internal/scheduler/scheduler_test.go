package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/casterly/internal/database"
	"github.com/aristath/casterly/internal/simulation"
)

type countingJob struct {
	runs int
	err  error
}

func (j *countingJob) Run() error   { j.runs++; return j.err }
func (j *countingJob) Name() string { return "counting" }

func newResultsDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "results.db"),
		Profile: database.ProfileStandard,
		Name:    "results",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.EnsureResultsSchema(db.Conn()))
	return db
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	job := &countingJob{}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)

	job.err = errors.New("boom")
	assert.Error(t, s.RunNow(job))
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
	assert.NoError(t, s.AddJob("@every 2m", &countingJob{}))
}

func TestWALCheckpointJob(t *testing.T) {
	db := newResultsDB(t)

	job := NewWALCheckpointJob(zerolog.New(nil).Level(zerolog.Disabled), db)
	assert.Equal(t, "wal_checkpoint", job.Name())
	require.NoError(t, job.Run())
}

func TestHeartbeatJob_RefreshesRunningStatus(t *testing.T) {
	db := newResultsDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	status := simulation.NewStatusManager(db.Conn(), log)
	require.NoError(t, status.Claim(context.Background(), "sim-heartbeat", 10))

	before, err := status.Get(context.Background())
	require.NoError(t, err)

	job := NewHeartbeatJob(log, status)
	assert.Equal(t, "heartbeat", job.Name())
	require.NoError(t, job.Run())

	after, err := status.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, after.IsRunning)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))
}

func TestHeartbeatJob_NoOpWhenIdle(t *testing.T) {
	db := newResultsDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	status := simulation.NewStatusManager(db.Conn(), log)
	job := NewHeartbeatJob(log, status)

	require.NoError(t, job.Run())

	st, err := status.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, st.IsRunning)
}
