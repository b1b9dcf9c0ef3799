// Package services wires the application's repositories, services and
// maintenance jobs into a single container.
package services

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/casterly/internal/config"
	"github.com/aristath/casterly/internal/database"
	"github.com/aristath/casterly/internal/events"
	"github.com/aristath/casterly/internal/modules/accounts"
	"github.com/aristath/casterly/internal/modules/marketdata"
	"github.com/aristath/casterly/internal/modules/ranking"
	"github.com/aristath/casterly/internal/modules/roi"
	"github.com/aristath/casterly/internal/modules/rotation"
	"github.com/aristath/casterly/internal/modules/snapshots"
	"github.com/aristath/casterly/internal/scheduler"
	"github.com/aristath/casterly/internal/simulation"
)

// Container holds all service instances for the application.
// It is the single source of truth for wiring.
type Container struct {
	Databases *database.Databases

	// Repositories
	Market       *marketdata.Repository
	DailyROI     *roi.Repository
	WindowROI    *roi.WindowRepository
	Ranks        *ranking.Repository
	Rotations    *rotation.Repository
	Accounts     *accounts.Repository
	SnapshotRepo *snapshots.Repository
	Records      *simulation.Repository

	// Services
	Windows     *roi.WindowCalculator
	Ranker      *ranking.Service
	Detector    *rotation.Detector
	Distributor *accounts.Redistributor
	Advancer    *accounts.Advancer
	Snapshots   *snapshots.Service
	Status      *simulation.StatusManager
	Events      *events.Manager
	Simulation  *simulation.Service

	// Scheduler carries the run-time maintenance jobs (WAL checkpoint,
	// status heartbeat). Started around runs, not at startup.
	Scheduler *scheduler.Scheduler
}

// New opens both databases, applies their schemas, and builds every
// repository and service in dependency order.
func New(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	dbs, err := database.Open(cfg.SourceDBPath, cfg.ResultsDBPath)
	if err != nil {
		return nil, err
	}

	c := &Container{Databases: dbs}
	source := dbs.Source.Conn()
	results := dbs.Results.Conn()

	// Repositories
	c.Market = marketdata.NewRepository(source, log)
	c.DailyROI = roi.NewRepository(results, log)
	c.WindowROI = roi.NewWindowRepository(results, log)
	c.Ranks = ranking.NewRepository(results, log)
	c.Rotations = rotation.NewRepository(results, log)
	c.Accounts = accounts.NewRepository(results, log)
	c.SnapshotRepo = snapshots.NewRepository(results, log)
	c.Records = simulation.NewRepository(results, log)

	// Services
	pool := roi.NewWorkerPool(cfg.Simulation.Workers)
	c.Windows = roi.NewWindowCalculator(c.Market, c.DailyROI, c.WindowROI, pool, log)
	c.Ranker = ranking.NewService(c.Ranks, c.DailyROI, log)
	c.Detector = rotation.NewDetector(c.Rotations, c.DailyROI, log)
	c.Distributor = accounts.NewRedistributor(c.Accounts, log)
	c.Advancer = accounts.NewAdvancer(c.Accounts, roi.NewCalculator(c.DailyROI, c.Market, log), log)
	c.Snapshots = snapshots.NewService(c.SnapshotRepo, c.Accounts, log)
	c.Status = simulation.NewStatusManager(results, log)
	c.Events = events.NewManager(log)

	c.Simulation = simulation.NewService(simulation.Deps{
		Windows:      c.Windows,
		Daily:        c.DailyROI,
		WindowRows:   c.WindowROI,
		Ranker:       c.Ranker,
		Ranks:        c.Ranks,
		Detector:     c.Detector,
		Rotations:    c.Rotations,
		Accounts:     c.Accounts,
		Distributor:  c.Distributor,
		Advancer:     c.Advancer,
		Snapshots:    c.Snapshots,
		SnapshotRepo: c.SnapshotRepo,
		Records:      c.Records,
		Status:       c.Status,
		Events:       c.Events,
	}, log)

	// Maintenance jobs
	c.Scheduler = scheduler.New(log)
	if err := c.Scheduler.AddJob("@every 2m", scheduler.NewWALCheckpointJob(log, dbs.Results)); err != nil {
		_ = dbs.Close()
		return nil, fmt.Errorf("failed to register wal checkpoint job: %w", err)
	}
	if err := c.Scheduler.AddJob("@every 30s", scheduler.NewHeartbeatJob(log, c.Status)); err != nil {
		_ = dbs.Close()
		return nil, fmt.Errorf("failed to register heartbeat job: %w", err)
	}

	return c, nil
}

// Close stops the scheduler and closes both databases.
func (c *Container) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	return c.Databases.Close()
}
