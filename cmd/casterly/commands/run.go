package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aristath/casterly/internal/domain"
	"github.com/aristath/casterly/internal/simulation"
)

var runFlags struct {
	id          string
	name        string
	description string
	start       string
	end         string
	window      int
	strategy    string
	cohortSize  int
	stopLoss    float64
	minAUM      float64
	accounts    int
	balance     float64
	noAccounts  bool
	dryRun      bool
	snapshotAll bool
	workers     int
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation over a date range",
	Long: `Run replays every day in the inclusive range: window ROI, ranking,
rotation detection, account redistribution, balance advancement and a
daily snapshot. One simulation runs at a time; a second invocation is
rejected while the status row is held.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The worker pool is sized at wiring time, so apply the override
		// before the container is built.
		if cmd.Flags().Changed("workers") {
			cfg.Simulation.Workers = runFlags.workers
		}

		c, err := openContainer()
		if err != nil {
			return err
		}
		defer c.Close()

		rc := buildRunConfig(cmd)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Maintenance jobs tick only while the run is active
		c.Scheduler.Start()
		defer c.Scheduler.Stop()

		fmt.Printf("Simulation %s: %s to %s (window %dd, strategy %s, cohort %d)\n",
			rc.SimulationID, rc.StartDate, rc.EndDate, rc.WindowDays, rc.Strategy, rc.CohortSize)
		if rc.DryRun {
			fmt.Println("Dry run: the terminal record will not be stored.")
		}

		cb := func(current, total int, message string) {
			fmt.Printf("\r  [%d/%d] %-12s", current, total, message)
			if current == total {
				fmt.Println()
			}
		}

		sim, err := c.Simulation.RunSimulation(ctx, rc, cb)
		if err != nil {
			fmt.Println()
			if errors.Is(err, domain.ErrCancelled) && sim != nil {
				fmt.Printf("Cancelled after %d of %d days.\n", sim.DaysProcessed, rc.Days())
			}
			return err
		}

		fmt.Printf("\nCompleted %d days, %d rotations, final cohort of %d.\n",
			sim.DaysProcessed, sim.TotalRotations, len(sim.FinalCohort))
		printKPIs(sim.KPIs)
		if !rc.DryRun {
			fmt.Printf("\nStored as %q. Details: casterly report %s\n", sim.ID, sim.ID)
		}
		return nil
	},
}

// buildRunConfig merges application defaults with the flags the user
// actually set.
func buildRunConfig(cmd *cobra.Command) simulation.RunConfig {
	rc := simulation.FromDefaults(cfg.Simulation)

	rc.SimulationID = runFlags.id
	if rc.SimulationID == "" {
		rc.SimulationID = "sim-" + uuid.NewString()[:8]
	}
	rc.Name = runFlags.name
	rc.Description = runFlags.description
	rc.StartDate = runFlags.start
	rc.EndDate = runFlags.end
	rc.UpdateClientAccounts = !runFlags.noAccounts
	rc.DryRun = runFlags.dryRun
	rc.SnapshotAccounts = runFlags.snapshotAll

	if cmd.Flags().Changed("window") {
		rc.WindowDays = runFlags.window
	}
	if cmd.Flags().Changed("strategy") {
		rc.Strategy = runFlags.strategy
	}
	if cmd.Flags().Changed("cohort-size") {
		rc.CohortSize = runFlags.cohortSize
	}
	if cmd.Flags().Changed("stop-loss") {
		rc.StopLoss = runFlags.stopLoss
	}
	if cmd.Flags().Changed("min-aum") {
		rc.MinAUM = runFlags.minAUM
	}
	if cmd.Flags().Changed("accounts") {
		rc.NumAccounts = runFlags.accounts
	}
	if cmd.Flags().Changed("balance") {
		rc.InitialBalance = runFlags.balance
	}
	if cmd.Flags().Changed("workers") {
		rc.Workers = runFlags.workers
	}

	return rc
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.id, "id", "", "simulation id (generated when empty)")
	f.StringVar(&runFlags.name, "name", "", "human-readable simulation name")
	f.StringVar(&runFlags.description, "description", "", "free-form description stored with the record")
	f.StringVar(&runFlags.start, "start", "", "first simulated day, YYYY-MM-DD (required)")
	f.StringVar(&runFlags.end, "end", "", "last simulated day, YYYY-MM-DD (required)")
	f.IntVar(&runFlags.window, "window", 0, "ranking window in days (defaults from config)")
	f.StringVar(&runFlags.strategy, "strategy", "", "ranking strategy (defaults from config)")
	f.IntVar(&runFlags.cohortSize, "cohort-size", 0, "cohort size (defaults from config)")
	f.Float64Var(&runFlags.stopLoss, "stop-loss", 0, "stop-loss threshold, negative (defaults from config)")
	f.Float64Var(&runFlags.minAUM, "min-aum", 0, "minimum prior-day balance to be ranked (defaults from config)")
	f.IntVar(&runFlags.accounts, "accounts", 0, "client account universe size (defaults from config)")
	f.Float64Var(&runFlags.balance, "balance", 0, "initial balance per client account (defaults from config)")
	f.BoolVar(&runFlags.noAccounts, "no-accounts", false, "rank and log rotations without touching client accounts")
	f.BoolVar(&runFlags.dryRun, "dry-run", false, "run the full pipeline but skip the terminal record")
	f.BoolVar(&runFlags.snapshotAll, "snapshot-accounts", false, "embed full per-account state in each daily snapshot")
	f.IntVar(&runFlags.workers, "workers", 0, "worker pool size for per-agent compounding (defaults from config)")

	_ = runCmd.MarkFlagRequired("start")
	_ = runCmd.MarkFlagRequired("end")

	rootCmd.AddCommand(runCmd)
}
