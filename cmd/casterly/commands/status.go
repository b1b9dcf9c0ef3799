package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/casterly/internal/database"
)

var statusVerify bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live simulation status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer()
		if err != nil {
			return err
		}
		defer c.Close()

		st, err := c.Simulation.GetStatus(cmd.Context())
		if err != nil {
			return err
		}

		if st.IsRunning {
			fmt.Printf("State:      %s\n", st.State)
			fmt.Printf("Simulation: %s\n", st.SimulationID)
			fmt.Printf("Day:        %d/%d", st.DayNumber, st.TotalDays)
			if st.CurrentDay != "" {
				fmt.Printf(" (%s)", st.CurrentDay)
			}
			fmt.Println()
			fmt.Printf("Started:    %s\n", st.StartedAt.Format(time.RFC3339))
			fmt.Printf("Updated:    %s\n", st.UpdatedAt.Format(time.RFC3339))
		} else {
			fmt.Printf("State:      %s\n", st.State)
			if st.SimulationID != "" {
				fmt.Printf("Last run:   %s (%d/%d days)\n", st.SimulationID, st.DayNumber, st.TotalDays)
			}
		}
		if st.Message != "" {
			fmt.Printf("Message:    %s\n", st.Message)
		}

		if statusVerify {
			fmt.Println()
			return verifyDatabases(cmd, c.Databases.Source, c.Databases.Results)
		}
		return nil
	},
}

// verifyDatabases runs the expensive PRAGMA integrity_check on both stores.
func verifyDatabases(cmd *cobra.Command, dbs ...*database.DB) error {
	var firstErr error
	for _, db := range dbs {
		if err := db.HealthCheck(cmd.Context()); err != nil {
			fmt.Printf("%-8s FAILED: %v\n", db.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Printf("%-8s ok\n", db.Name())
	}
	return firstErr
}

func init() {
	statusCmd.Flags().BoolVar(&statusVerify, "verify", false, "run an integrity check on both databases")
	rootCmd.AddCommand(statusCmd)
}
