package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/casterly/internal/domain"
)

var reportCmd = &cobra.Command{
	Use:   "report <simulation-id>",
	Short: "Show the stored report of a simulation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer()
		if err != nil {
			return err
		}
		defer c.Close()

		sim, err := c.Records.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if sim == nil {
			return fmt.Errorf("%w: no stored simulation %q", domain.ErrNotFound, args[0])
		}

		fmt.Printf("%s (%s)\n", sim.Name, sim.ID)
		if sim.Description != "" {
			fmt.Println(sim.Description)
		}
		fmt.Printf("Range:    %s to %s (window %dd, strategy %s, cohort %d)\n",
			sim.StartDate, sim.EndDate, sim.WindowDays, sim.Strategy, sim.CohortSize)
		fmt.Printf("State:    %s, %d days processed", sim.Status, sim.DaysProcessed)
		if sim.CompletedAt != nil {
			fmt.Printf(", finished %s", sim.CompletedAt.Format(time.RFC3339))
		}
		fmt.Println()
		if sim.Error != "" {
			fmt.Printf("Error:    %s\n", sim.Error)
		}

		fmt.Println()
		printKPIs(sim.KPIs)

		if len(sim.FinalCohort) > 0 {
			fmt.Printf("\nFinal cohort (%d): %s\n", len(sim.FinalCohort), strings.Join(sim.FinalCohort, ", "))
		}

		if len(sim.DailyMetrics) > 0 {
			fmt.Println("\nDaily metrics:")
			printDailyMetrics(sim.DailyMetrics)
		}

		// The metrics say which days rotated, so only those days are read back.
		var events []domain.RotationEvent
		for _, m := range sim.DailyMetrics {
			if m.Rotations == 0 {
				continue
			}
			dayEvents, err := c.Rotations.EventsForDate(cmd.Context(), sim.ID, m.Date)
			if err != nil {
				return err
			}
			events = append(events, dayEvents...)
		}
		if len(events) > 0 {
			fmt.Printf("\nRotations (%d):\n", len(events))
			printRotations(events)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
