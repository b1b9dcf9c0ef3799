package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <simulation-id>",
	Short: "Remove every stored trace of a simulation",
	Long: `Reset deletes the derived rows, the client account universe and the
terminal record of one simulation id. Refused while a run is active.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Simulation.ResetSimulation(cmd.Context(), args[0]); err != nil {
			return err
		}

		fmt.Printf("Simulation %q removed.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
