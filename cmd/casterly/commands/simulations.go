package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var simulationsCmd = &cobra.Command{
	Use:   "simulations",
	Short: "List stored simulation records",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openContainer()
		if err != nil {
			return err
		}
		defer c.Close()

		sims, err := c.Records.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(sims) == 0 {
			fmt.Println("No stored simulations.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Name", "State", "Range", "Days", "Total ROI", "Rotations", "Created")
		for _, s := range sims {
			table.Append(
				s.ID,
				s.Name,
				string(s.Status),
				s.StartDate+" .. "+s.EndDate,
				fmt.Sprintf("%d", s.DaysProcessed),
				pct(s.KPIs.TotalROI, 2),
				fmt.Sprintf("%d", s.TotalRotations),
				s.CreatedAt.Format("2006-01-02 15:04"),
			)
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulationsCmd)
}
