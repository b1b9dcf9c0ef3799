package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/aristath/casterly/internal/domain"
)

// printKPIs renders the aggregate figures of a finished run.
func printKPIs(kpis domain.KPIs) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Total ROI", pct(kpis.TotalROI, 2))
	table.Append("Avg daily ROI", pct(kpis.AvgROI, 4))
	table.Append("Volatility", fmt.Sprintf("%.6f", kpis.Volatility))
	table.Append("Max drawdown", pct(kpis.MaxDrawdown, 2))
	table.Append("Win rate", pct(kpis.WinRate, 1))
	table.Append("Sharpe ratio", sharpeLabel(kpis.SharpeRatio))
	table.Render()
}

// printDailyMetrics renders the per-day series of a stored record.
func printDailyMetrics(metrics []domain.DailyMetric) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Date", "Cohort ROI", "Balance", "Rotations")
	for _, m := range metrics {
		table.Append(m.Date, pct(m.CohortROI, 4), fmt.Sprintf("%.2f", m.BalanceTotal), fmt.Sprintf("%d", m.Rotations))
	}
	table.Render()
}

// printRotations renders the audit rows of the rotation log.
func printRotations(events []domain.RotationEvent) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Date", "Out", "In", "Reason", "Window ROI out", "Accounts", "AUM")
	for _, ev := range events {
		table.Append(
			ev.Date,
			orDash(ev.AgentOut),
			orDash(ev.AgentIn),
			string(ev.Reason),
			pctPtr(ev.ROIWindowOut, 2),
			fmt.Sprintf("%d", ev.NAccounts),
			fmt.Sprintf("%.2f", ev.TotalAUM),
		)
	}
	table.Render()
}

func pct(v float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, v*100)
}

func pctPtr(v *float64, decimals int) string {
	if v == nil {
		return "-"
	}
	return pct(*v, decimals)
}

func sharpeLabel(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
