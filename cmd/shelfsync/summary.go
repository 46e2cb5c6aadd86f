package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/shelfsync/shelfsync/internal/cli"
	"github.com/shelfsync/shelfsync/internal/model"
)

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the per-source match-rate summary for a date",
		RunE:  runSummary,
	}

	cmd.Flags().String("date", "", "processing date (YYYY-MM-DD, default: yesterday)")

	return cmd
}

func runSummary(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	dateFlag, _ := cmd.Flags().GetString("date")
	date, err := parseDate(dateFlag)
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rates, err := store.GetMatchRateSummary(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to load match-rate summary: %w", err)
	}

	if len(rates) == 0 {
		fmt.Println(cli.SubtleStyle.Render("no sync recorded for " + date.Format("2006-01-02")))
		return nil
	}

	sources := make([]model.Source, 0, len(rates))
	for src := range rates {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	rows := make([][]string, 0, len(sources))
	for _, src := range sources {
		stats := rates[src]
		total := stats.Matched + stats.Unmatched
		rate := "-"
		if total > 0 {
			rate = fmt.Sprintf("%.1f%%", float64(stats.Matched)/float64(total)*100)
		}
		rows = append(rows, []string{
			string(src),
			fmt.Sprintf("%d", stats.Matched),
			fmt.Sprintf("%d", stats.Unmatched),
			rate,
			fmt.Sprintf("%.2f", stats.AvgConfidence),
		})
	}

	content := cli.RenderTable([]string{"SOURCE", "MATCHED", "UNMATCHED", "RATE", "AVG CONF"}, rows)
	fmt.Println(cli.RenderBox("Match rates "+date.Format("2006-01-02"), content))
	return nil
}
