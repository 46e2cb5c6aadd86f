package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shelfsync/shelfsync/internal/cli"
	"github.com/shelfsync/shelfsync/internal/model"
)

func metricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show integrated metrics for one catalog entity over a date range",
		RunE:  runMetrics,
	}

	cmd.Flags().String("entity-type", "node", "entity type: node or product")
	cmd.Flags().String("entity-id", "", "entity id (required)")
	cmd.Flags().String("from", "", "range start (YYYY-MM-DD, default: 7 days ago)")
	cmd.Flags().String("to", "", "range end (YYYY-MM-DD, default: yesterday)")
	_ = cmd.MarkFlagRequired("entity-id")

	return cmd
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	entityType, _ := cmd.Flags().GetString("entity-type")
	entityID, _ := cmd.Flags().GetString("entity-id")

	toFlag, _ := cmd.Flags().GetString("to")
	to, err := parseDate(toFlag)
	if err != nil {
		return err
	}
	fromFlag, _ := cmd.Flags().GetString("from")
	from := to.AddDate(0, 0, -6)
	if fromFlag != "" {
		if from, err = parseDate(fromFlag); err != nil {
			return err
		}
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rows, err := store.GetIntegratedMetrics(ctx, model.EntityType(entityType), entityID, from, to)
	if err != nil {
		return fmt.Errorf("failed to load metrics: %w", err)
	}

	if len(rows) == 0 {
		fmt.Println(cli.SubtleStyle.Render("no metrics for this entity in the range"))
		return nil
	}

	table := make([][]string, 0, len(rows))
	for _, row := range rows {
		table = append(table, []string{
			row.Date.Format("2006-01-02"),
			formatSearch(row.Search),
			formatTraffic(row.Traffic),
			formatMarket(row.Market),
			fmt.Sprintf("%d", row.ChildCount),
		})
	}

	fmt.Println(cli.FormatTitle(fmt.Sprintf("%s %s (%s to %s)",
		entityType, entityID, from.Format("2006-01-02"), to.Format("2006-01-02"))))
	fmt.Println(cli.RenderTable([]string{"DATE", "SEARCH", "TRAFFIC", "MARKET", "CHILDREN"}, table))
	return nil
}

func formatSearch(s *model.SearchMetrics) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%d clicks / %d impr (pos %.1f)", s.Clicks, s.Impressions, s.Position)
}

func formatTraffic(t *model.TrafficMetrics) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%d sessions / %.2f revenue", t.Sessions, t.Revenue)
}

func formatMarket(m *model.MarketMetrics) string {
	if m == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f avg price / %d offers", m.Price, m.OfferCount)
}
