package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shelfsync/shelfsync/internal/cli"
)

func unmatchedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmatched",
		Short: "Show metrics that could not be attributed to a catalog entity",
		RunE:  runUnmatched,
	}

	cmd.Flags().Int("limit", 20, "maximum rows to show")

	return cmd
}

func runUnmatched(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	limit, _ := cmd.Flags().GetInt("limit")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	unmatched, err := store.GetTopUnmatched(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to load unmatched metrics: %w", err)
	}

	if len(unmatched) == 0 {
		fmt.Println(cli.FormatSuccess("no unmatched metrics - everything found a home"))
		return nil
	}

	rows := make([][]string, 0, len(unmatched))
	for _, u := range unmatched {
		rows = append(rows, []string{
			string(u.Source),
			u.Identifier,
			string(u.IdentifierType),
			fmt.Sprintf("%d", u.AttemptCount),
			u.LastSeen.Format("2006-01-02"),
		})
	}

	fmt.Println(cli.FormatTitle(fmt.Sprintf("Top unmatched metrics (%d)", len(unmatched))))
	fmt.Println(cli.RenderTable([]string{"SOURCE", "IDENTIFIER", "TYPE", "ATTEMPTS", "LAST SEEN"}, rows))
	fmt.Println()
	fmt.Println(cli.SubtleStyle.Render("map one with: shelfsync mappings add --identifier <id> --entity-type <node|product> --entity-id <id>"))
	return nil
}
