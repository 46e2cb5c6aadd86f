package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/shelfsync/shelfsync/internal/cli"
	"github.com/shelfsync/shelfsync/internal/engine"
	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch external metrics and integrate them into the catalog",
		RunE:  runSync,
	}

	cmd.Flags().String("date", "", "processing date (YYYY-MM-DD, default: yesterday)")
	cmd.Flags().String("mode", "full", "sync mode (full, incremental)")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	dateFlag, _ := cmd.Flags().GetString("date")
	date, err := parseDate(dateFlag)
	if err != nil {
		return err
	}

	modeFlag, _ := cmd.Flags().GetString("mode")
	mode := service.SyncMode(modeFlag)
	if mode != service.ModeFull && mode != service.ModeIncremental {
		return fmt.Errorf("invalid mode %q (want full or incremental)", modeFlag)
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	provider, err := initProvider()
	if err != nil {
		return err
	}
	sources, err := initSources(ctx)
	if err != nil {
		return err
	}

	eng := engine.New(store, provider, sources)

	var bar *progressbar.ProgressBar
	eng.SetProgress(func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("matching records"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
	})

	summary, err := eng.Sync(ctx, date, mode)
	if summary != nil {
		printSummary(summary)
	}
	return err
}

func printSummary(summary *service.SyncSummary) {
	rows := make([][]string, 0, len(summary.PerSource))
	sources := make([]model.Source, 0, len(summary.PerSource))
	for src := range summary.PerSource {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	for _, src := range sources {
		stats := summary.PerSource[src]
		if stats.Failed {
			rows = append(rows, []string{string(src), "-", "-", "-", cli.FormatError(stats.Error)})
			continue
		}
		rows = append(rows, []string{
			string(src),
			fmt.Sprintf("%d", stats.Matched),
			fmt.Sprintf("%d", stats.Unmatched),
			fmt.Sprintf("%.2f", stats.AvgConfidence),
			cli.FormatSuccess("ok"),
		})
	}

	content := cli.RenderTable([]string{"SOURCE", "MATCHED", "UNMATCHED", "AVG CONF", "STATUS"}, rows)
	content += fmt.Sprintf("\n\nmatch rate %.1f%%  rows %d  duration %s",
		summary.MatchRate*100, summary.RowsPersisted, summary.Duration.Round(time.Millisecond))

	if len(summary.ConfidenceBands) > 0 {
		bands := make([]string, 0, len(summary.ConfidenceBands))
		for band := range summary.ConfidenceBands {
			bands = append(bands, band)
		}
		sort.Strings(bands)
		content += "\nconfidence:"
		for _, band := range bands {
			content += fmt.Sprintf(" %s=%d", band, summary.ConfidenceBands[band])
		}
	}

	for _, ve := range summary.ValidationErrors {
		content += "\n" + cli.FormatWarning(fmt.Sprintf("quarantined %s (%s, %d nodes affected)",
			ve.NodeID, ve.Reason, len(ve.AffectedIDs)))
	}

	title := fmt.Sprintf("Sync %s (%s, %s)", summary.Date.Format("2006-01-02"), summary.Mode, summary.State)
	fmt.Println(cli.RenderBox(title, content))
}
