package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-sync/internal/model"
	"github.com/sells-group/funnel-sync/internal/monitoring"
	"github.com/sells-group/funnel-sync/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List sync cycle history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		format, _ := cmd.Flags().GetString("format")
		return render(os.Stdout, format, runs, func(w io.Writer) { formatRuns(w, runs) })
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize recent sync health from the run log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since.Hours())
		if hours <= 0 {
			hours = 1
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		format, _ := cmd.Flags().GetString("format")
		return render(os.Stdout, format, snap, func(w io.Writer) { formatSnapshot(w, snap) })
	},
}

func init() {
	runsCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsCmd.Flags().String("format", "table", "output format: table, json or yaml")

	statusCmd.Flags().Duration("since", 72*time.Hour, "lookback window (e.g. 24h, 72h, 168h)")
	statusCmd.Flags().String("format", "table", "output format: table, json or yaml")

	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)
}
