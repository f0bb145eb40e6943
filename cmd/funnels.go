package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-sync/internal/model"
	"github.com/sells-group/funnel-sync/internal/store"
)

var funnelsCmd = &cobra.Command{
	Use:   "funnels",
	Short: "List stored funnel rollups",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		filter, err := funnelFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := st.ListFunnels(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "funnels")
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No funnel rows found.")
			return nil
		}

		format, _ := cmd.Flags().GetString("format")
		return render(os.Stdout, format, rows, func(w io.Writer) { formatFunnels(w, rows) })
	},
}

// addFunnelFilterFlags registers the read-back filter flags on cmd.
func addFunnelFilterFlags(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().String("start-date", "", "only windows starting on or after this date (YYYY-MM-DD)")
	cmd.Flags().String("end-date", "", "only windows ending on or before this date (YYYY-MM-DD)")
	cmd.Flags().String("funnel-id", "", "only this funnel id")
	cmd.Flags().Int("limit", defaultLimit, "max number of rows")
}

func funnelFilterFromFlags(cmd *cobra.Command) (store.FunnelFilter, error) {
	var filter store.FunnelFilter
	var err error

	if v, _ := cmd.Flags().GetString("start-date"); v != "" {
		if filter.StartDate, err = model.ParseDate(v); err != nil {
			return filter, eris.Wrap(err, "--start-date")
		}
	}
	if v, _ := cmd.Flags().GetString("end-date"); v != "" {
		if filter.EndDate, err = model.ParseDate(v); err != nil {
			return filter, eris.Wrap(err, "--end-date")
		}
	}
	filter.FunnelID, _ = cmd.Flags().GetString("funnel-id")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	return filter, nil
}

func init() {
	addFunnelFilterFlags(funnelsCmd, 100)
	funnelsCmd.Flags().String("format", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(funnelsCmd)
}
