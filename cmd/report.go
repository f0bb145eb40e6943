package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-sync/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export stored funnel rollups to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		filter, err := funnelFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return eris.New("report: --out is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := st.ListFunnels(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "report")
		}
		if err := report.Save(out, rows); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Wrote %d funnel rows to %s\n", len(rows), out)
		return nil
	},
}

func init() {
	addFunnelFilterFlags(reportCmd, 1000)
	reportCmd.Flags().String("out", "funnels.xlsx", "output file")
	rootCmd.AddCommand(reportCmd)
}
