package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-sync/internal/model"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Long:  "Fetches the trailing window for every active ad account, aggregates per funnel and upserts the rollups. Exits non-zero when the cycle fails.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, err := initEngine(initFetcher(initClient()), st)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		res, runErr := engine.Run(ctx, model.TriggerCLI)
		if res != nil {
			if err := render(os.Stdout, format, res, func(w io.Writer) { formatCycle(w, res) }); err != nil {
				return err
			}
		}
		return eris.Wrap(runErr, "sync")
	},
}

func init() {
	syncCmd.Flags().String("format", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(syncCmd)
}
