package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the ad accounts a sync would visit",
	Long:  "Connectivity check against the ads API. Lists accounts after the allow-list is applied; nothing is aggregated or written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("meta"); err != nil {
			return err
		}

		accts, err := initFetcher(initClient()).Accounts(ctx)
		if err != nil {
			return eris.Wrap(err, "accounts")
		}
		if len(accts) == 0 {
			fmt.Fprintln(os.Stderr, "No ad accounts found.")
			return nil
		}

		format, _ := cmd.Flags().GetString("format")
		return render(os.Stdout, format, accts, func(w io.Writer) { formatAccounts(w, accts) })
	},
}

func init() {
	accountsCmd.Flags().String("format", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(accountsCmd)
}
