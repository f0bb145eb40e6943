package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/funnel-sync/internal/adsync"
	"github.com/sells-group/funnel-sync/internal/model"
	"github.com/sells-group/funnel-sync/internal/monitoring"
)

// render writes v as json or yaml, or calls table for the default format.
func render(out io.Writer, format string, v any, table func(io.Writer)) error {
	switch format {
	case "", "table":
		table(out)
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		return eris.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

// formatFunnels writes a tabular list of funnel rows to out.
func formatFunnels(out io.Writer, rows []model.FunnelRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "START\tEND\tFUNNEL\tACCOUNT\tSPENT\tIMPRESSIONS\tREACH\tCLICKS\tFREQ\tCTR%")
	for _, r := range rows {
		ctr := "-"
		if r.LinkCTR != nil {
			ctr = fmt.Sprintf("%.2f", *r.LinkCTR)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%.2f\t%s\n",
			r.Key.StartDate.Format(model.DateLayout),
			r.Key.EndDate.Format(model.DateLayout),
			r.FunnelName,
			r.AccountID,
			r.AmountSpent.StringFixed(2),
			r.Impressions,
			r.Reach,
			r.AdsLinkClicks,
			r.Frequency,
			ctr,
		)
	}
	_ = w.Flush()
}

// formatRuns writes a tabular list of runs to out.
func formatRuns(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tWINDOW\tACCOUNTS\tFAILED\tFUNNELS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Trigger,
			r.Status,
			r.Window,
			r.Counts.AccountsTotal,
			r.Counts.AccountsFailed,
			r.Counts.FunnelsWritten,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncate(r.Error, 60),
		)
	}
	_ = w.Flush()
}

// formatCycle writes the per-account outcome of one cycle followed by totals.
func formatCycle(out io.Writer, res *adsync.CycleResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ACCOUNT\tNAME\tSTATUS\tINSIGHTS\tFUNNELS\tWRITE_FAILURES\tERROR")
	for _, a := range res.Accounts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			a.AccountID, truncate(a.Name, 30), a.Status, a.Insights, a.Funnels, a.WriteFailures, truncate(a.Error, 60))
	}
	_ = w.Flush()

	c := res.Counts
	_, _ = fmt.Fprintf(out, "\nwindow %s: %s, %d accounts (%d processed, %d skipped, %d failed), %d funnels written, %d write failures\n",
		res.Window, res.Status, c.AccountsTotal, c.AccountsProcessed, c.AccountsSkipped, c.AccountsFailed,
		c.FunnelsWritten, c.WriteFailures)
	if res.Error != "" {
		_, _ = fmt.Fprintf(out, "error: %s\n", res.Error)
	}
}

// formatAccounts writes a tabular list of ad accounts to out.
func formatAccounts(out io.Writer, accts []model.Account) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tACTIVE")
	for _, a := range accts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", a.ID, a.Name, a.Status, a.Active())
	}
	_ = w.Flush()
}

// formatSnapshot writes run-log health to out.
func formatSnapshot(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Lookback:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Account failures:\t%d\n", s.AccountsFailed)
	_, _ = fmt.Fprintf(w, "Write failures:\t%d\n", s.WriteFailures)
	_, _ = fmt.Fprintf(w, "Funnels written:\t%d\n", s.FunnelsWritten)
	if s.LastSuccessAt != nil {
		_, _ = fmt.Fprintf(w, "Last success:\t%s\n", s.LastSuccessAt.Format("2006-01-02 15:04 MST"))
	} else {
		_, _ = fmt.Fprintln(w, "Last success:\tnever")
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
