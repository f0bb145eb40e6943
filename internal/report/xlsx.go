// Package report exports stored funnel rollups as an xlsx workbook.
package report

import (
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/funnel-sync/internal/model"
)

// Sheet names.
const (
	FunnelsSheet = "Funnels"
	SummarySheet = "Summary"
)

var funnelHeader = []string{
	"Start Date", "End Date", "Funnel ID", "Funnel Name", "Account ID",
	"Amount Spent", "Impressions", "Reach", "Link Clicks", "Frequency",
	"Link CTR (%)", "Current Week", "Updated At",
}

var summaryHeader = []string{
	"Start Date", "End Date", "Funnels", "Amount Spent", "Impressions", "Reach", "Link Clicks", "Link CTR (%)",
}

// Build creates a workbook with one row per funnel and a per-window summary.
func Build(rows []model.FunnelRow) (*xlsx.File, error) {
	f := xlsx.NewFile()

	funnels, err := f.AddSheet(FunnelsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "report: add funnels sheet")
	}
	addHeader(funnels, funnelHeader)
	for _, r := range rows {
		row := funnels.AddRow()
		row.AddCell().SetString(r.Key.StartDate.Format(model.DateLayout))
		row.AddCell().SetString(r.Key.EndDate.Format(model.DateLayout))
		row.AddCell().SetString(r.Key.FunnelID)
		row.AddCell().SetString(r.FunnelName)
		row.AddCell().SetString(r.AccountID)
		row.AddCell().SetFloat(r.AmountSpent.InexactFloat64())
		row.AddCell().SetInt64(r.Impressions)
		row.AddCell().SetInt64(r.Reach)
		row.AddCell().SetInt64(r.AdsLinkClicks)
		row.AddCell().SetFloat(r.Frequency)
		ctr := row.AddCell()
		if r.LinkCTR != nil {
			ctr.SetFloat(*r.LinkCTR)
		}
		row.AddCell().SetBool(r.IsCurrentWeek)
		updated := row.AddCell()
		if !r.UpdatedAt.IsZero() {
			updated.SetString(r.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
		}
	}

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return nil, eris.Wrap(err, "report: add summary sheet")
	}
	addHeader(summary, summaryHeader)
	for _, s := range Summarize(rows) {
		row := summary.AddRow()
		row.AddCell().SetString(s.Window.Since())
		row.AddCell().SetString(s.Window.Until())
		row.AddCell().SetInt(s.Funnels)
		row.AddCell().SetFloat(s.AmountSpent.InexactFloat64())
		row.AddCell().SetInt64(s.Impressions)
		row.AddCell().SetInt64(s.Reach)
		row.AddCell().SetInt64(s.AdsLinkClicks)
		ctr := row.AddCell()
		if s.LinkCTR != nil {
			ctr.SetFloat(*s.LinkCTR)
		}
	}

	return f, nil
}

// Write builds the workbook and writes it to w.
func Write(w io.Writer, rows []model.FunnelRow) error {
	f, err := Build(rows)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "report: write workbook")
}

// Save builds the workbook and saves it at path.
func Save(path string, rows []model.FunnelRow) error {
	f, err := Build(rows)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func addHeader(sheet *xlsx.Sheet, cols []string) {
	row := sheet.AddRow()
	for _, c := range cols {
		row.AddCell().SetString(c)
	}
}

// WindowTotal sums the funnels of one window.
type WindowTotal struct {
	Window        model.Window
	Funnels       int
	AmountSpent   decimal.Decimal
	Impressions   int64
	Reach         int64
	AdsLinkClicks int64
	LinkCTR       *float64
}

// Summarize totals rows per window, newest window first.
func Summarize(rows []model.FunnelRow) []WindowTotal {
	byWindow := make(map[model.Window]*WindowTotal)
	for _, r := range rows {
		w := model.Window{Start: r.Key.StartDate, End: r.Key.EndDate}
		t, ok := byWindow[w]
		if !ok {
			t = &WindowTotal{Window: w}
			byWindow[w] = t
		}
		t.Funnels++
		t.AmountSpent = t.AmountSpent.Add(r.AmountSpent)
		t.Impressions += r.Impressions
		t.Reach += r.Reach
		t.AdsLinkClicks += r.AdsLinkClicks
	}

	out := make([]WindowTotal, 0, len(byWindow))
	for _, t := range byWindow {
		if t.Impressions > 0 {
			ctr := float64(t.AdsLinkClicks) / float64(t.Impressions) * 100
			t.LinkCTR = &ctr
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Window.Start.Equal(out[j].Window.Start) {
			return out[i].Window.Start.After(out[j].Window.Start)
		}
		return out[i].Window.End.After(out[j].Window.End)
	})
	return out
}
