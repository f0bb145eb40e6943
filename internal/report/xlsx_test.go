package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/funnel-sync/internal/model"
)

func day(s string) time.Time {
	t, _ := time.Parse(model.DateLayout, s)
	return t
}

func ctr(v float64) *float64 { return &v }

func sampleRows() []model.FunnelRow {
	return []model.FunnelRow{
		{
			Key:         model.FunnelKey{StartDate: day("2024-03-08"), EndDate: day("2024-03-15"), FunnelID: "1"},
			FunnelName:  "Funnel #1",
			AccountID:   "A",
			AmountSpent: decimal.RequireFromString("150.00"),
			Impressions: 1500, Reach: 750, AdsLinkClicks: 30,
			Frequency: 2, LinkCTR: ctr(2), IsCurrentWeek: true,
		},
		{
			Key:         model.FunnelKey{StartDate: day("2024-03-08"), EndDate: day("2024-03-15"), FunnelID: "unknown"},
			FunnelName:  "Funnel #unknown",
			AccountID:   "A",
			AmountSpent: decimal.RequireFromString("50.00"),
			Impressions: 500, Reach: 500, AdsLinkClicks: 10,
			Frequency: 1, LinkCTR: ctr(2), IsCurrentWeek: true,
		},
		{
			Key:         model.FunnelKey{StartDate: day("2024-03-01"), EndDate: day("2024-03-08"), FunnelID: "1"},
			FunnelName:  "Funnel #1",
			AccountID:   "A",
			AmountSpent: decimal.RequireFromString("0"),
		},
	}
}

func TestSummarize(t *testing.T) {
	totals := Summarize(sampleRows())
	require.Len(t, totals, 2)

	latest := totals[0]
	assert.Equal(t, "2024-03-08..2024-03-15", latest.Window.String())
	assert.Equal(t, 2, latest.Funnels)
	assert.Equal(t, "200", latest.AmountSpent.String())
	assert.Equal(t, int64(2000), latest.Impressions)
	assert.Equal(t, int64(40), latest.AdsLinkClicks)
	require.NotNil(t, latest.LinkCTR)
	assert.InDelta(t, 2.0, *latest.LinkCTR, 1e-9)

	older := totals[1]
	assert.Equal(t, "2024-03-01..2024-03-08", older.Window.String())
	assert.Nil(t, older.LinkCTR)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funnels.xlsx")
	require.NoError(t, Save(path, sampleRows()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	funnels, ok := f.Sheet[FunnelsSheet]
	require.True(t, ok)
	require.Len(t, funnels.Rows, 4)
	assert.Equal(t, "Start Date", funnels.Rows[0].Cells[0].String())
	assert.Equal(t, "Link CTR (%)", funnels.Rows[0].Cells[10].String())

	first := funnels.Rows[1].Cells
	assert.Equal(t, "2024-03-08", first[0].String())
	assert.Equal(t, "2024-03-15", first[1].String())
	assert.Equal(t, "1", first[2].String())
	assert.Equal(t, "Funnel #1", first[3].String())
	assert.Equal(t, "1500", first[6].String())
	assert.Equal(t, "750", first[7].String())
	assert.Equal(t, "30", first[8].String())

	summary, ok := f.Sheet[SummarySheet]
	require.True(t, ok)
	require.Len(t, summary.Rows, 3)
	assert.Equal(t, "2024-03-08", summary.Rows[1].Cells[0].String())
	assert.Equal(t, "2", summary.Rows[1].Cells[2].String())
}

func TestWrite_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Len(t, f.Sheet[FunnelsSheet].Rows, 1)
}
