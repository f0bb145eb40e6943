package adsync

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/model"
)

// FunnelWriter persists one funnel row keyed by (start_date, end_date,
// funnel_id). store.Store satisfies it.
type FunnelWriter interface {
	UpsertFunnel(ctx context.Context, row model.FunnelRow) error
}

// WriteResult counts the outcome of one Write call.
type WriteResult struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

// Writer stamps and upserts finalized funnel rows one at a time.
type Writer struct {
	dst FunnelWriter
	log *zap.Logger
}

// NewWriter creates a Writer over dst.
func NewWriter(dst FunnelWriter) *Writer {
	return &Writer{
		dst: dst,
		log: zap.L().With(zap.String("component", "adsync.writer")),
	}
}

// Write upserts each row with is_current_week set. A failed row is logged and
// counted and the remaining rows are still attempted. Once ctx is done the
// remaining rows are counted as failed without being attempted.
func (w *Writer) Write(ctx context.Context, rows []model.FunnelRow) WriteResult {
	var res WriteResult
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			res.Failed += len(rows) - i
			w.log.Warn("write interrupted", zap.Int("remaining", len(rows)-i), zap.Error(err))
			break
		}

		row.IsCurrentWeek = true
		if err := w.dst.UpsertFunnel(ctx, row); err != nil {
			res.Failed++
			w.log.Error("funnel write failed",
				zap.String("key", row.Key.String()),
				zap.String("account_id", row.AccountID),
				zap.Error(err),
			)
			continue
		}
		res.Written++
	}
	return res
}
