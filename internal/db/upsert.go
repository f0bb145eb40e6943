package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines a keyed single-row upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "public.funnel_metrics")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	Touch        string   // optional timestamp column set to CURRENT_TIMESTAMP on every write
}

// BuildUpsertSQL renders INSERT ... VALUES ($1..$n) ON CONFLICT (keys) DO
// UPDATE SET ... for cfg. The statement is valid for both Postgres and SQLite.
func BuildUpsertSQL(cfg UpsertConfig) (string, error) {
	if cfg.Table == "" {
		return "", eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	cols := cfg.Columns
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	if cfg.Touch != "" {
		cols = append(cols[:len(cols):len(cols)], cfg.Touch)
		placeholders = append(placeholders, "CURRENT_TIMESTAMP")
	}

	setClauses := make([]string, 0, len(updateCols)+1)
	for _, col := range updateCols {
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	if cfg.Touch != "" {
		setClauses = append(setClauses, fmt.Sprintf("%s = CURRENT_TIMESTAMP", pgx.Identifier{cfg.Touch}.Sanitize()))
	}

	action := "DO NOTHING"
	if len(setClauses) > 0 {
		action = "DO UPDATE SET " + strings.Join(setClauses, ", ")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cols),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		action,
	), nil
}

// Upsert writes one row keyed by cfg.ConflictKeys. A second write of the same
// key replaces every update column.
func Upsert(ctx context.Context, pool Pool, cfg UpsertConfig, values []any) (int64, error) {
	if len(values) != len(cfg.Columns) {
		return 0, eris.Errorf("db: upsert: %d values for %d columns", len(values), len(cfg.Columns))
	}
	sql, err := BuildUpsertSQL(cfg)
	if err != nil {
		return 0, err
	}

	tag, err := pool.Exec(ctx, sql, values...)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable handles schema-qualified table names like "public.funnel_metrics".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
