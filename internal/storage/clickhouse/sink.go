package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/JakeFAU/realtime-price-tracker/internal/progress"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// DefaultTable receives one row per successful check.
const DefaultTable = "price_checks"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Sink is a progress.Sink appending completed checks and their drift
// statistics to a MergeTree table.
type Sink struct {
	conn  Conn
	table string
}

var _ progress.Sink = (*Sink)(nil)

// NewSink returns a sink writing to table (DefaultTable when empty).
func NewSink(conn Conn, table string) (*Sink, error) {
	if conn == nil {
		return nil, errors.New("clickhouse connection is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return &Sink{conn: conn, table: table}, nil
}

// EnsureTable creates the destination table if it does not exist.
func (s *Sink) EnsureTable(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	request_id     String,
	product_id     Int64,
	attempt        UInt32,
	cause          LowCardinality(String),
	platform       LowCardinality(String),
	price          Float64,
	currency       LowCardinality(String),
	in_stock       Bool,
	observed_at    DateTime64(3, 'UTC'),
	mean_7d        Float64,
	min_7d         Float64,
	max_7d         Float64,
	stddev_7d      Float64,
	count_7d       UInt32,
	drift_ratio    Float64,
	retrain_signal Bool,
	alerts_fired   UInt32,
	duration_ms    Int64
) ENGINE = MergeTree
ORDER BY (product_id, observed_at)`
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Consume implements progress.Sink. Only Done events carrying an analysis are
// written; a batch without any is a no-op.
func (s *Sink) Consume(ctx context.Context, events []progress.Event) error {
	rows := make([]progress.Event, 0, len(events))
	for _, ev := range events {
		if ev.Stage == tracker.StageDone && ev.Analysis != nil {
			rows = append(rows, ev)
		}
	}
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, ev := range rows {
		a := ev.Analysis
		if err := batch.Append(
			ev.RequestID, ev.ProductID, uint32(ev.Attempt), string(ev.Cause), ev.Platform,
			a.Price, a.Currency, a.InStock, a.ObservedAt,
			a.Mean, a.Min, a.Max, a.StdDev, uint32(a.Count),
			a.DriftRatio, a.RetrainSignal, uint32(ev.AlertsFired), ev.Dur.Milliseconds(),
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Close implements progress.Sink.
func (s *Sink) Close(context.Context) error {
	return s.conn.Close()
}
