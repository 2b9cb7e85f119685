package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-engine/internal/metrics"
)

type queryStartKey struct{}

// queryTracer feeds query latency into metrics.DBQueryDuration.
type queryTracer struct{}

func (queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	outcome := "ok"
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) {
		outcome = "error"
	}
	metrics.DBQueryDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
