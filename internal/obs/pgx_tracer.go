package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

type ctxSpanKey struct{}

// PGXTracer implements pgx.QueryTracer and pgx.BatchTracer, creating one span per statement.
type PGXTracer struct{}

// TraceQueryStart starts a span named after the SQL verb, e.g. "pgx.UPDATE".
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return startSpan(ctx, data.SQL)
}

// TraceQueryEnd records the affected rows and any error, then ends the span.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(ctxSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	endSpan(span, data.Err)
}

// TraceBatchStart opens a span covering a whole batch.
func (PGXTracer) TraceBatchStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchStartData) context.Context {
	size := 0
	if data.Batch != nil {
		size = data.Batch.Len()
	}
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx.batch")
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.Int("db.batch.size", size))
	return context.WithValue(ctx, ctxSpanKey{}, span)
}

// TraceBatchQuery records failed statements of a batch as span events.
func (PGXTracer) TraceBatchQuery(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchQueryData) {
	span, ok := ctx.Value(ctxSpanKey{}).(trace.Span)
	if !ok || data.Err == nil {
		return
	}
	span.AddEvent("batch.query.error", trace.WithAttributes(
		attribute.String("db.operation", operation(data.SQL)),
		attribute.String("error", data.Err.Error()),
	))
}

// TraceBatchEnd ends the batch span.
func (PGXTracer) TraceBatchEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchEndData) {
	if span, ok := ctx.Value(ctxSpanKey{}).(trace.Span); ok {
		endSpan(span, data.Err)
	}
}

func startSpan(ctx context.Context, sql string) context.Context {
	op := operation(sql)
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
		attribute.String("db.statement", truncateSQL(sql)),
	)
	if tenantID, ok := tenant.FromContext(ctx); ok {
		span.SetAttributes(attribute.String("tenant.id", tenantID))
	}
	return context.WithValue(ctx, ctxSpanKey{}, span)
}

func endSpan(span trace.Span, err error) {
	if err != nil && err != pgx.ErrNoRows {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "query"
	}
	return strings.ToUpper(fields[0])
}

func truncateSQL(sql string) string {
	trimmed := strings.Join(strings.Fields(sql), " ")
	if len(trimmed) > 300 {
		return trimmed[:300] + "..."
	}
	return trimmed
}
