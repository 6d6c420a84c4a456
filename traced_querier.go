package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TracedQueriesWrapper implements the ExtendedQuerier interface and adds tracing functionality
type TracedQueriesWrapper struct {
	wrapped   ExtendedQuerier
	telemetry *TelemetryConfig
}

// NewTracedQueriesWrapper creates a new TracedQueriesWrapper that decorates an existing ExtendedQuerier
func NewTracedQueriesWrapper(wrapped ExtendedQuerier, telemetry *TelemetryConfig) ExtendedQuerier {
	return &TracedQueriesWrapper{
		wrapped:   wrapped,
		telemetry: telemetry,
	}
}

// WithTx creates a new TracedQueriesWrapper with a transaction
func (t *TracedQueriesWrapper) WithTx(tx pgx.Tx) ExtendedQuerier {
	return &TracedQueriesWrapper{
		wrapped:   t.wrapped.WithTx(tx),
		telemetry: t.telemetry,
	}
}

func (t *TracedQueriesWrapper) start(ctx context.Context, name string) (context.Context, trace.Span, time.Time) {
	ctx, span := t.telemetry.Tracer.Start(ctx, name+"(query)",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", name),
		),
	)
	return ctx, span, time.Now()
}

// finish closes out a query span. Not-found is an answer, not a failure, so
// it is recorded as an attribute and the error passes through unwrapped.
func (t *TracedQueriesWrapper) finish(ctx context.Context, span trace.Span, name string, start time.Time, err error) error {
	duration := time.Since(start).Seconds()
	span.SetAttributes(attribute.Float64("request.duration", duration))
	t.recordMetrics(ctx, name, duration)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		span.SetAttributes(attribute.Bool("db.no_rows", true))
		span.SetStatus(codes.Ok, "")
		return err
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("query error: %w", err)
	}
}

// recordMetrics is a helper method to record query duration metrics
func (t *TracedQueriesWrapper) recordMetrics(ctx context.Context, queryName string, duration float64) {
	if t.telemetry.Metrics.DBQueryDuration != nil {
		t.telemetry.Metrics.DBQueryDuration.Record(ctx, duration,
			metric.WithAttributes(
				attribute.String("query", queryName),
			),
		)
	}
}

// CreateOrReturnID implements the Querier interface with tracing
func (t *TracedQueriesWrapper) CreateOrReturnID(ctx context.Context, pEmail string) (CreateOrReturnIDRow, error) {
	ctx, span, start := t.start(ctx, "CreateOrReturnID")
	defer span.End()

	row, err := t.wrapped.CreateOrReturnID(ctx, pEmail)
	if err == nil {
		span.SetAttributes(
			attribute.Bool("user.isAdmin", row.IsAdmin),
			attribute.Bool("user.isBlocked", row.IsBlocked),
			attribute.Int64("user.id", row.ID),
		)
	}
	return row, t.finish(ctx, span, "CreateOrReturnID", start, err)
}

// GetMember implements the Querier interface with tracing
func (t *TracedQueriesWrapper) GetMember(ctx context.Context, id int64) (Member, error) {
	ctx, span, start := t.start(ctx, "GetMember")
	defer span.End()

	span.SetAttributes(attribute.Int64("member.id", id))
	member, err := t.wrapped.GetMember(ctx, id)
	return member, t.finish(ctx, span, "GetMember", start, err)
}

// GetMemberByUsername implements the Querier interface with tracing
func (t *TracedQueriesWrapper) GetMemberByUsername(ctx context.Context, username string) (Member, error) {
	ctx, span, start := t.start(ctx, "GetMemberByUsername")
	defer span.End()

	member, err := t.wrapped.GetMemberByUsername(ctx, username)
	if err == nil {
		span.SetAttributes(attribute.Int64("member.id", member.ID))
	}
	return member, t.finish(ctx, span, "GetMemberByUsername", start, err)
}

// GetUserpage implements the Querier interface with tracing
func (t *TracedQueriesWrapper) GetUserpage(ctx context.Context, memberID int64) (Userpage, error) {
	ctx, span, start := t.start(ctx, "GetUserpage")
	defer span.End()

	span.SetAttributes(attribute.Int64("member.id", memberID))
	page, err := t.wrapped.GetUserpage(ctx, memberID)
	if err == nil {
		span.SetAttributes(attribute.Int("userpage.length", len(page.Body)))
	}
	return page, t.finish(ctx, span, "GetUserpage", start, err)
}

// UpsertUserpage implements the Querier interface with tracing
func (t *TracedQueriesWrapper) UpsertUserpage(ctx context.Context, arg UpsertUserpageParams) error {
	ctx, span, start := t.start(ctx, "UpsertUserpage")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("member.id", arg.MemberID),
		attribute.Int("userpage.length", len(arg.Body)),
	)
	err := t.wrapped.UpsertUserpage(ctx, arg)
	return t.finish(ctx, span, "UpsertUserpage", start, err)
}
