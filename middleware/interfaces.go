package middleware

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TailscaleClient is the slice of the tailscale local client that
// authentication needs.
type TailscaleClient interface {
	WhoIs(ctx context.Context, remoteAddr string) (*WhoIsResponse, error)
}

// WhoIsResponse is the identity tailscale reports for a peer.
type WhoIsResponse struct {
	UserProfile *UserProfile
}

type UserProfile struct {
	LoginName   string
	DisplayName string
}

// MemberStore resolves a tailnet login to a member, creating the member on
// first sight.
type MemberStore interface {
	CreateOrReturnID(ctx context.Context, email string) (MemberRow, error)
}

// MemberRow is the subset of a member record auth cares about.
type MemberRow struct {
	ID        int64
	IsAdmin   bool
	IsBlocked bool
}

// TelemetryConfig carries the otel handles the chains instrument with.
// Nil fields disable the matching instrumentation.
type TelemetryConfig struct {
	ServiceName string
	Tracer      trace.Tracer
	Meter       metric.Meter
	Metrics     TelemetryMetrics
}

type TelemetryMetrics struct {
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	ErrorCounter    metric.Int64Counter
}
