// Package middleware holds the HTTP middleware the userpage service is
// built on: request context, security headers, tailscale authentication,
// rate limiting and otel observability, composed into chains.
package middleware

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

var NewChain = newChain

// Request data accessors.
var (
	GetUser      = getUser
	GetRequestID = getRequestID
	GetTraceID   = getTraceID
	GetLogger    = getLogger
	GetCSPNonce  = getCSPNonce
)

// Conditions for When and Unless.
var (
	When            = when
	Unless          = unless
	IsAuthenticated = isAuthenticated
	HasMethod       = hasMethod
	HasPathPrefix   = hasPathPrefix
)

var (
	RequestContextMiddleware   = requestContextMiddleware
	SecurityHeadersMiddleware  = securityHeadersMiddleware
	CSRFProtectionMiddleware   = csrfProtectionMiddleware
	RequestSizeLimitMiddleware = requestSizeLimitMiddleware
	LoggingMiddleware          = loggingMiddleware
	StaticFileMiddleware       = staticFileMiddleware
)

func NewTailscaleAuthProvider(client TailscaleClient, members MemberStore, logger *slog.Logger) AuthProvider {
	return newTailscaleAuthProvider(client, members, logger)
}

func NewRateLimiter(config *RateLimitConfig, logger *slog.Logger) *RateLimiter {
	return newRateLimiter(config, logger)
}

func NewObservabilityMiddleware(config *ObservabilityConfig) Middleware {
	return newObservabilityMiddleware(config)
}

func AuthMiddleware(provider AuthProvider, tracer trace.Tracer) Middleware {
	return authMiddleware(provider, tracer)
}

func RequireAuthMiddleware() Middleware {
	return requireAuthMiddleware()
}

// NewMiddlewareSetup returns a setup with auth enabled when authProvider is
// non-nil. A nil telemetry disables metrics instruments but keeps logging.
func NewMiddlewareSetup(logger *slog.Logger, telemetry *TelemetryConfig, authProvider AuthProvider) *MiddlewareSetup {
	return newMiddlewareSetup(logger, telemetry, authProvider)
}
