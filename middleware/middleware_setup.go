package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxBodyBytes   = 1 << 20
	defaultMaxUploadBytes = 4 << 20
)

// MiddlewareSetup builds the chains the userpage routes are mounted on.
type MiddlewareSetup struct {
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter
	Telemetry *TelemetryConfig

	AuthProvider AuthProvider

	SecurityConfig  *SecurityConfig
	RateLimitConfig *RateLimitConfig

	EnableAuth      bool
	EnableRateLimit bool
	EnableMetrics   bool
	EnableCSRF      bool
	// DebugHeaders adds X-User-ID to authenticated responses.
	DebugHeaders bool

	// MaxBodyBytes caps form posts; MaxUploadBytes caps the API chain.
	MaxBodyBytes   int64
	MaxUploadBytes int64

	limiterOnce sync.Once
	limiter     *RateLimiter
}

func newMiddlewareSetup(logger *slog.Logger, telemetry *TelemetryConfig, authProvider AuthProvider) *MiddlewareSetup {
	if logger == nil {
		logger = slog.Default()
	}
	if telemetry == nil {
		telemetry = &TelemetryConfig{}
	}

	return &MiddlewareSetup{
		Logger:          logger,
		Tracer:          telemetry.Tracer,
		Meter:           telemetry.Meter,
		Telemetry:       telemetry,
		AuthProvider:    authProvider,
		SecurityConfig:  DefaultSecurityConfig(),
		RateLimitConfig: DefaultRateLimitConfig(),
		EnableAuth:      authProvider != nil,
		EnableRateLimit: true,
		EnableMetrics:   true,
		EnableCSRF:      true,
		MaxBodyBytes:    defaultMaxBodyBytes,
		MaxUploadBytes:  defaultMaxUploadBytes,
	}
}

// RateLimiter returns the limiter shared by every chain, creating it on
// first use so RateLimitConfig can be adjusted after construction.
func (ms *MiddlewareSetup) RateLimiter() *RateLimiter {
	ms.limiterOnce.Do(func() {
		config := ms.RateLimitConfig
		if config != nil && config.Meter == nil {
			c := *config
			c.Meter = ms.Meter
			config = &c
		}
		ms.limiter = newRateLimiter(config, ms.Logger)
	})
	return ms.limiter
}

// Close releases the rate limiter's background goroutine.
func (ms *MiddlewareSetup) Close() {
	if ms.limiter != nil {
		ms.limiter.Close()
	}
}

func (ms *MiddlewareSetup) base(security *SecurityConfig, maxBody int64) []Middleware {
	middlewares := []Middleware{requestContextMiddleware()}
	if ms.EnableMetrics {
		middlewares = append(middlewares, ms.createObservabilityMiddleware())
	}
	return append(middlewares,
		loggingMiddleware(ms.Logger),
		securityHeadersMiddleware(security),
		requestSizeLimitMiddleware(maxBody),
	)
}

// CreatePublicChain is for pages anyone on the tailnet may read.
func (ms *MiddlewareSetup) CreatePublicChain() *Chain {
	middlewares := ms.base(ms.SecurityConfig, ms.MaxBodyBytes)
	if ms.EnableRateLimit {
		middlewares = append(middlewares, ms.RateLimiter().Middleware())
	}
	return newChain(middlewares...)
}

// CreateAuthenticatedChain resolves the member before rate limiting so
// members are limited per account rather than per address.
func (ms *MiddlewareSetup) CreateAuthenticatedChain() *Chain {
	return newChain(ms.base(ms.SecurityConfig, ms.MaxBodyBytes)...).Extend(ms.memberMiddleware())
}

// CreateAPIChain serves JSON: nothing on these routes renders HTML, so the
// CSP denies everything.
func (ms *MiddlewareSetup) CreateAPIChain() *Chain {
	api := *ms.security()
	api.CSPDirectives = map[string]string{
		"default-src":     "'none'",
		"frame-ancestors": "'none'",
	}
	return newChain(ms.base(&api, ms.MaxUploadBytes)...).Extend(ms.memberMiddleware())
}

// CreateStaticChain adds long-lived caching to the public chain.
func (ms *MiddlewareSetup) CreateStaticChain() *Chain {
	return ms.CreatePublicChain().Append(staticFileMiddleware())
}

// CreateHealthChain skips security headers and rate limiting so health checks
// stay cheap.
func (ms *MiddlewareSetup) CreateHealthChain() *Chain {
	return newChain(requestContextMiddleware(), loggingMiddleware(ms.Logger))
}

func (ms *MiddlewareSetup) memberMiddleware() *Chain {
	var middlewares []Middleware
	if ms.EnableAuth && ms.AuthProvider != nil {
		middlewares = append(middlewares,
			authMiddleware(ms.AuthProvider, ms.Tracer),
			userEnrichmentMiddleware(ms.DebugHeaders),
		)
	}
	if ms.EnableRateLimit {
		middlewares = append(middlewares, ms.RateLimiter().Middleware())
	}
	if ms.EnableCSRF {
		middlewares = append(middlewares,
			when(hasMethod(http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete),
				csrfProtectionMiddleware(ms.security())))
	}
	return newChain(middlewares...)
}

func (ms *MiddlewareSetup) security() *SecurityConfig {
	if ms.SecurityConfig == nil {
		ms.SecurityConfig = DefaultSecurityConfig()
	}
	return ms.SecurityConfig
}

func (ms *MiddlewareSetup) createObservabilityMiddleware() Middleware {
	config := &ObservabilityConfig{
		ServiceName:     ms.Telemetry.ServiceName,
		Logger:          ms.Logger,
		Tracer:          ms.Tracer,
		RequestCounter:  ms.Telemetry.Metrics.RequestCounter,
		RequestDuration: ms.Telemetry.Metrics.RequestDuration,
		ErrorCounter:    ms.Telemetry.Metrics.ErrorCounter,
	}

	if ms.Meter != nil {
		config.ResponseSize, _ = ms.Meter.Int64Histogram("http.server.response.size",
			metric.WithDescription("Size of HTTP response bodies"),
			metric.WithUnit("By"),
		)
		config.ActiveRequests, _ = ms.Meter.Int64UpDownCounter("http.server.active_requests",
			metric.WithDescription("Number of in-flight HTTP requests"),
			metric.WithUnit("{request}"),
		)
	}

	return newObservabilityMiddleware(config)
}

// staticFileMiddleware marks embedded assets cacheable for a day.
func staticFileMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=86400")
			if strings.HasSuffix(r.URL.Path, ".woff2") || strings.HasSuffix(r.URL.Path, ".ttf") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			next.ServeHTTP(w, r)
		})
	}
}
