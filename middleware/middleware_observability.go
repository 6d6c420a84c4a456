package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ObservabilityConfig wires request spans, metrics and access logs.
type ObservabilityConfig struct {
	ServiceName     string
	Logger          *slog.Logger
	Tracer          trace.Tracer
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	ResponseSize    metric.Int64Histogram
	ErrorCounter    metric.Int64Counter
	ActiveRequests  metric.Int64UpDownCounter
	// LogRequests turns on the request_started and request_completed lines.
	LogRequests bool
}

func newObservabilityMiddleware(config *ObservabilityConfig) Middleware {
	tracer := config.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := getOrCreateRequestContext(r.Context())
			route := getRoutePattern(r)

			ctx, span := tracer.Start(r.Context(), r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethodKey.String(r.Method),
					semconv.HTTPRouteKey.String(route),
					semconv.HTTPTargetKey.String(r.URL.Path),
					attribute.String("http.host", r.Host),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.Int64("http.request_content_length", r.ContentLength),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.IsValid() {
				rc.TraceID = sc.TraceID().String()
			}

			if config.ActiveRequests != nil {
				config.ActiveRequests.Add(ctx, 1)
				defer config.ActiveRequests.Add(ctx, -1)
			}

			if config.Logger != nil && config.LogRequests {
				config.Logger.InfoContext(ctx, "request_started",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", rc.RequestID),
					slog.String("trace_id", rc.TraceID),
				)
			}

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			duration := time.Since(rc.StartTime)
			status := wrapped.Status()
			attrs := []attribute.KeyValue{
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.Int("status_code", status),
				attribute.String("status_class", strconv.Itoa(status/100)+"xx"),
			}

			if config.RequestCounter != nil {
				config.RequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
			if config.RequestDuration != nil {
				config.RequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
			}
			if config.ResponseSize != nil {
				config.ResponseSize.Record(ctx, wrapped.BytesWritten(), metric.WithAttributes(attrs...))
			}
			if status >= 400 && config.ErrorCounter != nil {
				config.ErrorCounter.Add(ctx, 1, metric.WithAttributes(
					append(attrs, attribute.String("error_type", getErrorType(status)))...))
			}

			span.SetAttributes(
				semconv.HTTPStatusCodeKey.Int(status),
				attribute.Int64("http.response_content_length", wrapped.BytesWritten()),
			)
			if status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			if config.Logger != nil && config.LogRequests {
				level := slog.LevelInfo
				switch {
				case status >= 500:
					level = slog.LevelError
				case status >= 400:
					level = slog.LevelWarn
				}
				config.Logger.LogAttrs(ctx, level, "request_completed",
					slog.String("method", r.Method),
					slog.String("route", route),
					slog.String("request_id", rc.RequestID),
					slog.String("trace_id", rc.TraceID),
					slog.Int("status", status),
					slog.Int64("bytes_written", wrapped.BytesWritten()),
					slog.Duration("duration", duration),
				)
			}
		})
	}
}

// getRoutePattern prefers the pattern the mux matched. Unrouted userpage
// paths are folded so member ids do not become metric labels.
func getRoutePattern(r *http.Request) string {
	if r.Pattern != "" {
		if _, path, ok := strings.Cut(r.Pattern, " "); ok {
			return path
		}
		return r.Pattern
	}
	if strings.HasPrefix(r.URL.Path, "/u/") {
		return "/u/{mid}"
	}
	return r.URL.Path
}

func getErrorType(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	return "server_error"
}

// loggingMiddleware stores a request-scoped logger on the context and logs
// each response at debug level.
func loggingMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := getOrCreateRequestContext(r.Context())
			requestLogger := logger.With(
				slog.String("request_id", rc.RequestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			ctx := context.WithValue(r.Context(), contextKeyLogger, requestLogger)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			requestLogger.DebugContext(ctx, "response",
				slog.Int("status", wrapped.Status()),
				slog.Int64("bytes", wrapped.BytesWritten()),
				slog.Duration("duration", time.Since(rc.StartTime)),
			)
		})
	}
}

// getLogger returns the request-scoped logger, or slog.Default outside a
// request.
func getLogger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKeyLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// LoggerFromContext is getLogger for handlers outside this package.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return getLogger(ctx)
}
