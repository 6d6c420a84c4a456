package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

type TelemetryConfig struct {
	ServiceName string
	// LogHandler is nil unless logs are exported over OTLP.
	LogHandler slog.Handler
	Meter      metric.Meter
	Metrics    struct {
		ErrorCounter    metric.Int64Counter
		RequestCounter  metric.Int64Counter
		VersionGauge    metric.Int64Gauge
		RequestDuration metric.Float64Histogram
		DBQueryDuration metric.Float64Histogram
		RenderDuration  metric.Float64Histogram
	}
	Tracer trace.Tracer
}

// setupTelemetry initializes OTEL tracing, metrics, and logging. Metrics go
// to the prometheus registry unless OTLP is enabled; traces and logs are only
// exported with OTLP.
func setupTelemetry(ctx context.Context, config *Config) (*TelemetryConfig, func(context.Context) error, error) {
	telemetryConfig := &TelemetryConfig{ServiceName: config.ServiceName}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace("userpages"),
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTEL resource: %w", err)
	}

	var meterProvider *sdkmetric.MeterProvider

	if !config.OTLP {
		prometheusExporter, err := prometheus.New()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}

		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(prometheusExporter),
		)
	} else {
		metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OTEL metrics exporter: %w", err)
		}

		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		)
	}

	otel.SetMeterProvider(meterProvider)
	telemetryConfig.Meter = meterProvider.Meter(config.ServiceName)

	traceOptions := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(config.TraceSampleRate)),
	}

	var logProvider *sdklog.LoggerProvider

	if config.OTLP {
		logExporter, err := otlploghttp.New(ctx,
			otlploghttp.WithCompression(otlploghttp.GzipCompression),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create log exporter: %w", err)
		}

		var processor sdklog.Processor = sdklog.NewBatchProcessor(logExporter, sdklog.WithExportBufferSize(512))

		severity := minsev.SeverityInfo
		if config.LogDebug {
			severity = minsev.SeverityDebug
		}
		processor = minsev.NewLogProcessor(processor, severity)

		logProvider = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(processor),
		)

		telemetryConfig.LogHandler = otelslog.NewHandler(
			config.ServiceName,
			otelslog.WithLoggerProvider(logProvider),
		)

		traceExporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}

		traceOptions = append(traceOptions, sdktrace.WithBatcher(traceExporter,
			sdktrace.WithMaxExportBatchSize(config.TraceMaxBatchSize),
		))
	}

	logger.Info("configured tracer with sampling",
		slog.Float64("rate", config.TraceSampleRate),
		slog.Bool("otlp", config.OTLP))

	traceProvider := sdktrace.NewTracerProvider(traceOptions...)

	otel.SetTracerProvider(traceProvider)
	telemetryConfig.Tracer = traceProvider.Tracer(config.ServiceName)

	if err := initializeMetrics(telemetryConfig.Meter, telemetryConfig); err != nil {
		return nil, nil, err
	}

	cleanup := func(ctx context.Context) error {
		errs := []error{meterProvider.Shutdown(ctx), traceProvider.Shutdown(ctx)}
		if logProvider != nil {
			errs = append(errs, logProvider.Shutdown(ctx))
		}
		return errors.Join(errs...)
	}

	return telemetryConfig, cleanup, nil
}

// newSampler always samples children of sampled parents and falls back to
// the ratio everywhere else.
func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	}

	return sdktrace.ParentBased(
		sdktrace.TraceIDRatioBased(rate),
		sdktrace.WithRemoteParentSampled(sdktrace.AlwaysSample()),
		sdktrace.WithRemoteParentNotSampled(sdktrace.TraceIDRatioBased(rate)),
		sdktrace.WithLocalParentSampled(sdktrace.AlwaysSample()),
		sdktrace.WithLocalParentNotSampled(sdktrace.TraceIDRatioBased(rate)),
	)
}

func initializeMetrics(meter metric.Meter, tc *TelemetryConfig) error {
	var err error

	tc.Metrics.RequestCounter, err = meter.Int64Counter("userpages.http.requests",
		metric.WithDescription("Number of HTTP requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request counter: %w", err)
	}

	tc.Metrics.ErrorCounter, err = meter.Int64Counter("userpages.http.errors",
		metric.WithDescription("Number of HTTP requests that ended in an error"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create error counter: %w", err)
	}

	tc.Metrics.RequestDuration, err = meter.Float64Histogram("userpages.http.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	tc.Metrics.DBQueryDuration, err = meter.Float64Histogram("userpages.db.query.duration",
		metric.WithDescription("Database query latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	tc.Metrics.RenderDuration, err = meter.Float64Histogram("userpages.bbcode.render.duration",
		metric.WithDescription("Time spent rendering and sanitizing BBCode"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create render duration histogram: %w", err)
	}

	tc.Metrics.VersionGauge, err = meter.Int64Gauge("userpages.build.info",
		metric.WithDescription("Always 1, labelled with the running version"),
	)
	if err != nil {
		return fmt.Errorf("failed to create version gauge: %w", err)
	}

	return nil
}
