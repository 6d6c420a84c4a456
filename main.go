package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"tailscale.com/hostinfo"

	"github.com/realistikosu/userpages/pkg/bbcode"
)

//go:embed tmpl/*.html
var templateFiles embed.FS

//go:embed static
var staticFiles embed.FS

//go:embed docs/bbcode.md
var bbcodeHelp string

var (
	hostname            = flag.String("hostname", envOr("TSNET_HOSTNAME", "userpages"), "Hostname to use on your tailnet")
	dataDir             = flag.String("data-location", dataLocation(), "Configuration data location.")
	configPath          = flag.String("config", envOr("USERPAGES_CONFIG", ""), "Optional YAML configuration file")
	debug               = flag.Bool("debug", false, "Enable debug logging")
	tsnetLog            = flag.Bool("tsnet-log", false, "Enable tsnet logging")
	version  string     = "dev"
	gitSha   string     = "no-commit"
	logLevel slog.Level = slog.LevelInfo
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	hostinfo.SetApp("userpages")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger := setupLogger()

	config, err := LoadConfig(*configPath)
	if err != nil {
		logger.Error("loading configuration", slog.String("error", err.Error()))
		return 1
	}
	if config.LogDebug && !*debug {
		logLevel = slog.LevelDebug
		logger = newLogger(&logLevel)
	}
	config.Logger = logger
	config.ServiceVersion = version

	telemetry, shutdownTelemetry, err := setupTelemetry(ctx, config)
	if err != nil {
		logger.Error("setting up telemetry", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()
	logger = withOTLPLogs(logger, telemetry.LogHandler)

	versionGauge.With(prometheus.Labels{"version": version, "git_commit": gitSha, "hostname": *hostname}).Set(1)
	if telemetry.Metrics.VersionGauge != nil {
		telemetry.Metrics.VersionGauge.Record(ctx, 1, metric.WithAttributes(
			attribute.String("version", version),
			attribute.String("git_commit", gitSha),
		))
	}

	dbconn, err := setupDatabase(ctx, config, logger)
	if err != nil {
		logger.Error("setting up database", slog.String("error", err.Error()))
		return 1
	}
	defer dbconn.Close()

	if err := runMigrations(ctx, dbconn, logger); err != nil {
		logger.Error("migrating database", slog.String("error", err.Error()))
		return 1
	}

	cache := setupRenderCache(ctx, config, logger)
	defer cache.Close()

	renderer := bbcode.New(bbcode.WithTwitchParent(config.TwitchParent))
	parser := NewUserpageParser(renderer, cache, logger, telemetry)
	tmpls := setupTemplates(parser)

	s, err := setupTsNetServer(logger)
	if err != nil {
		logger.Error("setting up tsnet", slog.String("error", err.Error()))
		return 1
	}
	defer s.Close()

	lc, err := getTailscaleLocalClient(s)
	if err != nil {
		logger.Error("tailscale local client", slog.String("error", err.Error()))
		return 1
	}

	httpsName := expandSNIName(ctx, lc, *hostname, logger)

	usvc := NewUserpageService(
		lc,
		logger,
		dbconn,
		newQuerier(dbconn, telemetry),
		tmpls,
		parser,
		cache,
		telemetry,
		config,
		fmt.Sprintf("https://%s", httpsName),
		version,
		gitSha,
	)

	mux, closeRoutes := SetupRoutes(usvc)
	defer closeRoutes()

	serverPlain := createHTTPServer(mux)
	serverTLS := createHTTPSServer(mux)

	ln, tln, err := startListeners(s)
	if err != nil {
		logger.Error("starting listeners", slog.String("error", err.Error()))
		return 1
	}
	defer ln.Close()
	defer tln.Close()

	go startServer(serverPlain, ln, logger, "http", *hostname)
	go startServer(serverTLS, tln, logger, "https", httpsName)

	return waitForShutdown(ctx, sigChan, logger, serverPlain, serverTLS)
}
