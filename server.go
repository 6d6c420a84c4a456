package main

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"tailscale.com/client/tailscale/apitype"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
	tsnetlog "tailscale.com/types/logger"

	"github.com/realistikosu/userpages/pkg/rendercache"
)

type TailscaleClient interface {
	WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
	ExpandSNIName(ctx context.Context, name string) (fqdn string, ok bool)
	Status(ctx context.Context) (*ipnstate.Status, error)
	StatusWithoutPeers(ctx context.Context) (*ipnstate.Status, error)
}

type ExtendedQuerier interface {
	Querier
	WithTx(tx pgx.Tx) ExtendedQuerier
}

type QueriesWrapper struct {
	*Queries // embedded from pgx
}

func (qw *QueriesWrapper) WithTx(tx pgx.Tx) ExtendedQuerier {
	return &QueriesWrapper{
		Queries: qw.Queries.WithTx(tx),
	}
}

// Pinger is the part of the pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// readyPollInterval is how long checkTailscaleReady waits between polls of
// a backend that is still coming up.
var readyPollInterval = 5 * time.Second

func checkTailscaleReady(ctx context.Context, lc TailscaleClient, logger *slog.Logger) error {
	for {
		st, err := lc.Status(ctx)
		if err != nil {
			return fmt.Errorf("error retrieving tailscale status: %w", err)
		}

		switch st.BackendState {
		case "Running":
			nopeers, err := lc.StatusWithoutPeers(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "tsnet status without peers", slog.String("error", err.Error()))
				return nil
			}
			logger.InfoContext(ctx, "tsnet running", slog.Any("certDomains", nopeers.CertDomains))
			return nil
		case "Stopped":
			logger.InfoContext(ctx, "tsnet stopped")
			return nil
		case "NeedsLogin":
			logger.InfoContext(ctx, "needs login to tailscale", slog.String("auth_url", st.AuthURL))
		case "NeedsMachineAuth":
			logger.InfoContext(ctx, "waiting for machine approval")
		default:
			logger.DebugContext(ctx, "waiting for tsnet", slog.String("state", st.BackendState))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

type UserpageService struct {
	tailClient TailscaleClient
	logger     *slog.Logger
	dbconn     Pinger
	queries    Querier
	tmpls      *template.Template
	parser     *UserpageParser
	cache      *rendercache.Cache
	telemetry  *TelemetryConfig
	config     *Config
	httpsURL   string
	version    string
	gitSha     string
}

func NewUserpageService(tailClient TailscaleClient,
	logger *slog.Logger,
	dbconn Pinger,
	queries Querier,
	tmpls *template.Template,
	parser *UserpageParser,
	cache *rendercache.Cache,
	telemetry *TelemetryConfig,
	config *Config,
	httpsURL string,
	version string,
	gitSha string,
) *UserpageService {
	if config == nil {
		config = defaultConfig()
	}
	return &UserpageService{
		tailClient: tailClient,
		logger:     logger,
		dbconn:     dbconn,
		queries:    queries,
		tmpls:      tmpls,
		parser:     parser,
		cache:      cache,
		telemetry:  telemetry,
		config:     config,
		httpsURL:   httpsURL,
		version:    version,
		gitSha:     gitSha,
	}
}

func NewTsNetServer(dataDir, hostname string) *tsnet.Server {
	return &tsnet.Server{
		Dir:      filepath.Join(dataDir, "tsnet"),
		Hostname: hostname,
		UserLogf: tsnetlog.Discard,
		Logf:     tsnetlog.Discard,
	}
}

// newQuerier wraps the generated queries with tracing when telemetry is up.
func newQuerier(pool *pgxpool.Pool, telemetry *TelemetryConfig) ExtendedQuerier {
	var q ExtendedQuerier = &QueriesWrapper{Queries: New(pool)}
	if telemetry != nil && telemetry.Tracer != nil {
		q = NewTracedQueriesWrapper(q, telemetry)
	}
	return q
}
