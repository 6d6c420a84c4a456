package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"tailscale.com/client/tailscale"
	"tailscale.com/tsnet"

	"github.com/realistikosu/userpages/pkg/bbcode"
	"github.com/realistikosu/userpages/pkg/bbcode/boxtoggle"
	"github.com/realistikosu/userpages/pkg/rendercache"
)

func createConfigDir(dir string) error {
	err := os.MkdirAll(dir, 0o700)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Join(dir, "tsnet"), 0o700)
	if err != nil {
		return err
	}

	return nil
}

func newLogger(logLevel *slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	}))
	slog.SetDefault(logger)

	return logger
}

// withOTLPLogs sends every record to both the local handler and the OTLP
// bridge. A nil extra handler leaves the logger unchanged.
func withOTLPLogs(logger *slog.Logger, extra slog.Handler) *slog.Logger {
	if extra == nil {
		return logger
	}
	logger = slog.New(teeHandler{logger.Handler(), extra})
	slog.SetDefault(logger)
	return logger
}

type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

func dataLocation() string {
	if dir, ok := os.LookupEnv("DATA_DIR"); ok {
		return dir
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return os.Getenv("DATA_DIR")
	}
	return filepath.Join(dir, "tailscale", "userpages")
}

func envOr(key, defaultVal string) string {
	if result, ok := os.LookupEnv(key); ok {
		return result
	}
	return defaultVal
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func setupLogger() *slog.Logger {
	if *debug {
		logLevel = slog.LevelDebug
	}
	return newLogger(&logLevel)
}

func setupDatabase(ctx context.Context, config *Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if config.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL environment variable is not set")
	}

	poolConfig, err := PoolConfig(config.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	dbCtx, dbCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dbCancel()

	dbconn, err := pgxpool.NewWithConfig(dbCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := dbconn.Ping(dbCtx); err != nil {
		dbconn.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return dbconn, nil
}

// setupRenderCache returns nil when no redis is configured or reachable;
// a nil cache renders every request.
func setupRenderCache(ctx context.Context, config *Config, logger *slog.Logger) *rendercache.Cache {
	if config.RedisURL == "" {
		logger.InfoContext(ctx, "render cache disabled", slog.String("reason", "REDIS_URL not set"))
		return nil
	}

	client, err := rendercache.Connect(ctx, config.RedisURL)
	if err != nil {
		logger.WarnContext(ctx, "render cache disabled", slog.String("error", err.Error()))
		return nil
	}

	return rendercache.New(client, renderCacheVersion(config), config.CacheTTL, logger)
}

func renderCacheVersion(config *Config) string {
	return bbcode.OutputVersion + "/" + config.ServiceVersion + "/" + config.TwitchParent
}

func setupTsNetServer(logger *slog.Logger) (*tsnet.Server, error) {
	err := createConfigDir(*dataDir)
	if err != nil {
		logger.Info(fmt.Sprintf("creating configuration directory (%s) failed: %v", *dataDir, err), "data-dir", *dataDir)
	}

	s := NewTsNetServer(*dataDir, *hostname)

	if *tsnetLog {
		s.Logf = func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "tsnet"))
		}
		s.UserLogf = func(format string, args ...any) {
			logger.Info(fmt.Sprintf(format, args...), slog.String("component", "tsnet"))
		}
	}

	if err := s.Start(); err != nil {
		return nil, fmt.Errorf("error starting tsnet server: %w", err)
	}

	lc, err := s.LocalClient()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("error creating local client: %w", err)
	}

	if err := checkTailscaleReady(context.Background(), lc, logger); err != nil {
		s.Close()
		return nil, fmt.Errorf("tailscale not ready: %w", err)
	}

	return s, nil
}

func setupTemplates(parser *UserpageParser) *template.Template {
	funcs := template.FuncMap{
		"formatTimestamp": formatTimestamp,
		"boxToggleScript": boxtoggle.ScriptTag,
	}
	for name, fn := range parser.FuncMap() {
		funcs[name] = fn
	}

	return template.Must(template.New("any").Funcs(funcs).ParseFS(templateFiles, "tmpl/*.html"))
}

func createHTTPServer(mux http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":80",
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
}

func createHTTPSServer(mux http.Handler) *http.Server {
	server := createHTTPServer(mux)
	server.Addr = ":443"
	return server
}

func startListeners(s *tsnet.Server) (net.Listener, net.Listener, error) {
	ln, err := s.Listen("tcp", ":80")
	if err != nil {
		return nil, nil, fmt.Errorf("error creating non-TLS listener: %w", err)
	}

	tln, err := s.ListenTLS("tcp", ":443")
	if err != nil {
		ln.Close()
		return nil, nil, fmt.Errorf("error creating TLS listener: %w", err)
	}

	return ln, tln, nil
}

func startServer(server *http.Server, ln net.Listener, logger *slog.Logger, scheme, hostname string) {
	logger.Info(fmt.Sprintf("listening on %s://%s", scheme, hostname))
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(fmt.Sprintf("%s server failed", scheme), slog.String("error", err.Error()))
	}
}

// waitForShutdown blocks until a signal arrives, drains both servers and
// returns the exit status for that signal.
func waitForShutdown(ctx context.Context, sigChan <-chan os.Signal, logger *slog.Logger, servers ...*http.Server) int {
	sig := <-sigChan
	logger.Info("shutting down gracefully", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown server",
				slog.String("addr", server.Addr),
				slog.String("error", err.Error()))
		}
	}

	logger.Info("servers stopped")

	if sigNum, ok := sig.(syscall.Signal); ok {
		return 128 + int(sigNum)
	}
	return 0
}

func getTailscaleLocalClient(s *tsnet.Server) (*tailscale.LocalClient, error) {
	lc, err := s.LocalClient()
	if err != nil {
		return nil, fmt.Errorf("error creating local client: %w", err)
	}
	return lc, nil
}

func expandSNIName(ctx context.Context, lc TailscaleClient, name string, logger *slog.Logger) string {
	sni, ok := lc.ExpandSNIName(ctx, name)
	if !ok {
		logger.WarnContext(ctx, "error expanding SNI name", slog.String("hostname", name))
		return name
	}
	return sni
}
