package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/realistikosu/userpages/pkg/bbcode"
	"github.com/realistikosu/userpages/pkg/rendercache"
)

type Config struct {
	LogDebug          bool          `yaml:"log_debug"`
	Logger            *slog.Logger  `yaml:"-"`
	ServiceName       string        `yaml:"service_name"`
	ServiceVersion    string        `yaml:"-"`
	TraceMaxBatchSize int           `yaml:"trace_max_batch_size"`
	TraceSampleRate   float64       `yaml:"trace_sample_rate"`
	OTLP              bool          `yaml:"otlp"`
	DatabaseURL       string        `yaml:"database_url"`
	RedisURL          string        `yaml:"redis_url"`
	TwitchParent      string        `yaml:"twitch_parent"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	MaxUserpageLength int           `yaml:"max_userpage_length"`
}

func defaultConfig() *Config {
	return &Config{
		ServiceName:       "userpages",
		TraceMaxBatchSize: 512,
		TraceSampleRate:   1.0,
		TwitchParent:      bbcode.DefaultTwitchParent,
		CacheTTL:          rendercache.DefaultTTL,
		MaxUserpageLength: MaxUserpageLength,
	}
}

// LoadConfig layers defaults, an optional .env file, an optional YAML file
// at path and finally the process environment.
func LoadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("USERPAGES_TWITCH_PARENT"); v != "" {
		c.TwitchParent = v
	}
	if v := os.Getenv("USERPAGES_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("failed to parse USERPAGES_CACHE_TTL: %w", err)
		}
		c.CacheTTL = ttl
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.OTLP = true
	}
	return nil
}

func (c *Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.ServiceName) == "" {
		errs = append(errs, errors.New("service_name must not be empty"))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, fmt.Errorf("trace_sample_rate %v out of range [0, 1]", c.TraceSampleRate))
	}
	if c.TraceMaxBatchSize <= 0 {
		errs = append(errs, errors.New("trace_max_batch_size must be positive"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("cache_ttl must not be negative"))
	}
	if c.MaxUserpageLength <= 0 {
		errs = append(errs, errors.New("max_userpage_length must be positive"))
	}
	return errors.Join(errs...)
}

// PoolConfig function with error handling
func PoolConfig(dsn string, logger *slog.Logger) (*pgxpool.Config, error) {
	const defaultMaxConns = int32(4)
	const defaultMinConns = int32(0)
	const defaultMaxConnLifetime = time.Hour
	const defaultMaxConnIdleTime = time.Minute * 15
	const defaultHealthCheckPeriod = time.Minute
	const defaultConnectTimeout = time.Second * 5

	dbConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database configuration: %w", err)
	}

	dbConfig.MaxConns = defaultMaxConns
	dbConfig.MinConns = defaultMinConns
	dbConfig.MaxConnLifetime = defaultMaxConnLifetime
	dbConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	dbConfig.HealthCheckPeriod = defaultHealthCheckPeriod
	dbConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dbConfig.BeforeConnect = func(ctx context.Context, c *pgx.ConnConfig) error {
		logger.DebugContext(ctx, "creating connection", slog.String("host", c.Host))
		return nil
	}

	dbConfig.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		logger.DebugContext(ctx, "connection created")
		return nil
	}

	dbConfig.BeforeAcquire = func(ctx context.Context, c *pgx.Conn) bool {
		logger.DebugContext(ctx, "acquiring pooled connection")
		return true
	}

	dbConfig.AfterRelease = func(c *pgx.Conn) bool {
		logger.Debug("releasing pooled connection")
		return true
	}

	dbConfig.BeforeClose = func(c *pgx.Conn) {
		logger.Debug("closing pooled connection")
	}

	return dbConfig, nil
}
