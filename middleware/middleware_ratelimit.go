package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// RateLimitConfig sets a default token bucket plus tighter buckets for
// the expensive endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int

	// EndpointLimits are checked in order; the first match wins.
	EndpointLimits []EndpointLimit

	EnableUserRateLimit bool
	UserRateMultiplier  float64

	CleanupInterval time.Duration
	IncludeHeaders  bool

	Meter        metric.Meter
	MetricPrefix string
}

// EndpointLimit applies to paths matching Pattern. A single * matches any
// run of characters. An empty Method matches every method.
type EndpointLimit struct {
	Method  string
	Pattern string
	Rate    float64
	Burst   int
}

func (l EndpointLimit) key() string {
	if l.Method == "" {
		return l.Pattern
	}
	return l.Method + " " + l.Pattern
}

func (l EndpointLimit) matches(method, path string) bool {
	return (l.Method == "" || l.Method == method) && matchesPattern(path, l.Pattern)
}

// DefaultRateLimitConfig throttles live preview, avatar uploads and saves
// harder than page views. Loading the editor counts as a page view.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond:   10,
		Burst:               20,
		EnableUserRateLimit: true,
		UserRateMultiplier:  2,
		CleanupInterval:     5 * time.Minute,
		IncludeHeaders:      true,
		EndpointLimits: []EndpointLimit{
			{Pattern: "/settings/user-page/parse", Rate: 2, Burst: 5},
			{Pattern: "/api/banner-gradient", Rate: 0.5, Burst: 3},
			{Method: http.MethodPost, Pattern: "/settings/user-page", Rate: 0.5, Burst: 3},
		},
	}
}

// RateLimiter keeps one token bucket per visitor and endpoint.
type RateLimiter struct {
	config   *RateLimitConfig
	logger   *slog.Logger
	visitors map[string]*visitor
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once

	hits           metric.Int64Counter
	activeVisitors metric.Int64Gauge
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(config *RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		config:   config,
		logger:   logger,
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
	}

	if config.Meter != nil {
		prefix := config.MetricPrefix
		if prefix == "" {
			prefix = "http.ratelimit"
		}
		rl.hits, _ = config.Meter.Int64Counter(prefix+".hits",
			metric.WithDescription("Requests rejected by the rate limiter"),
			metric.WithUnit("{hit}"),
		)
		rl.activeVisitors, _ = config.Meter.Int64Gauge(prefix+".visitors",
			metric.WithDescription("Tracked rate limit buckets"),
			metric.WithUnit("{visitor}"),
		)
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupVisitors()
	}
	return rl
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who := rl.getVisitorKey(r)
			limit := rl.getLimit(r.Method, r.URL.Path)
			v := rl.getVisitor(who, limit)

			if !v.limiter.Allow() {
				rl.handleRateLimitExceeded(w, r, who, v.limiter)
				return
			}
			if rl.config.IncludeHeaders {
				addRateLimitHeaders(w, v.limiter)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) getVisitorKey(r *http.Request) string {
	if rl.config.EnableUserRateLimit {
		if user, ok := getUser(r.Context()); ok {
			return "user:" + strconv.FormatInt(user.ID, 10)
		}
	}
	return "ip:" + getClientIP(r)
}

func (rl *RateLimiter) getLimit(method, path string) EndpointLimit {
	for _, limit := range rl.config.EndpointLimits {
		if limit.matches(method, path) {
			return limit
		}
	}
	return EndpointLimit{Pattern: "*", Rate: rl.config.RequestsPerSecond, Burst: rl.config.Burst}
}

// getVisitor returns the bucket for who on the endpoint limit applies to.
// Members get UserRateMultiplier times the anonymous allowance.
func (rl *RateLimiter) getVisitor(who string, limit EndpointLimit) *visitor {
	key := who + "|" + limit.key()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v
	}

	r, burst := limit.Rate, limit.Burst
	if strings.HasPrefix(who, "user:") && rl.config.UserRateMultiplier > 0 {
		r *= rl.config.UserRateMultiplier
		burst = int(float64(burst) * rl.config.UserRateMultiplier)
	}
	v := &visitor{limiter: rate.NewLimiter(rate.Limit(r), max(burst, 1)), lastSeen: now}
	rl.visitors[key] = v

	if rl.activeVisitors != nil {
		rl.activeVisitors.Record(context.Background(), int64(len(rl.visitors)))
	}
	return v
}

func (rl *RateLimiter) handleRateLimitExceeded(w http.ResponseWriter, r *http.Request, who string, limiter *rate.Limiter) {
	getLogger(r.Context()).WarnContext(r.Context(), "rate limit exceeded",
		slog.String("visitor_type", getVisitorType(who)),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
	)

	if rl.hits != nil {
		rl.hits.Add(r.Context(), 1, metric.WithAttributes(
			attribute.String("visitor_type", getVisitorType(who)),
			attribute.String("route", getRoutePattern(r)),
		))
	}

	if rl.config.IncludeHeaders {
		addRateLimitHeaders(w, limiter)
		if res := limiter.Reserve(); res.OK() {
			delay := res.Delay()
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
		}
	}

	http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
}

func addRateLimitHeaders(w http.ResponseWriter, limiter *rate.Limiter) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(int(limiter.Tokens()), 0)))
	h.Set("X-RateLimit-Policy", fmt.Sprintf("%.2f;w=1;burst=%d", float64(limiter.Limit()), limiter.Burst()))
}

func (rl *RateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.evictIdle(now)
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.config.CleanupInterval {
			delete(rl.visitors, key)
		}
	}
	if rl.activeVisitors != nil {
		rl.activeVisitors.Record(context.Background(), int64(len(rl.visitors)))
	}
}

func (rl *RateLimiter) visitorCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// getClientIP trusts X-Forwarded-For, since the service sits behind the
// tailnet proxy or a local reverse proxy.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func matchesPattern(path, pattern string) bool {
	prefix, suffix, wildcard := strings.Cut(pattern, "*")
	if !wildcard {
		return path == pattern
	}
	if strings.Contains(suffix, "*") {
		return false
	}
	return len(path) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(path, prefix) && strings.HasSuffix(path, suffix)
}

func getVisitorType(key string) string {
	kind, _, ok := strings.Cut(key, ":")
	if !ok {
		return "unknown"
	}
	return kind
}
