package main

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	versionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "userpages_build_info",
		Help: "A gauge with version and git commit information",
	}, []string{"version", "git_commit", "hostname"})

	renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "userpages",
			Name:      "render_duration_seconds",
			Help:      "Histogram of the time it takes to render and sanitize a userpage.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"source"},
	)

	renderCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "userpages",
			Name:      "render_cache_lookups_total",
			Help:      "Rendered userpage cache lookups by result.",
		},
		[]string{"result"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "userpages",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of response latency (seconds) for HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "code"},
	)
)

var numericSegment = regexp.MustCompile(`/(\d+)`)

func init() {
	prometheus.MustRegister(renderDuration)
	prometheus.MustRegister(renderCacheLookups)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(versionGauge)
}

func HistogramHttpHandler(next http.Handler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		httpRequestDuration.WithLabelValues(pathLabel(r), r.Method, strconv.Itoa(rw.statusCode)).Observe(duration)
	})
}

// pathLabel prefers the pattern the mux matched so member names never
// become label values.
func pathLabel(r *http.Request) string {
	if r.Pattern != "" {
		pattern := r.Pattern
		if _, rest, ok := strings.Cut(pattern, " "); ok {
			pattern = rest
		}
		return pattern
	}
	if strings.HasPrefix(r.URL.Path, "/u/") {
		return "/u/{mid}"
	}
	return numericSegment.ReplaceAllString(r.URL.Path, "/:id")
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
