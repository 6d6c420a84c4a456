package main

import (
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/realistikosu/userpages/middleware"
	"github.com/realistikosu/userpages/pkg/bbcode/boxtoggle"
)

// SetupRoutes mounts every route on its middleware chain. The returned func
// stops the rate limiter's background sweep.
func SetupRoutes(usvc *UserpageService) (http.Handler, func()) {
	authProvider := middleware.NewTailscaleAuthProvider(
		NewTailscaleClientAdapter(usvc.tailClient),
		NewMemberStoreAdapter(usvc.queries),
		usvc.logger,
	)

	ms := middleware.NewMiddlewareSetup(usvc.logger, ConvertTelemetryConfig(usvc.telemetry), authProvider)

	mux := http.NewServeMux()

	authChain := ms.CreateAuthenticatedChain()
	apiChain := ms.CreateAPIChain()
	staticChain := ms.CreateStaticChain()
	healthChain := ms.CreateHealthChain()

	mux.Handle("GET /{$}", authChain.ThenFunc(usvc.Home))
	mux.Handle("GET /u/{mid}", authChain.ThenFunc(usvc.ViewUserpage))
	mux.Handle("GET /settings/user-page", authChain.ThenFunc(usvc.EditUserpage))
	mux.Handle("POST /settings/user-page", authChain.ThenFunc(usvc.EditUserpage))
	mux.Handle("POST /settings/user-page/parse", authChain.ThenFunc(usvc.PreviewUserpage))
	mux.Handle("POST /settings/userpage/parse", authChain.ThenFunc(usvc.LegacyPreview))
	mux.Handle("GET /help/bbcode", authChain.ThenFunc(usvc.BBCodeHelp))

	mux.Handle("POST /api/banner-gradient", apiChain.ThenFunc(usvc.BannerGradient))

	mux.Handle("GET /static/bbcode-box.js", staticChain.Then(boxtoggle.Handler()))
	mux.Handle("GET /static/", staticChain.Then(staticHandler()))

	mux.Handle("GET /health", healthChain.ThenFunc(usvc.HealthCheck))
	mux.Handle("GET /metrics", healthChain.Then(promhttp.Handler()))

	globalChain := middleware.NewChain(RecoveryMiddleware(usvc.logger))

	return globalChain.Then(HistogramHttpHandler(mux)), ms.Close
}

// staticHandler serves the embedded static directory.
func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}

// RecoveryMiddleware turns a handler panic into a 500 page carrying an
// error id that also appears in the log.
func RecoveryMiddleware(logger *slog.Logger) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &recoveryResponseWriter{ResponseWriter: w}

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				errorID := uuid.NewString()

				details := []any{
					slog.Any("panic_error", rec),
					slog.String("error_id", errorID),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("user_agent", r.UserAgent()),
				}
				if r.URL.RawQuery != "" {
					details = append(details, slog.String("query", r.URL.RawQuery))
				}
				if form := loggableForm(r); len(form) > 0 {
					details = append(details, slog.Any("form_data", form))
				}

				logger.ErrorContext(r.Context(), "panic recovered - internal server error",
					slog.Group("panic_details", details...),
				)

				if wrapped.headersSent {
					logger.WarnContext(r.Context(), "cannot send error response - headers already sent",
						slog.String("error_id", errorID))
					return
				}

				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.Header().Set("X-Frame-Options", "DENY")
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(generateErrorHTML(errorID)))
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}

// loggableForm returns already-parsed form values with sensitive fields and
// userpage bodies left out.
func loggableForm(r *http.Request) map[string]string {
	if r.PostForm == nil {
		return nil
	}
	form := make(map[string]string)
	for key, values := range r.PostForm {
		if isSensitiveField(key) || key == "data" || len(values) == 0 {
			continue
		}
		form[key] = values[0]
	}
	return form
}

type recoveryResponseWriter struct {
	http.ResponseWriter
	headersSent bool
}

func (w *recoveryResponseWriter) WriteHeader(statusCode int) {
	if !w.headersSent {
		w.headersSent = true
		w.ResponseWriter.WriteHeader(statusCode)
	}
}

func (w *recoveryResponseWriter) Write(data []byte) (int, error) {
	w.headersSent = true
	return w.ResponseWriter.Write(data)
}

func (w *recoveryResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

var sensitiveFields = map[string]bool{
	"password":    true,
	"passwd":      true,
	"pwd":         true,
	"secret":      true,
	"token":       true,
	"csrf_token":  true,
	"api_key":     true,
	"private_key": true,
	"session":     true,
}

func isSensitiveField(fieldName string) bool {
	fieldLower := strings.ToLower(fieldName)
	return sensitiveFields[fieldLower] ||
		strings.Contains(fieldLower, "password") ||
		strings.Contains(fieldLower, "secret") ||
		strings.Contains(fieldLower, "token")
}

func generateErrorHTML(errorID string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Internal Server Error</title>
    <link rel="stylesheet" href="/static/style.css">
</head>
<body>
    <main class="error-page">
        <h1>Internal Server Error</h1>
        <p>Something went wrong while rendering this page.</p>
        <p class="error-id"><strong>Error ID:</strong> <code>%s</code></p>
        <p><a href="/" class="btn">Back to your userpage</a></p>
    </main>
</body>
</html>`, html.EscapeString(errorID))
}
