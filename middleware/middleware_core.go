package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middleware. The first one added is the
// outermost.
type Chain struct {
	middlewares []Middleware
}

func newChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: append([]Middleware{}, middlewares...)}
}

// Then wraps h with every middleware in the chain.
func (c *Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

func (c *Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	if fn == nil {
		return c.Then(nil)
	}
	return c.Then(fn)
}

// Append returns a new chain; c is left untouched.
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	out := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	out = append(out, c.middlewares...)
	out = append(out, middlewares...)
	return &Chain{middlewares: out}
}

func (c *Chain) Extend(chain *Chain) *Chain {
	return c.Append(chain.middlewares...)
}

type contextKey string

const (
	contextKeyRequest contextKey = "userpages.request"
	contextKeyLogger  contextKey = "userpages.logger"
)

// RequestContext is the per-request state shared by the middleware and
// handlers. It is created once by requestContextMiddleware and mutated in
// place by later middleware.
type RequestContext struct {
	User      *ContextUser
	RequestID string
	TraceID   string
	StartTime time.Time
	CSPNonce  string
}

// ContextUser is the authenticated member.
type ContextUser struct {
	ID          int64
	Email       string
	DisplayName string
	IsAdmin     bool
	IsBlocked   bool
}

func newRequestContext() *RequestContext {
	return &RequestContext{
		RequestID: uuid.NewString(),
		StartTime: time.Now(),
	}
}

func withRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKeyRequest, rc)
}

func getRequestContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKeyRequest).(*RequestContext)
	return rc, ok
}

// getOrCreateRequestContext never returns nil. A context created here is
// not attached to ctx, so writes to it are lost unless the caller stores it.
func getOrCreateRequestContext(ctx context.Context) *RequestContext {
	if rc, ok := getRequestContext(ctx); ok {
		return rc
	}
	return newRequestContext()
}

func getUser(ctx context.Context) (*ContextUser, bool) {
	rc, ok := getRequestContext(ctx)
	if !ok || rc.User == nil {
		return nil, false
	}
	return rc.User, true
}

func getRequestID(ctx context.Context) string {
	if rc, ok := getRequestContext(ctx); ok {
		return rc.RequestID
	}
	return ""
}

func getTraceID(ctx context.Context) string {
	if rc, ok := getRequestContext(ctx); ok {
		return rc.TraceID
	}
	return ""
}

// WithUser attaches user to a fresh request context. Used by tests and by
// handlers invoked outside the auth chain.
func WithUser(ctx context.Context, user *ContextUser) context.Context {
	rc := getOrCreateRequestContext(ctx)
	rc.User = user
	return withRequestContext(ctx, rc)
}

func when(condition func(*http.Request) bool, middleware Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		wrapped := middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if condition(r) {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unless(condition func(*http.Request) bool, middleware Middleware) Middleware {
	return when(func(r *http.Request) bool { return !condition(r) }, middleware)
}

func isAuthenticated(r *http.Request) bool {
	_, ok := getUser(r.Context())
	return ok
}

func hasMethod(methods ...string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Method]
		return ok
	}
}

func hasPathPrefix(prefix string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return len(r.URL.Path) >= len(prefix) && r.URL.Path[:len(prefix)] == prefix
	}
}

// responseWriter records the status and body size written through it.
type responseWriter struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(status int) {
	if rw.wroteHeader {
		return
	}
	rw.status = status
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) Status() int { return rw.status }

func (rw *responseWriter) BytesWritten() int64 { return rw.written }

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func requestContextMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := newRequestContext()
			w.Header().Set("X-Request-ID", rc.RequestID)
			next.ServeHTTP(w, r.WithContext(withRequestContext(r.Context(), rc)))
		})
	}
}
