package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errNoUserProfile = errors.New("no user profile in WhoIs response")

// AuthProvider identifies the caller and maps them to a member.
type AuthProvider interface {
	GetUserEmail(r *http.Request) (string, error)
	CreateOrGetUser(ctx context.Context, email string) (*ContextUser, error)
}

// TailscaleAuthProvider identifies callers by their tailnet login.
type TailscaleAuthProvider struct {
	client  TailscaleClient
	members MemberStore
	logger  *slog.Logger
}

func newTailscaleAuthProvider(client TailscaleClient, members MemberStore, logger *slog.Logger) *TailscaleAuthProvider {
	return &TailscaleAuthProvider{
		client:  client,
		members: members,
		logger:  logger,
	}
}

func (p *TailscaleAuthProvider) GetUserEmail(r *http.Request) (string, error) {
	who, err := p.client.WhoIs(r.Context(), r.RemoteAddr)
	if err != nil {
		return "", fmt.Errorf("whois %s: %w", r.RemoteAddr, err)
	}
	if who == nil || who.UserProfile == nil || who.UserProfile.LoginName == "" {
		return "", errNoUserProfile
	}
	return who.UserProfile.LoginName, nil
}

func (p *TailscaleAuthProvider) CreateOrGetUser(ctx context.Context, email string) (*ContextUser, error) {
	row, err := p.members.CreateOrReturnID(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("create or return member: %w", err)
	}

	return &ContextUser{
		ID:        row.ID,
		Email:     email,
		IsAdmin:   row.IsAdmin,
		IsBlocked: row.IsBlocked,
	}, nil
}

// authMiddleware resolves the caller to a member and stores it on the
// request context. Blocked members get a 404 so the page looks absent.
func authMiddleware(provider AuthProvider, tracer trace.Tracer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if tracer != nil {
				var span trace.Span
				ctx, span = tracer.Start(ctx, "auth.middleware",
					trace.WithAttributes(attribute.String("auth.provider", "tailscale")),
				)
				defer span.End()
			}
			span := trace.SpanFromContext(ctx)
			logger := getLogger(ctx)

			email, err := provider.GetUserEmail(r)
			if err != nil {
				logger.WarnContext(ctx, "authentication failed",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				span.RecordError(err)
				span.SetStatus(codes.Error, "authentication failed")
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			user, err := provider.CreateOrGetUser(ctx, email)
			if err != nil {
				logger.ErrorContext(ctx, "member lookup failed",
					slog.String("error", err.Error()),
					slog.String("email_hash", HashEmail(email)),
				)
				span.RecordError(err)
				span.SetStatus(codes.Error, "member lookup failed")
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}

			if user.IsBlocked {
				logger.WarnContext(ctx, "blocked member attempted access",
					slog.Int64("user_id", user.ID),
					slog.String("email_hash", HashEmail(email)),
				)
				span.SetStatus(codes.Error, "member is blocked")
				span.SetAttributes(attribute.Bool("user.is_blocked", true))
				http.NotFound(w, r)
				return
			}

			rc, ok := getRequestContext(ctx)
			if !ok {
				rc = newRequestContext()
				ctx = withRequestContext(ctx, rc)
			}
			rc.User = user

			span.SetAttributes(
				attribute.Int64("user.id", user.ID),
				attribute.Bool("user.is_admin", user.IsAdmin),
			)
			logger.DebugContext(ctx, "member authenticated", slog.Int64("user_id", user.ID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireAuthMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAuthenticated(r) {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userEnrichmentMiddleware tags the request logger with the member id.
// It must run after authMiddleware.
func userEnrichmentMiddleware(debugHeaders bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := getUser(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			logger := getLogger(r.Context()).With(
				slog.Int64("user_id", user.ID),
				slog.Bool("is_admin", user.IsAdmin),
			)
			ctx := context.WithValue(r.Context(), contextKeyLogger, logger)

			if debugHeaders {
				w.Header().Set("X-User-ID", strconv.FormatInt(user.ID, 10))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
