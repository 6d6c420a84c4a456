package middleware

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// SecurityConfig controls the headers every userpage response carries.
type SecurityConfig struct {
	CSPDirectives map[string]string
	GenerateNonce bool

	HSTSMaxAge            int
	HSTSIncludeSubDomains bool
	HSTSPreload           bool

	CSRFProtection     *http.CrossOriginProtection
	CSRFTrustedOrigins []string
	CSRFBypassPatterns []string

	PermissionsPolicy map[string][]string

	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string

	CustomHeaders map[string]string
}

// DefaultSecurityConfig allows the embeds the renderer can emit: youtube
// and twitch frames, remote images and remote audio.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		CSPDirectives: map[string]string{
			"default-src":     "'self'",
			"script-src":      "'self'",
			"style-src":       "'self' 'unsafe-inline'",
			"img-src":         "'self' data: https:",
			"media-src":       "'self' https:",
			"frame-src":       "https://www.youtube.com https://clips.twitch.tv",
			"font-src":        "'self'",
			"connect-src":     "'self'",
			"object-src":      "'none'",
			"frame-ancestors": "'none'",
			"base-uri":        "'self'",
			"form-action":     "'self'",
		},
		HSTSMaxAge:            63072000,
		HSTSIncludeSubDomains: true,
		CSRFProtection:        http.NewCrossOriginProtection(),
		FrameOptions:          "DENY",
		ContentTypeOptions:    "nosniff",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy: map[string][]string{
			"camera":      {},
			"geolocation": {},
			"microphone":  {},
			"payment":     {},
			"usb":         {},
		},
		CustomHeaders: map[string]string{},
	}
}

func securityHeadersMiddleware(config *SecurityConfig) Middleware {
	if config == nil {
		config = DefaultSecurityConfig()
	}

	permissionsPolicy := buildPermissionsPolicy(config.PermissionsPolicy)
	staticCSP := buildCSP(config.CSPDirectives)
	hsts := buildHSTS(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", config.ContentTypeOptions)
			h.Set("X-Frame-Options", config.FrameOptions)
			h.Set("Referrer-Policy", config.ReferrerPolicy)
			h.Set("X-XSS-Protection", "0")

			if permissionsPolicy != "" {
				h.Set("Permissions-Policy", permissionsPolicy)
			}
			if isHTTPS(r) {
				h.Set("Strict-Transport-Security", hsts)
			}

			if config.GenerateNonce {
				nonce := generateNonce()
				if rc, ok := getRequestContext(r.Context()); ok {
					rc.CSPNonce = nonce
				}
				h.Set("Content-Security-Policy", buildCSPWithNonce(config.CSPDirectives, nonce))
			} else {
				h.Set("Content-Security-Policy", staticCSP)
			}

			for k, v := range config.CustomHeaders {
				h.Set(k, v)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// csrfProtectionMiddleware rejects cross-origin state changes using the
// Sec-Fetch-Site and Origin checks built into net/http.
func csrfProtectionMiddleware(config *SecurityConfig) Middleware {
	if config == nil {
		config = DefaultSecurityConfig()
	}

	protection := config.CSRFProtection
	if protection == nil {
		protection = http.NewCrossOriginProtection()
	}
	for _, origin := range config.CSRFTrustedOrigins {
		// Malformed origins are skipped.
		_ = protection.AddTrustedOrigin(origin)
	}
	for _, pattern := range config.CSRFBypassPatterns {
		protection.AddInsecureBypassPattern(pattern)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := protection.Check(r); err != nil {
				http.Error(w, "Cross-origin request rejected", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestSizeLimitMiddleware(maxSize int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				if r.ContentLength > maxSize {
					http.Error(w, fmt.Sprintf("Request body too large. Maximum size: %d bytes", maxSize),
						http.StatusRequestEntityTooLarge)
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// buildCSP joins directives in name order so the header is stable.
func buildCSP(directives map[string]string) string {
	names := make([]string, 0, len(directives))
	for name := range directives {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if value := directives[name]; value != "" {
			parts = append(parts, name+" "+value)
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "; ")
}

func buildCSPWithNonce(directives map[string]string, nonce string) string {
	withNonce := make(map[string]string, len(directives))
	for k, v := range directives {
		withNonce[k] = v
	}

	if src, ok := withNonce["script-src"]; ok {
		withNonce["script-src"] = src + " 'nonce-" + nonce + "'"
	}
	// Userpages carry inline style attributes, so style-src keeps
	// 'unsafe-inline' even with a nonce.

	return buildCSP(withNonce)
}

func buildHSTS(config *SecurityConfig) string {
	parts := []string{fmt.Sprintf("max-age=%d", config.HSTSMaxAge)}
	if config.HSTSIncludeSubDomains {
		parts = append(parts, "includeSubDomains")
	}
	if config.HSTSPreload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

func buildPermissionsPolicy(policies map[string][]string) string {
	features := make([]string, 0, len(policies))
	for feature := range policies {
		features = append(features, feature)
	}
	slices.Sort(features)

	parts := make([]string, 0, len(features))
	for _, feature := range features {
		parts = append(parts, feature+"=("+strings.Join(policies[feature], " ")+")")
	}
	return strings.Join(parts, ", ")
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil ||
		strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") ||
		strings.EqualFold(r.URL.Scheme, "https")
}

func generateNonce() string {
	b := make([]byte, 16)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func getCSPNonce(ctx context.Context) string {
	if rc, ok := getRequestContext(ctx); ok {
		return rc.CSPNonce
	}
	return ""
}
