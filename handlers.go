package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/realistikosu/userpages/middleware"
	"github.com/realistikosu/userpages/pkg/gradient"
)

const (
	maxAvatarBytes = 2 << 20
	// A preview body may be sent raw; cap it a little above the largest
	// page a member can save.
	maxPreviewBytes = 4 * MaxUserpageLength
)

// UserpageTemplateData is what userpage.html renders.
type UserpageTemplateData struct {
	Member    Member
	Username  string
	Body      template.HTML
	UpdatedAt string
	CanEdit   bool
}

func (s *UserpageService) renderTemplate(w http.ResponseWriter, r *http.Request, tmpl string, data map[string]interface{}) {
	data["Version"] = s.version
	data["GitSha"] = s.gitSha
	data["CSPNonce"] = middleware.GetCSPNonce(r.Context())

	if err := s.tmpls.ExecuteTemplate(w, tmpl, data); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to render template",
			slog.String("template", tmpl),
			slog.String("error", err.Error()))
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
	}
}

func (s *UserpageService) renderError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// usernameOf is the part of a tailnet login before the @.
func usernameOf(email string) string {
	name, _, _ := strings.Cut(email, "@")
	return name
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Home sends the caller to their own userpage.
func (s *UserpageService) Home(w http.ResponseWriter, r *http.Request) {
	user, err := GetUser(r)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "error getting user", slog.String("error", err.Error()))
		s.renderError(w, http.StatusInternalServerError)
		return
	}

	// nosemgrep
	http.Redirect(w, r, fmt.Sprintf("/u/%d", user.ID), http.StatusSeeOther)
}

// lookupMember resolves /u/{mid}, which is either a member id or a username.
func (s *UserpageService) lookupMember(r *http.Request) (Member, int) {
	mid := r.PathValue("mid")

	if isNumeric(mid) {
		id, errs := ValidateMemberID(mid)
		if len(errs) > 0 {
			s.logger.DebugContext(r.Context(), "invalid member id", slog.String("errors", errs.Error()))
			return Member{}, http.StatusBadRequest
		}
		member, err := s.queries.GetMember(r.Context(), id)
		return s.memberResult(r, member, err)
	}

	name := SanitizeLine(mid)
	if errs := ValidateUsername(name); len(errs) > 0 {
		s.logger.DebugContext(r.Context(), "invalid username", slog.String("errors", errs.Error()))
		return Member{}, http.StatusNotFound
	}
	member, err := s.queries.GetMemberByUsername(r.Context(), name)
	return s.memberResult(r, member, err)
}

func (s *UserpageService) memberResult(r *http.Request, member Member, err error) (Member, int) {
	switch {
	case err == nil:
		if member.IsBlocked {
			return Member{}, http.StatusNotFound
		}
		return member, http.StatusOK
	case errors.Is(err, pgx.ErrNoRows):
		return Member{}, http.StatusNotFound
	default:
		s.logger.ErrorContext(r.Context(), "error getting member", slog.String("error", err.Error()))
		return Member{}, http.StatusInternalServerError
	}
}

// loadBody returns the stored BBCode for a member, or "" when none is saved.
func (s *UserpageService) loadBody(r *http.Request, memberID int64) (Userpage, error) {
	page, err := s.queries.GetUserpage(r.Context(), memberID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Userpage{MemberID: memberID}, nil
	}
	return page, err
}

// ViewUserpage renders a member's userpage.
func (s *UserpageService) ViewUserpage(w http.ResponseWriter, r *http.Request) {
	user, err := GetUser(r)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "error getting user", slog.String("error", err.Error()))
		s.renderError(w, http.StatusInternalServerError)
		return
	}

	member, status := s.lookupMember(r)
	if status != http.StatusOK {
		s.renderError(w, status)
		return
	}

	page, err := s.loadBody(r, member.ID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "error getting userpage",
			slog.String("member", middleware.MaskMemberID(member.ID)),
			slog.String("error", err.Error()))
		s.renderError(w, http.StatusInternalServerError)
		return
	}

	data := UserpageTemplateData{
		Member:   member,
		Username: usernameOf(member.Email),
		Body:     s.parser.Parse(r.Context(), page.Body, "view"),
		CanEdit:  user.ID == member.ID || user.IsAdmin,
	}
	if page.UpdatedAt.Valid {
		data.UpdatedAt = formatTimestamp(page.UpdatedAt.Time)
	}

	s.renderTemplate(w, r, "userpage.html", map[string]interface{}{
		"Title":    data.Username,
		"Userpage": data,
		"User":     user,
	})
}

// EditUserpage shows and saves the caller's userpage.
func (s *UserpageService) EditUserpage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		s.renderError(w, http.StatusMethodNotAllowed)
		return
	}

	user, err := GetUser(r)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "EditUserpage", slog.String("error", err.Error()))
		s.renderError(w, http.StatusInternalServerError)
		return
	}

	if r.Method == http.MethodGet {
		page, err := s.loadBody(r, user.ID)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "error getting userpage", slog.String("error", err.Error()))
			s.renderError(w, http.StatusInternalServerError)
			return
		}
		s.renderEdit(w, r, user, page.Body, nil)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest)
		return
	}

	body := SanitizeInput(r.PostForm.Get("data"))

	if errs := ValidateUserpageForm(body, s.config.MaxUserpageLength); len(errs) > 0 {
		s.logger.DebugContext(r.Context(), "validation failed", slog.String("errors", errs.Error()))
		w.WriteHeader(http.StatusBadRequest)
		s.renderEdit(w, r, user, body, errs)
		return
	}

	err = s.queries.UpsertUserpage(r.Context(), UpsertUserpageParams{
		MemberID: user.ID,
		Body:     body,
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "UpsertUserpage",
			slog.String("member", middleware.MaskMemberID(user.ID)),
			slog.String("error", err.Error()))
		s.renderError(w, http.StatusInternalServerError)
		return
	}

	s.logger.InfoContext(r.Context(), "userpage saved",
		slog.String("member", middleware.MaskMemberID(user.ID)),
		slog.Int("length", len(body)))

	// nosemgrep
	http.Redirect(w, r, fmt.Sprintf("/u/%d", user.ID), http.StatusSeeOther)
}

func (s *UserpageService) renderEdit(w http.ResponseWriter, r *http.Request, user *middleware.ContextUser, body string, errs ValidationErrors) {
	s.renderTemplate(w, r, "edit.html", map[string]interface{}{
		"Title":     "Edit userpage",
		"User":      user,
		"Source":    body,
		"Errors":    errs,
		"MaxLength": s.config.MaxUserpageLength,
	})
}

// PreviewUserpage renders BBCode sent by the editor without saving it. The
// source is the form field "data", or the raw body for non-form posts.
func (s *UserpageService) PreviewUserpage(w http.ResponseWriter, r *http.Request) {
	src, err := s.previewSource(r)
	if err != nil {
		s.logger.DebugContext(r.Context(), "preview read failed", slog.String("error", err.Error()))
		s.renderError(w, http.StatusBadRequest)
		return
	}

	if errs := ValidateUserpageForm(src, s.config.MaxUserpageLength); len(errs) > 0 {
		http.Error(w, errs.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, string(s.parser.Parse(r.Context(), src, "preview")))
}

func (s *UserpageService) previewSource(r *http.Request) (string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxPreviewBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return "", fmt.Errorf("parse preview form: %w", err)
		}
		return SanitizeInput(r.PostFormValue("data")), nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPreviewBytes+1))
	if err != nil {
		return "", fmt.Errorf("read preview body: %w", err)
	}
	if len(raw) > maxPreviewBytes {
		return "", errors.New("preview body too large")
	}
	return SanitizeInput(string(raw)), nil
}

// LegacyPreview keeps old editor builds working.
func (s *UserpageService) LegacyPreview(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/settings/user-page/parse", http.StatusTemporaryRedirect)
}

// BBCodeHelp renders the tag reference.
func (s *UserpageService) BBCodeHelp(w http.ResponseWriter, r *http.Request) {
	user, _ := GetUser(r)
	s.renderTemplate(w, r, "help.html", map[string]interface{}{
		"Title": "BBCode reference",
		"User":  user,
		"Help":  renderHelp(bbcodeHelp),
	})
}

type bannerGradientResponse struct {
	From     string `json:"from"`
	To       string `json:"to"`
	CSS      string `json:"css"`
	Fallback bool   `json:"fallback"`
}

// BannerGradient extracts a banner gradient from an uploaded avatar. Any
// unreadable image yields the default gradient rather than an error.
func (s *UserpageService) BannerGradient(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes+(64<<10))
	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		s.logger.DebugContext(r.Context(), "banner gradient form", slog.String("error", err.Error()))
		s.writeGradient(w, r, gradient.Fallback())
		return
	}

	file, _, err := r.FormFile("avatar")
	if err != nil {
		s.writeGradient(w, r, gradient.Fallback())
		return
	}
	defer file.Close()

	g, err := gradient.Decode(io.LimitReader(file, maxAvatarBytes))
	if err != nil {
		if errors.Is(err, gradient.ErrNotEnoughColour) {
			s.logger.DebugContext(r.Context(), "avatar too grey for a gradient")
		} else {
			s.logger.DebugContext(r.Context(), "avatar decode failed", slog.String("error", err.Error()))
		}
		g = gradient.Fallback()
	}

	s.writeGradient(w, r, g)
}

func (s *UserpageService) writeGradient(w http.ResponseWriter, r *http.Request, g gradient.Gradient) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(bannerGradientResponse{
		From:     g.From.String(),
		To:       g.To.String(),
		CSS:      g.CSS(),
		Fallback: g.Fallback,
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "encode gradient", slog.String("error", err.Error()))
	}
}

// HealthCheck reports unhealthy only when the database is unreachable; a
// dead render cache degrades to rendering every request.
func (s *UserpageService) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.dbconn != nil {
		if err := s.dbconn.Ping(r.Context()); err != nil {
			s.logger.ErrorContext(r.Context(), "health check: database", slog.String("error", err.Error()))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	if err := s.cache.Ping(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "health check: render cache", slog.String("error", err.Error()))
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
