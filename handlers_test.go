package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realistikosu/userpages/middleware"
	"github.com/realistikosu/userpages/pkg/bbcode"
	"github.com/realistikosu/userpages/pkg/gradient"
)

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(context.Context) error { return m.err }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, q *MockQueries, config *Config) *UserpageService {
	t.Helper()

	logger := newTestLogger()
	renderer := bbcode.New(bbcode.WithIDGenerator(func() string { return "abcdef" }))
	parser := NewUserpageParser(renderer, nil, logger, nil)

	return NewUserpageService(
		&MockTailscaleClient{},
		logger,
		mockPinger{},
		q,
		setupTemplates(parser),
		parser,
		nil,
		nil,
		config,
		"https://userpages.example.ts.net",
		"test",
		"deadbeef",
	)
}

func withTestUser(r *http.Request, id int64) *http.Request {
	return r.WithContext(middleware.WithUser(r.Context(), &middleware.ContextUser{
		ID:    id,
		Email: "mock@example.com",
	}))
}

func TestHome(t *testing.T) {
	svc := newTestService(t, &MockQueries{}, nil)

	t.Run("redirects to own page", func(t *testing.T) {
		req := withTestUser(httptest.NewRequest(http.MethodGet, "/", nil), 42)
		w := httptest.NewRecorder()

		svc.Home(w, req)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/u/42", w.Header().Get("Location"))
	})

	t.Run("no user", func(t *testing.T) {
		w := httptest.NewRecorder()
		svc.Home(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestViewUserpage(t *testing.T) {
	tests := []struct {
		name         string
		mid          string
		setupMock    func(*MockQueries)
		expectedCode int
		contains     []string
	}{
		{
			name:         "by id",
			mid:          "1",
			expectedCode: http.StatusOK,
			contains:     []string{"<strong>mock userpage</strong>", "<h1>mock</h1>", "Joined 2024-03-01 12:00:00"},
		},
		{
			name:         "by username",
			mid:          "mock",
			expectedCode: http.StatusOK,
			contains:     []string{"<strong>mock userpage</strong>"},
		},
		{
			name:         "unknown username",
			mid:          "nobody",
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "invalid username",
			mid:          "<script>",
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "zero id",
			mid:          "0",
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "unknown id",
			mid:  "7",
			setupMock: func(m *MockQueries) {
				m.GetMemberFunc = func(context.Context, int64) (Member, error) {
					return Member{}, pgx.ErrNoRows
				}
			},
			expectedCode: http.StatusNotFound,
		},
		{
			name: "blocked member",
			mid:  "7",
			setupMock: func(m *MockQueries) {
				m.GetMemberFunc = func(_ context.Context, id int64) (Member, error) {
					return Member{ID: id, Email: "bad@example.com", IsBlocked: true}, nil
				}
			},
			expectedCode: http.StatusNotFound,
		},
		{
			name: "member lookup error",
			mid:  "7",
			setupMock: func(m *MockQueries) {
				m.GetMemberFunc = func(context.Context, int64) (Member, error) {
					return Member{}, errors.New("connection reset")
				}
			},
			expectedCode: http.StatusInternalServerError,
		},
		{
			name: "no userpage yet",
			mid:  "1",
			setupMock: func(m *MockQueries) {
				m.GetUserpageFunc = func(context.Context, int64) (Userpage, error) {
					return Userpage{}, pgx.ErrNoRows
				}
			},
			expectedCode: http.StatusOK,
			contains:     []string{"has not written a userpage yet"},
		},
		{
			name: "userpage lookup error",
			mid:  "1",
			setupMock: func(m *MockQueries) {
				m.GetUserpageFunc = func(context.Context, int64) (Userpage, error) {
					return Userpage{}, errors.New("timeout")
				}
			},
			expectedCode: http.StatusInternalServerError,
		},
		{
			name: "script in body is removed",
			mid:  "1",
			setupMock: func(m *MockQueries) {
				m.GetUserpageFunc = func(_ context.Context, id int64) (Userpage, error) {
					return Userpage{MemberID: id, Body: `<script>alert(1)</script>[url=javascript:alert(1)]x[/url]`}, nil
				}
			},
			expectedCode: http.StatusOK,
			contains:     []string{"&lt;script&gt;"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &MockQueries{}
			if tt.setupMock != nil {
				tt.setupMock(q)
			}
			svc := newTestService(t, q, nil)

			req := withTestUser(httptest.NewRequest(http.MethodGet, "/u/"+url.PathEscape(tt.mid), nil), 1)
			req.SetPathValue("mid", tt.mid)
			w := httptest.NewRecorder()

			svc.ViewUserpage(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			for _, want := range tt.contains {
				assert.Contains(t, w.Body.String(), want)
			}
			assert.NotContains(t, w.Body.String(), "javascript:")
			assert.NotContains(t, w.Body.String(), "<script>alert")
		})
	}
}

func TestViewUserpageEditLink(t *testing.T) {
	svc := newTestService(t, &MockQueries{}, nil)

	own := withTestUser(httptest.NewRequest(http.MethodGet, "/u/1", nil), 1)
	own.SetPathValue("mid", "1")
	w := httptest.NewRecorder()
	svc.ViewUserpage(w, own)
	assert.Contains(t, w.Body.String(), `class="btn">Edit</a>`)

	other := withTestUser(httptest.NewRequest(http.MethodGet, "/u/2", nil), 1)
	other.SetPathValue("mid", "2")
	w = httptest.NewRecorder()
	svc.ViewUserpage(w, other)
	assert.NotContains(t, w.Body.String(), `class="btn">Edit</a>`)
}

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestEditUserpage(t *testing.T) {
	t.Run("GET shows stored source", func(t *testing.T) {
		svc := newTestService(t, &MockQueries{}, nil)
		req := withTestUser(httptest.NewRequest(http.MethodGet, "/settings/user-page", nil), 1)
		w := httptest.NewRecorder()

		svc.EditUserpage(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "[b]mock userpage[/b]</textarea>")
		assert.Contains(t, w.Body.String(), `maxlength="20000"`)
	})

	t.Run("POST saves and redirects", func(t *testing.T) {
		q := &MockQueries{}
		svc := newTestService(t, q, nil)
		req := withTestUser(postForm("/settings/user-page", url.Values{"data": {"[i]hi[/i]\r\nthere\x00\r\n"}}), 5)
		w := httptest.NewRecorder()

		svc.EditUserpage(w, req)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/u/5", w.Header().Get("Location"))
		require.Len(t, q.Upserts, 1)
		assert.Equal(t, UpsertUserpageParams{MemberID: 5, Body: "[i]hi[/i]\nthere"}, q.Upserts[0])
	})

	t.Run("POST empty clears page", func(t *testing.T) {
		q := &MockQueries{}
		svc := newTestService(t, q, nil)
		req := withTestUser(postForm("/settings/user-page", url.Values{"data": {""}}), 5)
		w := httptest.NewRecorder()

		svc.EditUserpage(w, req)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		require.Len(t, q.Upserts, 1)
		assert.Empty(t, q.Upserts[0].Body)
	})

	t.Run("POST too long", func(t *testing.T) {
		q := &MockQueries{}
		config := defaultConfig()
		config.MaxUserpageLength = 5
		svc := newTestService(t, q, config)
		req := withTestUser(postForm("/settings/user-page", url.Values{"data": {"[b]toolong[/b]"}}), 5)
		w := httptest.NewRecorder()

		svc.EditUserpage(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "must not exceed 5 characters")
		assert.Empty(t, q.Upserts)
	})

	t.Run("POST store error", func(t *testing.T) {
		q := &MockQueries{
			UpsertUserpageFunc: func(context.Context, UpsertUserpageParams) error {
				return errors.New("read-only transaction")
			},
		}
		svc := newTestService(t, q, nil)
		req := withTestUser(postForm("/settings/user-page", url.Values{"data": {"x"}}), 5)
		w := httptest.NewRecorder()

		svc.EditUserpage(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		svc := newTestService(t, &MockQueries{}, nil)
		req := withTestUser(httptest.NewRequest(http.MethodPut, "/settings/user-page", nil), 5)
		w := httptest.NewRecorder()

		svc.EditUserpage(w, req)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestPreviewUserpage(t *testing.T) {
	svc := newTestService(t, &MockQueries{}, nil)

	t.Run("form field", func(t *testing.T) {
		req := withTestUser(postForm("/settings/user-page/parse", url.Values{"data": {"[b]x[/b]"}}), 1)
		w := httptest.NewRecorder()

		svc.PreviewUserpage(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "<strong>x</strong>")
		assert.Contains(t, w.Body.String(), `class="bbcode-container"`)
	})

	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/settings/user-page/parse", strings.NewReader("[i]y[/i]"))
		req.Header.Set("Content-Type", "text/plain")
		w := httptest.NewRecorder()

		svc.PreviewUserpage(w, withTestUser(req, 1))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "<em>y</em>")
	})

	t.Run("empty", func(t *testing.T) {
		req := withTestUser(postForm("/settings/user-page/parse", url.Values{}), 1)
		w := httptest.NewRecorder()

		svc.PreviewUserpage(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("oversized raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/settings/user-page/parse",
			strings.NewReader(strings.Repeat("a", maxPreviewBytes+1)))
		w := httptest.NewRecorder()

		svc.PreviewUserpage(w, withTestUser(req, 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("longer than a page may be", func(t *testing.T) {
		req := withTestUser(postForm("/settings/user-page/parse",
			url.Values{"data": {strings.Repeat("a", MaxUserpageLength+1)}}), 1)
		w := httptest.NewRecorder()

		svc.PreviewUserpage(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestLegacyPreview(t *testing.T) {
	svc := newTestService(t, &MockQueries{}, nil)
	w := httptest.NewRecorder()

	svc.LegacyPreview(w, httptest.NewRequest(http.MethodPost, "/settings/userpage/parse", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/settings/user-page/parse", w.Header().Get("Location"))
}

func TestBBCodeHelp(t *testing.T) {
	svc := newTestService(t, &MockQueries{}, nil)
	w := httptest.NewRecorder()

	svc.BBCodeHelp(w, withTestUser(httptest.NewRequest(http.MethodGet, "/help/bbcode", nil), 1))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BBCode reference")
	assert.Contains(t, w.Body.String(), "<table>")
	assert.Contains(t, w.Body.String(), "[imagemap]")
}

func avatarUpload(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "avatar.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/banner-gradient", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func encodePNG(t *testing.T, fill func(x, y int) color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBannerGradient(t *testing.T) {
	grey := encodePNG(t, func(int, int) color.Color { return color.RGBA{128, 128, 128, 255} })
	vivid := encodePNG(t, func(x, _ int) color.Color {
		if x < 32 {
			return color.RGBA{230, 40, 60, 255}
		}
		return color.RGBA{40, 90, 230, 255}
	})

	tests := []struct {
		name         string
		req          func(t *testing.T) *http.Request
		wantFallback bool
	}{
		{
			name:         "not an image",
			req:          func(t *testing.T) *http.Request { return avatarUpload(t, "avatar", []byte("GIF89a nope")) },
			wantFallback: true,
		},
		{
			name:         "wrong field",
			req:          func(t *testing.T) *http.Request { return avatarUpload(t, "picture", vivid) },
			wantFallback: true,
		},
		{
			name:         "greyscale avatar",
			req:          func(t *testing.T) *http.Request { return avatarUpload(t, "avatar", grey) },
			wantFallback: true,
		},
		{
			name: "not multipart",
			req: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/banner-gradient", strings.NewReader("{}"))
			},
			wantFallback: true,
		},
		{
			name:         "colourful avatar",
			req:          func(t *testing.T) *http.Request { return avatarUpload(t, "avatar", vivid) },
			wantFallback: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, &MockQueries{}, nil)
			w := httptest.NewRecorder()

			svc.BannerGradient(w, tt.req(t))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp bannerGradientResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantFallback, resp.Fallback)
			assert.True(t, strings.HasPrefix(resp.CSS, "linear-gradient(to bottom right, "), resp.CSS)
			if tt.wantFallback {
				assert.Equal(t, gradient.Default.From.String(), resp.From)
				assert.Equal(t, gradient.Default.To.String(), resp.To)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		svc := newTestService(t, &MockQueries{}, nil)
		w := httptest.NewRecorder()

		svc.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	})

	t.Run("database down", func(t *testing.T) {
		svc := newTestService(t, &MockQueries{}, nil)
		svc.dbconn = mockPinger{err: errors.New("connection refused")}
		w := httptest.NewRecorder()

		svc.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestUsernameOf(t *testing.T) {
	assert.Equal(t, "peppy", usernameOf("peppy@osu.ppy.sh"))
	assert.Equal(t, "noat", usernameOf("noat"))
}
