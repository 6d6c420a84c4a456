package main

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"regexp"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/realistikosu/userpages/pkg/bbcode"
	"github.com/realistikosu/userpages/pkg/rendercache"
	"github.com/realistikosu/userpages/pkg/sanitize"
)

const summaryLength = 160

// UserpageParser turns stored BBCode into page-ready HTML: the renderer
// runs first, then the userpage policy, and the result is cached.
type UserpageParser struct {
	renderer  *bbcode.Renderer
	cache     *rendercache.Cache
	logger    *slog.Logger
	telemetry *TelemetryConfig
}

func NewUserpageParser(renderer *bbcode.Renderer, cache *rendercache.Cache, logger *slog.Logger, telemetry *TelemetryConfig) *UserpageParser {
	if renderer == nil {
		renderer = bbcode.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserpageParser{
		renderer:  renderer,
		cache:     cache,
		logger:    logger,
		telemetry: telemetry,
	}
}

// Render produces sanitized HTML without touching the cache.
func (p *UserpageParser) Render(src string) string {
	return sanitize.Userpage(p.renderer.Render(src))
}

// Parse is the cached form of Render for use from templates and handlers.
func (p *UserpageParser) Parse(ctx context.Context, src string, source string) template.HTML {
	if src == "" {
		return ""
	}

	start := time.Now()
	out, hit := p.cache.GetOrRender(ctx, src, p.Render)
	p.observe(ctx, source, hit, time.Since(start))

	// nosemgrep
	return template.HTML(out)
}

func (p *UserpageParser) observe(ctx context.Context, source string, hit bool, took time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	if p.cache == nil {
		result = "disabled"
	}
	renderCacheLookups.WithLabelValues(result).Inc()

	if hit {
		return
	}

	renderDuration.WithLabelValues(source).Observe(took.Seconds())
	if p.telemetry != nil && p.telemetry.Metrics.RenderDuration != nil {
		p.telemetry.Metrics.RenderDuration.Record(ctx, took.Seconds(),
			metric.WithAttributes(attribute.String("source", source)))
	}
	p.logger.DebugContext(ctx, "rendered userpage",
		slog.String("source", source),
		slog.String("cache", result),
		slog.Duration("took", took))
}

// FuncMap exposes the parser to templates. parseUserpage renders without a
// request context; handlers that have one call Parse directly.
func (p *UserpageParser) FuncMap() template.FuncMap {
	return template.FuncMap{
		"parseUserpage": func(src string) template.HTML {
			return p.Parse(context.Background(), src, "template")
		},
		"summary": func(h template.HTML) string {
			return sanitize.Summary(string(h), summaryLength)
		},
	}
}

func parseMarkdownToHTML(text string) string {
	var buf bytes.Buffer

	md := goldmark.New(
		goldmark.WithExtensions(
			emoji.Emoji,
			extension.Strikethrough,
			extension.Table,
			// Linkify URLs but not email addresses.
			// Note: passing nil uses goldmark's default email finder, so we use
			// a regex that only matches empty strings to effectively disable it.
			extension.NewLinkify(
				extension.WithLinkifyEmailRegexp(regexp.MustCompile(`^$`)),
			),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithUnsafe(),
		),
	)

	if err := md.Convert([]byte(text), &buf); err != nil {
		return text // Fall back to the original text on error
	}

	return buf.String()
}

// helpPolicy admits what the BBCode reference renders to: the usual
// markdown output plus tables and language-tagged code blocks.
func helpPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w-]+$`)).OnElements("code")
	p.AllowAttrs("id").Matching(regexp.MustCompile(`^[\w-]+$`)).OnElements("h1", "h2", "h3", "h4")
	return p
}

func renderHelp(markdown string) template.HTML {
	// nosemgrep
	return template.HTML(helpPolicy().Sanitize(parseMarkdownToHTML(markdown)))
}
