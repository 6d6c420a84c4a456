// Package bbcode renders user-authored BBCode into HTML that is safe to
// inject into a page as-is.
//
// Input is HTML-escaped before any tag is matched, so the only markup in
// the output is the markup the stages emit. Every URL and colour that
// reaches an attribute goes through SanitizeURL or SanitizeColour first.
// Tags that cannot be paired, or whose values fail validation, degrade to
// plain text or a bracketed placeholder. Render never fails.
package bbcode

import (
	"math/rand/v2"
	"strings"
)

// OutputVersion changes whenever the same source renders to different
// HTML. Caches of rendered output must include it in their keys.
const OutputVersion = "2"

// DefaultTwitchParent is used for the twitch embed parent parameter when
// no host is configured.
const DefaultTwitchParent = "localhost"

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

type stage struct {
	name  string
	apply func(string) string
}

// Renderer holds the rendering pipeline. It is immutable once built and
// safe for concurrent use.
type Renderer struct {
	twitchParent string
	newID        func() string
	stages       []stage
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithTwitchParent sets the host sent to twitch as the embed parent.
func WithTwitchParent(host string) Option {
	return func(r *Renderer) {
		if host = strings.TrimSpace(host); host != "" {
			r.twitchParent = host
		}
	}
}

// WithIDGenerator replaces the random box id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Renderer) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// New builds a Renderer. The stage order matters: structural tags are
// converted before the inline tags that may appear inside them.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		twitchParent: DefaultTwitchParent,
		newID:        randomID,
	}
	for _, opt := range opts {
		opt(r)
	}

	boxes := r.boxRules()
	r.stages = []stage{
		{"imagemap", renderImagemap},
		{"box", func(text string) string {
			for _, rule := range boxes {
				text = rule.apply(text)
			}
			return text
		}},
		{"code", renderCode},
		{"list", listRule.apply},
		{"notice", noticeRule.apply},
		{"quote", quoteRule.apply},
		{"heading", headingRule.apply},
		{"audio", renderAudio},
		{"bold", boldRule.apply},
		{"centre", centreRule.apply},
		{"colour", colourRule.apply},
		{"email", renderEmail},
		{"image", renderImage},
		{"italic", italicRule.apply},
		{"size", sizeRule.apply},
		{"spoiler", spoilerRule.apply},
		{"strike", strikeRule.apply},
		{"underline", underlineRule.apply},
		{"url", renderURL},
		{"separator", renderSeparator},
		{"youtube", renderYouTube},
		{"twitch", r.renderTwitch},
		{"profile", renderProfile},
		{"left", leftRule.apply},
		{"right", rightRule.apply},
	}
	return r
}

// Stages returns the stage names in pipeline order.
func (r *Renderer) Stages() []string {
	names := make([]string, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.name
	}
	return names
}

// Render converts src to HTML wrapped in a single bbcode-container div.
// Empty input renders to the empty string.
func (r *Renderer) Render(src string) string {
	if src == "" {
		return ""
	}

	text := EscapeHTML(strings.ReplaceAll(src, "\r\n", "\n"))
	for _, s := range r.stages {
		text = s.apply(text)
	}
	text = strings.ReplaceAll(text, "\n", "<br>")

	return "<div class='bbcode-container'>" + text + "</div>"
}

var defaultRenderer = New()

// Render renders src with the default options.
func Render(src string) string {
	return defaultRenderer.Render(src)
}

func randomID() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}
