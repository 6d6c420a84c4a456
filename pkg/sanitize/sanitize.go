// Package sanitize holds the bluemonday policies applied to rendered
// userpage HTML. The BBCode renderer already produces safe markup; the
// policy here is a second pass that only admits the shapes the renderer
// emits, so a renderer regression cannot reach the browser.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once

	strict     *bluemonday.Policy
	strictOnce sync.Once
)

var (
	classValue   = regexp.MustCompile(`^[A-Za-z0-9 _-]+$`)
	boxID        = regexp.MustCompile(`^(?:btn|icon|content)-[A-Za-z0-9_-]+$`)
	relValue     = regexp.MustCompile(`^nofollow(?: noopener)?$`)
	embedSource  = regexp.MustCompile(`^https://(?:www\.youtube\.com/embed/|clips\.twitch\.tv/embed\?)`)
	colourValue  = regexp.MustCompile(`^(?:#[0-9a-f]{3,8}|[a-z]+|(?:rgb|rgba|hsl|hsla)\([0-9a-z.,%/ ]+\))$`)
	sizeValue    = regexp.MustCompile(`^[0-9]{1,3}%$`)
	percentValue = regexp.MustCompile(`^[0-9]+(?:\.[0-9]+)?%$`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Policy returns the shared userpage policy.
func Policy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = userpagePolicy()
	})
	return policy
}

func userpagePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements("div", "span", "br", "h2", "h4", "pre", "code", "blockquote")
	p.AllowElements("strong", "em", "u", "s", "i")
	p.AllowElements("ol", "ul", "li")

	p.AllowAttrs("class").Matching(classValue).OnElements(
		"div", "span", "a", "img", "button", "i", "blockquote", "code", "ul",
	)
	p.AllowAttrs("id").Matching(boxID).OnElements("button", "i", "div")
	p.AllowDataAttributes()

	// Links
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("rel").Matching(relValue).OnElements("a")
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")

	// Media
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("loading").Matching(regexp.MustCompile(`^lazy$`)).OnElements("img", "iframe")
	p.AllowAttrs("src", "controls").OnElements("audio")
	p.AllowAttrs("preload").Matching(regexp.MustCompile(`^none$`)).OnElements("audio")
	p.AllowAttrs("src").Matching(embedSource).OnElements("iframe")
	p.AllowAttrs("allowfullscreen").OnElements("iframe")
	p.AllowAttrs("frameborder").Matching(regexp.MustCompile(`^0$`)).OnElements("iframe")

	p.AllowAttrs("type").Matching(regexp.MustCompile(`^button$`)).OnElements("button")

	p.AllowStyles("color").Matching(colourValue).OnElements("span")
	p.AllowStyles("font-size").Matching(sizeValue).OnElements("span")
	p.AllowStyles("text-align").MatchingEnum("center", "left", "right").OnElements("div")
	p.AllowStyles("list-style-type").MatchingEnum("disc").OnElements("ol")
	p.AllowStyles("left", "top", "width", "height").Matching(percentValue).OnElements("span", "a")

	return p
}

// Userpage runs rendered userpage HTML through the shared policy.
func Userpage(rendered string) string {
	if rendered == "" {
		return ""
	}
	return Policy().Sanitize(rendered)
}

func strictPolicy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strict = bluemonday.StrictPolicy()
		strict.AddSpaceWhenStrippingTag(true)
	})
	return strict
}

// PlainText strips every tag and decodes entities. The result is text, not
// HTML, and must be escaped again before it is written to a page.
func PlainText(s string) string {
	text := html.UnescapeString(strictPolicy().Sanitize(s))
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// Summary returns at most limit runes of the plain text of s, ending in an
// ellipsis when it was cut.
func Summary(s string, limit int) string {
	text := PlainText(s)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	cut := strings.TrimRight(string(runes[:limit]), " ")
	return cut + "…"
}
