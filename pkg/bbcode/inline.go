package bbcode

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Size bounds for [size=N], in percent.
const (
	MinSize = 30
	MaxSize = 200
)

var (
	boldRule      = newPairRule(`\[(?:b|bold)\]`, `\[/(?:b|bold)\]`, wrapWith("<strong>", "</strong>"))
	italicRule    = newPairRule(`\[(?:i|italic)\]`, `\[/(?:i|italic)\]`, wrapWith("<em>", "</em>"))
	underlineRule = newPairRule(`\[(?:u|underline)\]`, `\[/(?:u|underline)\]`, wrapWith("<u>", "</u>"))
	strikeRule    = newPairRule(`\[(?:s|strike)\]`, `\[/(?:s|strike)\]`, wrapWith("<s>", "</s>"))
	spoilerRule   = newPairRule(`\[spoiler\]`, `\[/spoiler\]`, wrapWith("<span class='bbcode-spoiler'>", "</span>"))

	centreRule = newPairRule(`\[(?:centre|center)\]`, `\[/(?:centre|center)\]`,
		wrapWith("<div style='text-align: center;'>", "</div>"))
	leftRule = newPairRule(`\[left\]`, `\[/left\]`,
		wrapWith("<div style='text-align: left;'>", "</div>"))
	rightRule = newPairRule(`\[right\]`, `\[/right\]`,
		wrapWith("<div style='text-align: right;'>", "</div>"))

	colourRule = newPairRule(`\[(?:color|colour)=([^\]]+)\]`, `\[/(?:color|colour)\]`, renderColour)
	sizeRule   = newPairRule(`\[size=(\d+)\]`, `\[/size\]`, renderSize)
)

var (
	emailPlainPattern = regexp.MustCompile(`\[email\]([^\[]+)\[/email\]`)
	emailNamedPattern = regexp.MustCompile(`\[email=([^\]]+)\]([^\[]*)\[/email\]`)
	emailShapePattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	urlPlainPattern = regexp.MustCompile(`\[url\]([^\[]+?)\[/url\]`)
	urlNamedPattern = regexp.MustCompile(`\[url=([^\]]+)\]([^\[]*)\[/url\]`)

	profilePattern = regexp.MustCompile(`\[profile(?:=([0-9]+))?\](.*?)\[/profile\]`)
)

func renderColour(args []string, body string) string {
	colour, ok := SanitizeColour(trimQuotes(unescape(args[0])))
	if !ok {
		return body
	}
	return "<span style='color: " + colour.String() + "'>" + body + "</span>"
}

func renderSize(args []string, body string) string {
	return "<span style='font-size: " + strconv.Itoa(clampSize(args[0])) + "%'>" + body + "</span>"
}

// clampSize parses a run of digits. Values too large for an int clamp to
// MaxSize like any other oversized value.
func clampSize(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return MaxSize
	}
	return min(max(n, MinSize), MaxSize)
}

func renderEmail(text string) string {
	text = replaceSubmatches(emailPlainPattern, text, func(m []string) string {
		addr := strings.TrimSpace(unescape(m[1]))
		href, ok := mailtoURL(addr)
		if !ok {
			return m[1]
		}
		return "<a rel='nofollow' href='" + href.String() + "'>" + EscapeHTML(addr) + "</a>"
	})

	return replaceSubmatches(emailNamedPattern, text, func(m []string) string {
		addr := strings.TrimSpace(trimQuotes(unescape(m[1])))
		label := m[2]
		if label == "" {
			label = EscapeHTML(addr)
		}
		href, ok := mailtoURL(addr)
		if !ok {
			return label
		}
		return "<a rel='nofollow' href='" + href.String() + "'>" + label + "</a>"
	})
}

func mailtoURL(addr string) (SafeURL, bool) {
	if !emailShapePattern.MatchString(addr) {
		return SafeURL{}, false
	}
	return SanitizeLinkURL("mailto:" + addr)
}

func renderURL(text string) string {
	text = replaceSubmatches(urlPlainPattern, text, func(m []string) string {
		href, ok := SanitizeLinkURL(unescape(m[1]))
		if !ok {
			return m[1]
		}
		return "<a rel='nofollow noopener' target='_blank' href='" + href.String() + "'>" + m[1] + "</a>"
	})

	return replaceSubmatches(urlNamedPattern, text, func(m []string) string {
		label := m[2]
		href, ok := SanitizeLinkURL(trimQuotes(unescape(m[1])))
		if !ok {
			return label
		}
		if label == "" {
			label = href.String()
		}
		return "<a rel='nofollow noopener' target='_blank' href='" + href.String() + "'>" + label + "</a>"
	})
}

func renderSeparator(text string) string {
	return strings.ReplaceAll(text, "[hr]", "<div class='ui divider'></div>")
}

// renderProfile links [profile=ID]name[/profile] to the member id, and a
// bare [profile]name[/profile] to the name itself.
func renderProfile(text string) string {
	return replaceSubmatches(profilePattern, text, func(m []string) string {
		if m[1] != "" {
			href, _ := SanitizeLinkURL("/u/" + m[1])
			return "<a href='" + href.String() + "'>" + m[2] + "</a>"
		}
		name := strings.TrimSpace(unescape(m[2]))
		href, _ := SanitizeLinkURL("/u/" + url.PathEscape(name))
		return "<a href='" + href.String() + "'>/u/" + EscapeHTML(name) + "</a>"
	})
}
