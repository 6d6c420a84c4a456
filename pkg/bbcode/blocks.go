package bbcode

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	imagemapPattern = regexp.MustCompile(`\[imagemap\]\s*([\s\S]+?)\[/imagemap\]\n?`)
	leadingFloat    = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)

	codePattern       = regexp.MustCompile(`\[code\]\n?([\s\S]*?)\n?\[/code\]\n?`)
	inlineCodePattern = regexp.MustCompile(`\[c\]\n?([\s\S]*?)\n?\[/c\]\n?`)
	bracketEscaper    = strings.NewReplacer("[", "&#91;", "]", "&#93;")

	listItemSeparator = regexp.MustCompile(`\s*\[\*\]`)
)

var (
	listRule    = newPairRule(`\[list(?:=([^\]]+))?\]`, `\s*\[/list\]\n?\n?`, renderList)
	noticeRule  = newPairRule(`\[notice\]\n?`, `\n?\[/notice\]\n?`, wrapWith("<div class='bbcode-notice'>", "</div>"))
	quoteRule   = newPairRule(`\[quote(?:=&quot;([^\]]*?)&quot;|=([^\]]+))?\]\s*`, `\s*\[/quote\]\n?`, renderQuote)
	headingRule = newPairRule(`\[heading\]`, `\[/heading\]\n?`, wrapWith("<h2>", "</h2>"))
)

// Hotspots whose top edge sits above this percentage show their tooltip
// below the region so it stays on screen.
const tooltipFlipY = 13.0

type hotspot struct {
	x, y, w, h float64
	href       SafeURL
	title      string
}

func renderImagemap(text string) string {
	return replaceSubmatches(imagemapPattern, text, func(m []string) string {
		lines := strings.Split(strings.TrimSpace(m[1]), "\n")
		src, ok := SanitizeMediaURL(unescape(strings.TrimSpace(lines[0])))
		if !ok {
			return InvalidImagemap
		}

		var b strings.Builder
		b.WriteString("<div class='bbcode-imagemap'><img src='")
		b.WriteString(src.String())
		b.WriteString("' class='bbcode-imagemap-image' loading='lazy' alt='Imagemap'>")
		for _, line := range lines[1:] {
			if spot, ok := parseHotspot(line); ok {
				b.WriteString(spot.html())
			}
		}
		b.WriteString("</div>")
		return b.String()
	})
}

// parseHotspot reads an "x y w h redirect title..." line. A redirect of "#"
// makes a tooltip without a link.
func parseHotspot(line string) (hotspot, bool) {
	parts := strings.Fields(line)
	if len(parts) < 6 {
		return hotspot{}, false
	}

	spot := hotspot{
		x:     percent(parts[0]),
		y:     percent(parts[1]),
		w:     percent(parts[2]),
		h:     percent(parts[3]),
		title: escapeAttr(unescape(strings.Join(parts[5:], " "))),
	}

	if parts[4] != "#" {
		href, ok := SanitizeLinkURL(unescape(parts[4]))
		if !ok {
			return hotspot{}, false
		}
		spot.href = href
	}
	return spot, true
}

func (s hotspot) html() string {
	tag, href := "span", ""
	if !s.href.IsZero() {
		tag, href = "a", " href='"+s.href.String()+"'"
	}

	position := "top center"
	if s.y < tooltipFlipY {
		position = "bottom center"
	}

	return "<" + tag + " class='bbcode-imagemap-tooltip'" + href +
		" style='left: " + formatPercent(s.x) + "%; top: " + formatPercent(s.y) +
		"%; width: " + formatPercent(s.w) + "%; height: " + formatPercent(s.h) + "%;'" +
		" data-tooltip='" + s.title + "' data-position='" + position + "'></" + tag + ">"
}

// percent parses the leading number of s and clamps it to [0, 100].
// Anything unparseable is 0.
func percent(s string) float64 {
	num := leadingFloat.FindString(s)
	if num == "" {
		return 0
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return min(max(v, 0), 100)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (r *Renderer) boxRules() []*pairRule {
	return []*pairRule{
		newPairRule(`\[box=([^\]]*)\]\n*`, `\n*\[/box\]\n?`, func(args []string, body string) string {
			return r.box(args[0], body)
		}),
		newPairRule(`\[spoilerbox\]\n*`, `\n*\[/spoilerbox\]\n?`, func(_ []string, body string) string {
			return r.box("SPOILER", body)
		}),
	}
}

// box renders a collapsible container. The button, icon and content share
// one id so the toggle script can find them.
func (r *Renderer) box(title, body string) string {
	id := escapeAttr(r.newID())
	return "<div class='bbcode-box'><button class='bbcode-box-btn' id='btn-" + id +
		"' type='button' data-box-id='" + id + "'><i id='icon-" + id +
		"' class='bbcode-box-icon fa-solid fa-angle-right'></i><span>" + title +
		"</span></button><div class='bbcode-box-content bbcode-hidden' id='content-" + id + "'>" +
		body + "</div></div>"
}

// renderCode emits code bodies with their brackets neutralised so no later
// stage expands tag syntax inside them.
func renderCode(text string) string {
	code := func(m []string) string {
		return "<pre><code class='bbcode-code'>" + bracketEscaper.Replace(m[1]) + "</code></pre>"
	}
	text = replaceSubmatches(codePattern, text, code)
	return replaceSubmatches(inlineCodePattern, text, code)
}

// renderList turns a list body into an optional title block followed by
// the items. [list=...] is ordered, bare [list] is bulleted.
func renderList(args []string, body string) string {
	parts := listItemSeparator.Split(body, -1)

	var b strings.Builder
	if title := strings.TrimSpace(parts[0]); title != "" {
		b.WriteString("<ul class='bbcode-list-title'><li>")
		b.WriteString(title)
		b.WriteString("</li></ul>")
	}

	if args[0] != "" {
		b.WriteString("<ol>")
	} else {
		b.WriteString("<ol style='list-style-type: disc;'>")
	}

	for _, item := range parts[1:] {
		item, trailing, _ := strings.Cut(item, "[/*]")
		b.WriteString("<li>")
		b.WriteString(strings.TrimSpace(item))
		b.WriteString("</li>")
		b.WriteString(strings.TrimSpace(trailing))
	}

	b.WriteString("</ol>")
	return b.String()
}

func renderQuote(args []string, body string) string {
	author := strings.TrimSpace(args[0])
	if author == "" {
		author = strings.TrimSpace(args[1])
	}
	if author == "" {
		return "<blockquote class='bbcode-blockquote'>" + body + "</blockquote>"
	}
	return "<blockquote class='bbcode-blockquote'><h4>" + author + " wrote:</h4>" + body + "</blockquote>"
}
