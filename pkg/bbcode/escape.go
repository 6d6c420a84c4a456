package bbcode

import (
	"html"
	"strings"
)

var (
	htmlEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#039;",
	)

	attrEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#039;",
		"`", "&#96;",
		"[", "&#91;",
		"]", "&#93;",
	)
)

// EscapeHTML replaces the HTML metacharacters in s with entities.
// It is the first pass of every render.
func EscapeHTML(s string) string {
	if s == "" {
		return ""
	}
	return htmlEscaper.Replace(s)
}

// escapeAttr escapes s for use inside a single-quoted attribute value.
// Brackets are encoded too so later passes never see a tag inside an
// attribute they did not write.
func escapeAttr(s string) string {
	if s == "" {
		return ""
	}
	return attrEscaper.Replace(s)
}

// unescape turns a value captured from escaped text back into the raw
// string the user typed, so it can be validated and escaped exactly once.
func unescape(s string) string {
	return html.UnescapeString(s)
}

// trimQuotes strips one pair of matching surrounding quotes.
func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
