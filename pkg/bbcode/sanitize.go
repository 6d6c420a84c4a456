package bbcode

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// Protocol allow-lists, compared against the parsed scheme.
var (
	linkProtocols  = []string{"http", "https", "mailto"}
	mediaProtocols = []string{"http", "https"}
)

var blockedSchemes = []string{"javascript:", "data:", "vbscript:", "file:"}

// SafeURL is a URL that passed SanitizeURL. Its string form is already
// escaped for a single-quoted attribute. The zero value is not safe to emit.
type SafeURL struct {
	s string
}

func (u SafeURL) String() string { return u.s }

func (u SafeURL) IsZero() bool { return u.s == "" }

// SanitizeURL validates raw against the dangerous scheme blocklist and the
// allowed protocols (without the trailing colon). Relative paths and
// fragment anchors are accepted.
func SanitizeURL(raw string, allowed ...string) (SafeURL, bool) {
	u := strings.TrimSpace(raw)
	if u == "" || hasBlockedScheme(u) {
		return SafeURL{}, false
	}

	if strings.HasPrefix(u, "/") || strings.HasPrefix(u, "#") || strings.HasPrefix(u, "./") {
		return SafeURL{s: escapeAttr(u)}, true
	}

	parsed, err := url.Parse(u)
	if err != nil {
		if !strings.Contains(u, ":") {
			return SafeURL{s: escapeAttr(u)}, true
		}
		return SafeURL{}, false
	}

	if parsed.Scheme == "" || slices.Contains(allowed, strings.ToLower(parsed.Scheme)) {
		return SafeURL{s: escapeAttr(u)}, true
	}
	return SafeURL{}, false
}

// SanitizeLinkURL accepts http, https and mailto targets.
func SanitizeLinkURL(raw string) (SafeURL, bool) {
	return SanitizeURL(raw, linkProtocols...)
}

// SanitizeMediaURL accepts http and https sources only.
func SanitizeMediaURL(raw string) (SafeURL, bool) {
	return SanitizeURL(raw, mediaProtocols...)
}

// hasBlockedScheme ignores case, whitespace and control characters so that
// "java\tscript:" and friends are caught.
func hasBlockedScheme(u string) bool {
	folded := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, u)

	for _, scheme := range blockedSchemes {
		if strings.HasPrefix(folded, scheme) {
			return true
		}
	}
	return false
}

// SafeColour is a CSS colour value that passed SanitizeColour.
type SafeColour struct {
	s string
}

func (c SafeColour) String() string { return c.s }

func (c SafeColour) IsZero() bool { return c.s == "" }

var (
	hexColourPattern  = regexp.MustCompile(`^#(?:[0-9a-f]{3,4}|[0-9a-f]{6}|[0-9a-f]{8})$`)
	funcColourPattern = regexp.MustCompile(`^(?:rgb|rgba|hsl|hsla)\([0-9a-z.,%/+\s-]+\)$`)
)

var colourBlocklist = []string{"expression", "url", "javascript"}

var namedColours = map[string]struct{}{
	"black": {}, "white": {}, "red": {}, "green": {}, "blue": {}, "yellow": {},
	"orange": {}, "purple": {}, "pink": {}, "brown": {}, "gray": {}, "grey": {},
	"cyan": {}, "magenta": {}, "lime": {}, "navy": {}, "teal": {}, "aqua": {},
	"maroon": {}, "olive": {}, "silver": {}, "fuchsia": {}, "transparent": {},
	"gold": {}, "coral": {}, "crimson": {}, "darkblue": {}, "darkgreen": {},
	"darkred": {}, "lightblue": {}, "lightgreen": {}, "lightgray": {},
	"lightgrey": {}, "darkgray": {}, "darkgrey": {}, "indigo": {}, "violet": {},
	"turquoise": {}, "salmon": {}, "khaki": {}, "plum": {}, "orchid": {},
	"tomato": {}, "skyblue": {}, "steelblue": {}, "slategray": {},
	"slategrey": {}, "wheat": {}, "tan": {},
}

// SanitizeColour accepts hex colours, rgb/rgba/hsl/hsla functions with
// numeric arguments, and a fixed set of named colours.
func SanitizeColour(raw string) (SafeColour, bool) {
	c := strings.ToLower(strings.TrimSpace(raw))
	if c == "" {
		return SafeColour{}, false
	}

	if hexColourPattern.MatchString(c) {
		return SafeColour{s: c}, true
	}

	if funcColourPattern.MatchString(c) {
		for _, bad := range colourBlocklist {
			if strings.Contains(c, bad) {
				return SafeColour{}, false
			}
		}
		return SafeColour{s: escapeAttr(c)}, true
	}

	if _, ok := namedColours[c]; ok {
		return SafeColour{s: c}, true
	}
	return SafeColour{}, false
}
