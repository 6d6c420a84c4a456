package bbcode

import (
	"regexp"
	"strings"
)

var (
	audioPattern      = regexp.MustCompile(`\[audio\]([^\[]+)\[/audio\]\n?`)
	imagePlainPattern = regexp.MustCompile(`\[img\]([^\[]+)\[/img\]`)
	imageSelfPattern  = regexp.MustCompile(`\[img=([^\]]+)\]\[/img\]`)

	youtubePattern = regexp.MustCompile(`\[youtube\]([^\[]+)\[/youtube\]\n?`)
	youtubeIDRe    = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
	youtubeShapes  = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`^([a-zA-Z0-9_-]{11})$`),
	}

	twitchPattern = regexp.MustCompile(`\[twitch\]([^\[]+)\[/twitch\]\n?`)
	twitchIDRe    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	twitchShapes  = []*regexp.Regexp{
		regexp.MustCompile(`[?&]clip=([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`clip/([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`clips\.twitch\.tv/([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`^([a-zA-Z0-9_-]+)$`),
	}
)

// Placeholders emitted in place of media whose source failed validation.
const (
	InvalidAudio    = "[invalid audio url]"
	InvalidImage    = "[invalid image url]"
	InvalidImagemap = "[invalid imagemap]"
	InvalidYouTube  = "[invalid youtube url]"
	InvalidTwitch   = "[invalid twitch url]"
)

func renderAudio(text string) string {
	return replaceSubmatches(audioPattern, text, func(m []string) string {
		src, ok := SanitizeMediaURL(unescape(m[1]))
		if !ok {
			return InvalidAudio
		}
		return "<audio controls='controls' preload='none' src='" + src.String() + "'></audio>"
	})
}

func renderImage(text string) string {
	img := func(m []string) string {
		src, ok := SanitizeMediaURL(trimQuotes(unescape(m[1])))
		if !ok {
			return InvalidImage
		}
		return "<img src='" + src.String() + "' loading='lazy' alt='User image'/>"
	}
	text = replaceSubmatches(imagePlainPattern, text, img)
	return replaceSubmatches(imageSelfPattern, text, img)
}

// extractID returns the first identifier captured by shapes that also
// matches valid.
func extractID(raw string, shapes []*regexp.Regexp, valid *regexp.Regexp) (string, bool) {
	for _, shape := range shapes {
		if m := shape.FindStringSubmatch(raw); m != nil && valid.MatchString(m[1]) {
			return m[1], true
		}
	}
	return "", false
}

func renderYouTube(text string) string {
	return replaceSubmatches(youtubePattern, text, func(m []string) string {
		id, ok := extractID(strings.TrimSpace(unescape(m[1])), youtubeShapes, youtubeIDRe)
		if !ok {
			return InvalidYouTube
		}
		return videoBox("https://www.youtube.com/embed/" + id + "?rel=0")
	})
}

func (r *Renderer) renderTwitch(text string) string {
	return replaceSubmatches(twitchPattern, text, func(m []string) string {
		id, ok := extractID(strings.TrimSpace(unescape(m[1])), twitchShapes, twitchIDRe)
		if !ok {
			return InvalidTwitch
		}
		return videoBox("https://clips.twitch.tv/embed?clip=" + id + "&amp;parent=" + escapeAttr(r.twitchParent))
	})
}

func videoBox(src string) string {
	return "<div class='bbcode-video-box'><div class='bbcode-video'><iframe src='" + src +
		"' frameborder='0' allowfullscreen loading='lazy'></iframe></div></div>"
}
