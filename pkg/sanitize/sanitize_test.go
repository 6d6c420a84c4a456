package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/realistikosu/userpages/pkg/bbcode"
)

func TestUserpageKeepsRendererOutput(t *testing.T) {
	r := bbcode.New(bbcode.WithIDGenerator(func() string { return "abcdef" }))

	testCases := []struct {
		name     string
		input    string
		contains []string
	}{
		{
			name:     "bold",
			input:    "[b]hi[/b]",
			contains: []string{`<div class="bbcode-container"><strong>hi</strong></div>`},
		},
		{
			name:     "colour",
			input:    "[color=red]x[/color]",
			contains: []string{`<span style="color: red">x</span>`},
		},
		{
			name:     "size",
			input:    "[size=150]x[/size]",
			contains: []string{`style="font-size: 150%"`},
		},
		{
			name:     "centre",
			input:    "[centre]x[/centre]",
			contains: []string{`<div style="text-align: center">x</div>`},
		},
		{
			name:  "box",
			input: "[box=Title]body[/box]",
			contains: []string{
				`id="btn-abcdef"`,
				`data-box-id="abcdef"`,
				`id="icon-abcdef"`,
				`id="content-abcdef"`,
				`class="bbcode-box-content bbcode-hidden"`,
			},
		},
		{
			name:     "link",
			input:    "[url=https://osu.ppy.sh]osu[/url]",
			contains: []string{`href="https://osu.ppy.sh"`, `rel="nofollow noopener"`, `target="_blank"`},
		},
		{
			name:     "profile",
			input:    "[profile=1000]someone[/profile]",
			contains: []string{`<a href="/u/1000">someone</a>`},
		},
		{
			name:     "youtube",
			input:    "[youtube]https://youtu.be/dQw4w9WgXcQ[/youtube]",
			contains: []string{`<iframe src="https://www.youtube.com/embed/dQw4w9WgXcQ?rel=0"`, `allowfullscreen`},
		},
		{
			name:     "list",
			input:    "[list][*]one[*]two[/list]",
			contains: []string{`<ol style="list-style-type: disc"><li>one</li><li>two</li></ol>`},
		},
		{
			name:     "code",
			input:    "[code][b]x[/b][/code]",
			contains: []string{`<pre><code class="bbcode-code">`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Userpage(r.Render(tc.input))
			for _, want := range tc.contains {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestUserpageStripsForeignMarkup(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"script", `<script>alert(1)</script><div onclick="x">a</div>`, `<div>a</div>`},
		{"javascript href", `<a href="javascript:alert(1)">x</a>`, `x`},
		{"foreign iframe", `<iframe src="https://evil.example/embed/x"></iframe>`, ``},
		{"style url", `<span style="background: url(x)">y</span>`, `<span>y</span>`},
		{"style expression", `<span style="color: expression(alert(1))">y</span>`, `<span>y</span>`},
		{"unknown element", `<marquee>m</marquee>`, `m`},
		{"empty", ``, ``},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Userpage(tc.input))
		})
	}
}

func TestPolicyIsShared(t *testing.T) {
	assert.Same(t, Policy(), Policy())
}

func TestPlainText(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"tags and entities", `<div><strong>Hello</strong> &amp; bye</div>`, "Hello & bye"},
		{"line breaks", `one<br>two`, "one two"},
		{"blank", `<div> </div>`, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, PlainText(tc.input))
		})
	}
}

func TestSummary(t *testing.T) {
	long := "<p>" + strings.Repeat("a", 30) + "</p>"

	assert.Equal(t, "short", Summary("<b>short</b>", 10))
	assert.Equal(t, strings.Repeat("a", 10)+"…", Summary(long, 10))
	assert.Equal(t, strings.Repeat("a", 30), Summary(long, 0))
	assert.Equal(t, "ab…", Summary("ab cd", 3))
}
