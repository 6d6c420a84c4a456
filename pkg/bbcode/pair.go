package bbcode

import (
	"regexp"
	"strings"
)

// pairRule matches the opening and closing tokens of one tag family and
// pairs them with a stack, innermost first. Unmatched tokens are kept as
// literal text. The close pattern must not contain capturing groups.
type pairRule struct {
	tokens   *regexp.Regexp
	openArgs int
	render   func(args []string, body string) string
}

type pairFrame struct {
	open string
	args []string
	body strings.Builder
}

func newPairRule(open, close string, render func(args []string, body string) string) *pairRule {
	return &pairRule{
		tokens:   regexp.MustCompile("(" + open + ")|(?:" + close + ")"),
		openArgs: regexp.MustCompile(open).NumSubexp(),
		render:   render,
	}
}

// wrapWith renders a pair as fixed opening and closing markup.
func wrapWith(open, close string) func([]string, string) string {
	return func(_ []string, body string) string {
		return open + body + close
	}
}

func (p *pairRule) apply(text string) string {
	matches := p.tokens.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	stack := []*pairFrame{{}}
	last := 0
	for _, m := range matches {
		top := stack[len(stack)-1]
		top.body.WriteString(text[last:m[0]])
		token := text[m[0]:m[1]]
		last = m[1]

		if m[2] >= 0 {
			args := make([]string, p.openArgs)
			for i := range args {
				g := 2 + i
				if m[2*g] >= 0 {
					args[i] = text[m[2*g]:m[2*g+1]]
				}
			}
			stack = append(stack, &pairFrame{open: token, args: args})
			continue
		}

		if len(stack) == 1 {
			top.body.WriteString(token)
			continue
		}

		stack = stack[:len(stack)-1]
		stack[len(stack)-1].body.WriteString(p.render(top.args, top.body.String()))
	}
	stack[len(stack)-1].body.WriteString(text[last:])
	if len(stack) == 1 {
		return stack[0].body.String()
	}

	// Openers left on the stack never found a closer. Each frame's body
	// ends where the next one opened, so they flatten in stack order.
	var b strings.Builder
	b.Grow(len(text))
	b.WriteString(stack[0].body.String())
	for _, f := range stack[1:] {
		b.WriteString(f.open)
		b.WriteString(f.body.String())
	}
	return b.String()
}

// replaceSubmatches replaces every match of re with fn(submatches), where
// submatches[0] is the whole match and unmatched groups are empty.
func replaceSubmatches(re *regexp.Regexp, text string, fn func(m []string) string) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, idx := range matches {
		b.WriteString(text[last:idx[0]])
		groups := make([]string, len(idx)/2)
		for g := range groups {
			if idx[2*g] >= 0 {
				groups[g] = text[idx[2*g]:idx[2*g+1]]
			}
		}
		b.WriteString(fn(groups))
		last = idx[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
