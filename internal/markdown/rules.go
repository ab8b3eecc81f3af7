package markdown

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
)

type rule interface {
	apply(tokens []token) []token
}

type ruleFunc func([]token) []token

func (f ruleFunc) apply(tokens []token) []token { return f(tokens) }

// pipeline is applied in order. Reordering changes output.
var pipeline = []rule{
	ruleFunc(dropComments),
	ruleFunc(lineBreaks),

	wrap(false, "# ", "\n\n", "h1"),
	wrap(false, "## ", "\n\n", "h2"),
	wrap(false, "### ", "\n\n", "h3"),
	wrap(false, "#### ", "\n\n", "h4", "h5", "h6"),

	wrap(false, "**", "**", "strong"),
	wrap(false, "**", "**", "b"),
	wrap(false, "*", "*", "em"),
	wrap(false, "*", "*", "i"),

	links(),

	wrap(true, "", "\n", "ul"),
	wrap(true, "", "\n", "ol"),
	wrap(false, "* ", "\n", "li"),

	wrap(false, "", "\n\n", "p"),

	wrap(true, "> ", "\n\n", "blockquote"),

	ruleFunc(codeBlocks),
	wrap(false, "`", "`", "code"),
}

func dropComments(in []token) []token {
	return slices.DeleteFunc(in, func(t token) bool {
		return t.kind == commentToken
	})
}

func lineBreaks(in []token) []token {
	for i, t := range in {
		if t.name == "br" && (t.kind == startToken || t.kind == selfClosingToken) {
			in[i] = text("\n")
		}
	}
	return in
}

// span rewrites an element from its start tag to the first closing tag with
// any of the same names. Unless multiline is set the element content may not
// contain a line break, otherwise the start tag is left alone.
type span struct {
	tags      []string
	multiline bool
	accept    func(open token) bool
	rewrite   func(open token, inner []token) []token
}

func wrap(multiline bool, prefix, suffix string, tags ...string) span {
	return span{
		tags:      tags,
		multiline: multiline,
		rewrite: func(_ token, inner []token) []token {
			out := make([]token, 0, len(inner)+2)
			out = append(out, text(prefix))
			out = append(out, inner...)
			return append(out, text(suffix))
		},
	}
}

func links() span {
	return span{
		tags:   []string{"a"},
		accept: func(open token) bool { return open.hasHref },
		rewrite: func(open token, inner []token) []token {
			out := make([]token, 0, len(inner)+2)
			out = append(out, text("["))
			out = append(out, inner...)
			// the href was unescaped by the tokenizer; re-escape so the
			// decode step restores it exactly once
			return append(out, text("]("+html.EscapeString(open.href)+")"))
		},
	}
}

func (s span) apply(in []token) []token {
	out := make([]token, 0, len(in))
	for i := 0; i < len(in); i++ {
		t := in[i]
		if t.kind != startToken || !slices.Contains(s.tags, t.name) ||
			(s.accept != nil && !s.accept(t)) {
			out = append(out, t)
			continue
		}

		end := s.closing(in, i)
		if end < 0 {
			out = append(out, t)
			continue
		}

		out = append(out, s.rewrite(t, in[i+1:end])...)
		i = end
	}
	return out
}

func (s span) closing(in []token, start int) int {
	for j := start + 1; j < len(in); j++ {
		t := in[j]
		if t.kind == endToken && slices.Contains(s.tags, t.name) {
			return j
		}
		if !s.multiline && strings.ContainsRune(t.raw, '\n') {
			return -1
		}
	}
	return -1
}

// codeBlocks fences <pre><code>...</code></pre>. The four tags must be adjacent.
func codeBlocks(in []token) []token {
	out := make([]token, 0, len(in))
	for i := 0; i < len(in); i++ {
		if !isOpen(in, i, "pre") || !isOpen(in, i+1, "code") {
			out = append(out, in[i])
			continue
		}

		end := -1
		for j := i + 2; j+1 < len(in); j++ {
			if isClose(in, j, "code") && isClose(in, j+1, "pre") {
				end = j
				break
			}
		}
		if end < 0 {
			out = append(out, in[i])
			continue
		}

		out = append(out, text("```\n"))
		out = append(out, in[i+2:end]...)
		out = append(out, text("\n```\n\n"))
		i = end + 1
	}
	return out
}

func isOpen(in []token, i int, name string) bool {
	return i < len(in) && in[i].kind == startToken && in[i].name == name
}

func isClose(in []token, i int, name string) bool {
	return i < len(in) && in[i].kind == endToken && in[i].name == name
}
