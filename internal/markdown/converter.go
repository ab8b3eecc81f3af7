// Package markdown converts stored HTML bodies into the Markdown served to
// language models.
//
// The converter is a fixed, ordered list of rewrite rules over a flat token
// stream. Rules are single-pass and non-recursive: once a rule rewrites an
// element, a same-named element nested inside it is not rewritten and its tags
// are stripped later. Output for deeply nested markup is therefore lossy.
package markdown

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

type tokenKind uint8

const (
	textToken tokenKind = iota
	startToken
	endToken
	selfClosingToken
	commentToken
	doctypeToken
)

// token keeps the raw source text so entities survive until the decode step.
type token struct {
	kind    tokenKind
	name    string
	raw     string
	href    string
	hasHref bool
}

func text(s string) token {
	return token{kind: textToken, raw: s}
}

var (
	newlineRun    = regexp.MustCompile(`[\r\n]+`)
	horizontalRun = regexp.MustCompile(`[ \t]+`)
)

// Convert rewrites html into Markdown. It never fails; unknown or malformed
// markup degrades to plain text.
func Convert(src string) string {
	tokens := tokenize(src)
	for _, r := range pipeline {
		tokens = r.apply(tokens)
	}

	var b strings.Builder
	for _, t := range tokens {
		if t.kind == textToken {
			b.WriteString(t.raw)
		}
	}

	out := html.UnescapeString(b.String())
	out = newlineRun.ReplaceAllString(out, "\n\n")
	out = horizontalRun.ReplaceAllString(out, " ")

	return strings.Trim(out, " \t\n\r\x00\x0b")
}

// rawTextElements hold markup the tokenizer would otherwise return as text.
// script and style stay raw.
var rawTextElements = map[string]bool{
	"iframe":    true,
	"noembed":   true,
	"noframes":  true,
	"noscript":  true,
	"plaintext": true,
	"textarea":  true,
	"title":     true,
	"xmp":       true,
}

func tokenize(src string) []token {
	z := html.NewTokenizer(strings.NewReader(src))

	var tokens []token
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return tokens
		}

		t := token{raw: string(z.Raw())}
		switch tt {
		case html.TextToken:
			t.kind = textToken
		case html.CommentToken:
			t.kind = commentToken
		case html.DoctypeToken:
			t.kind = doctypeToken
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, more := z.TagName()
			t.name = string(name)
			switch tt {
			case html.StartTagToken:
				t.kind = startToken
				if rawTextElements[t.name] {
					z.NextIsNotRawText()
				}
			case html.SelfClosingTagToken:
				t.kind = selfClosingToken
			default:
				t.kind = endToken
				more = false
			}
			for more {
				var key, val []byte
				key, val, more = z.TagAttr()
				if !t.hasHref && string(key) == "href" {
					t.href, t.hasHref = string(val), true
				}
			}
		}
		tokens = append(tokens, t)
	}
}
