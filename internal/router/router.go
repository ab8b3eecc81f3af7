// Package router decides how a single inbound request is answered: with the
// index document, with the Markdown variant of one resource, with a redirect,
// or by handing it back to normal resource rendering.
package router

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/domain"
	"github.com/your-org/llmstxt/internal/header"
	"github.com/your-org/llmstxt/internal/markdown"
	"github.com/your-org/llmstxt/internal/resolver"
)

const (
	MarkdownMediaType = "text/markdown"

	ContentTypeMarkdown = MarkdownMediaType + "; charset=utf-8"
	ContentTypeText     = "text/plain; charset=utf-8"

	TokensHeader = "X-Markdown-Tokens"

	DefaultCharsPerToken = 4
)

// Action is the terminal decision for a request
type Action int

const (
	// PassThrough defers to normal resource resolution
	PassThrough Action = iota
	// Render answers with Outcome.Document
	Render
	// Redirect answers with a temporary redirect to Outcome.RedirectURL
	Redirect
)

func (a Action) String() string {
	switch a {
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return "pass_through"
	}
}

// Request carries the parts of an inbound request the router reads
type Request struct {
	Path   string
	Accept string
}

// Outcome is the routing result. Resource is set when a resource was resolved
// but not rendered, so pass-through layers can reuse it.
type Outcome struct {
	Action      Action
	Kind        string
	Document    *domain.RenderedDocument
	RedirectURL string
	Resource    *domain.Document
}

// Outcome kinds, used for metrics and logs
const (
	KindNone     = "none"
	KindMarkdown = "markdown"
	KindIndex    = "index"
)

// Router routes requests against a content repository
type Router struct {
	repo     domain.ContentRepository
	resolver *resolver.Resolver
	logger   *zap.Logger
}

// New creates a router
func New(repo domain.ContentRepository, res *resolver.Resolver, logger *zap.Logger) *Router {
	return &Router{
		repo:     repo,
		resolver: res,
		logger:   logger,
	}
}

// Route dispatches req. It never fails; anything that does not resolve passes through.
func (r *Router) Route(ctx context.Context, req Request, cfg domain.Configuration) Outcome {
	suffixed := strings.HasSuffix(req.Path, resolver.MarkdownSuffix)
	sniffed := AcceptsMarkdown(req.Accept)
	parent, isIndex := IndexParent(req.Path)

	if suffixed || sniffed {
		out, handled := r.markdown(ctx, req, cfg, suffixed)
		if handled || !isIndex || suffixed {
			return out
		}
	}

	if isIndex {
		return r.index(ctx, cfg, parent)
	}
	return Outcome{Action: PassThrough, Kind: KindNone}
}

// markdown handles a Markdown candidate. handled is false when the request
// should continue to other patterns.
func (r *Router) markdown(ctx context.Context, req Request, cfg domain.Configuration, suffixed bool) (Outcome, bool) {
	pass := Outcome{Action: PassThrough, Kind: KindMarkdown}
	if !cfg.MarkdownEnabled {
		return pass, false
	}

	path := domain.CleanPath(strings.TrimSuffix(req.Path, resolver.MarkdownSuffix))
	doc, err := r.repo.GetDocumentByPath(ctx, path)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("resource lookup failed", zap.String("path", path), zap.Error(err))
		}
		return pass, false
	}

	if !cfg.Includes(doc.Type) {
		if suffixed {
			target := doc.Permalink
			if target == "" {
				target = doc.Path
			}
			return Outcome{Action: Redirect, Kind: KindMarkdown, RedirectURL: target}, true
		}
		pass.Resource = doc
		return pass, true
	}

	body := markdown.RenderDocument(doc)
	return Outcome{
		Action: Render,
		Kind:   KindMarkdown,
		Document: &domain.RenderedDocument{
			ContentType: ContentTypeMarkdown,
			Body:        body,
			Headers: []domain.Header{
				{Key: TokensHeader, Value: strconv.Itoa(EstimateTokens(body, cfg.CharsPerToken))},
			},
		},
		Resource: doc,
	}, true
}

func (r *Router) index(ctx context.Context, cfg domain.Configuration, parent string) Outcome {
	if parent != "" {
		if _, err := r.repo.FindScopedDocumentByParent(ctx, parent); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				r.logger.Warn("scope lookup failed", zap.String("parent", parent), zap.Error(err))
			}
			return Outcome{Action: PassThrough, Kind: KindIndex}
		}
	}

	return Outcome{
		Action: Render,
		Kind:   KindIndex,
		Document: &domain.RenderedDocument{
			ContentType: ContentTypeText,
			Body:        r.resolver.Resolve(ctx, cfg, parent),
		},
	}
}

// AcceptsMarkdown reports whether an Accept header names the Markdown media type
func AcceptsMarkdown(accept string) bool {
	return strings.Contains(strings.ToLower(accept), MarkdownMediaType)
}

// IndexParent reports whether path addresses an index document and returns
// the scope key in front of it. The root index has an empty key.
func IndexParent(path string) (string, bool) {
	if path == "/"+header.IndexFile {
		return "", true
	}

	prefix, ok := strings.CutSuffix(path, "/"+header.IndexFile)
	if !ok {
		return "", false
	}
	parent := domain.CleanParent(prefix)
	if parent == "" {
		return "", false
	}
	return parent, true
}

// EstimateTokens approximates the token count of body
func EstimateTokens(body string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(body)) / float64(charsPerToken)))
}

// AlternateLink returns the Markdown address advertised on the normal page of
// doc, if the document is exposed.
func AlternateLink(cfg domain.Configuration, doc *domain.Document) (string, bool) {
	if doc == nil || !cfg.MarkdownEnabled || !cfg.Includes(doc.Type) || doc.Permalink == "" {
		return "", false
	}
	return resolver.MarkdownURL(doc.Permalink), true
}
