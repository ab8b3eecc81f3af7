package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/your-org/llmstxt/internal/middleware"
	"github.com/your-org/llmstxt/internal/router"
)

// maxRewriteBody caps the HTML pages that get a discovery link injected
const maxRewriteBody = 8 << 20

type alternateKey struct{}

// ProxyHandler forwards pass-through requests to the site that renders the
// normal pages and advertises the Markdown variant on the way back.
type ProxyHandler struct {
	service LLMSService
	proxy   *httputil.ReverseProxy
	logger  *zap.Logger
}

// NewProxyHandler creates a reverse proxy to upstream
func NewProxyHandler(upstream *url.URL, service LLMSService, logger *zap.Logger) *ProxyHandler {
	h := &ProxyHandler{service: service, logger: logger}

	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			if _, ok := pr.In.Context().Value(alternateKey{}).(string); ok {
				// body rewrite needs an uncompressed page
				pr.Out.Header.Del("Accept-Encoding")
			}
		},
		ModifyResponse: h.injectAlternateLink,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			requestID := middleware.GetRequestID(r.Context())
			h.logger.Error("upstream request failed",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			respondError(w, http.StatusBadGateway, "upstream unavailable", requestID)
		},
	}
	return h
}

// ServeHTTP proxies the request
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if link, ok := h.alternateLink(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), alternateKey{}, link))
		}
	}
	h.proxy.ServeHTTP(w, r)
}

func (h *ProxyHandler) alternateLink(r *http.Request) (string, bool) {
	return h.service.AlternateLink(r.Context(), r.URL.Path)
}

func (h *ProxyHandler) injectAlternateLink(resp *http.Response) error {
	link, ok := resp.Request.Context().Value(alternateKey{}).(string)
	if !ok || resp.StatusCode != http.StatusOK {
		return nil
	}

	resp.Header.Add("Link", linkHeader(link))

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/html" || resp.Header.Get("Content-Encoding") != "" {
		return nil
	}
	if resp.ContentLength > maxRewriteBody || resp.Request.Method == http.MethodHead {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRewriteBody+1))
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read upstream body: %w", err)
	}

	body := raw
	if len(raw) <= maxRewriteBody {
		if rewritten, err := addDiscoveryLink(raw, link); err != nil {
			h.logger.Debug("discovery link not injected",
				zap.String("path", resp.Request.URL.Path),
				zap.Error(err),
			)
		} else {
			body = rewritten
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

// addDiscoveryLink appends a <link rel="alternate"> for link to the page head
// unless the page already declares one.
func addDiscoveryLink(page []byte, link string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}

	head := doc.Find("head").First()
	if head.Length() == 0 {
		return nil, fmt.Errorf("page has no head")
	}
	if head.Find(`link[rel="alternate"][type="` + router.MarkdownMediaType + `"]`).Length() > 0 {
		return page, nil
	}

	head.AppendHtml(discoveryTag(link))

	out, err := doc.Html()
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func discoveryTag(link string) string {
	return `<link rel="alternate" type="` + router.MarkdownMediaType + `" href="` + html.EscapeString(link) + `"/>`
}

func linkHeader(link string) string {
	return "<" + strings.ReplaceAll(link, ">", "%3E") + `>; rel="alternate"; type="` + router.MarkdownMediaType + `"`
}
