package handlers

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/domain"
	"github.com/your-org/llmstxt/internal/markdown"
	"github.com/your-org/llmstxt/internal/middleware"
	"github.com/your-org/llmstxt/internal/router"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}{{if .SiteName}} - {{.SiteName}}{{end}}</title>
{{- if .Alternate}}
<link rel="alternate" type="` + router.MarkdownMediaType + `" href="{{.Alternate}}">
{{- end}}
</head>
<body>
<article>
<h1>{{.Title}}</h1>
{{- if .Published}}
<p><time datetime="{{.Published}}">{{.Published}}</time>{{if .Author}} · {{.Author}}{{end}}</p>
{{- end}}
{{.Body}}
</article>
</body>
</html>
`))

type pageView struct {
	Title     string
	SiteName  string
	Published string
	Author    string
	Alternate string
	Body      template.HTML
}

// PageHandler renders resources itself when no upstream site is configured
type PageHandler struct {
	service  LLMSService
	siteName func() string
	policy   *bluemonday.Policy
	logger   *zap.Logger
}

// NewPageHandler creates a new page handler. siteName is read per request.
func NewPageHandler(service LLMSService, siteName func() string, logger *zap.Logger) *PageHandler {
	return &PageHandler{
		service:  service,
		siteName: siteName,
		policy:   bluemonday.UGCPolicy(),
		logger:   logger,
	}
}

// ServeHTTP handles pass-through requests
func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	doc := resourceFrom(ctx)
	if doc == nil {
		var err error
		doc, err = h.service.LookupResource(ctx, r.URL.Path)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				h.logger.Error("failed to load resource",
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				respondError(w, http.StatusInternalServerError, "failed to load page", requestID)
				return
			}
			respondError(w, http.StatusNotFound, "not found", requestID)
			return
		}
	}

	view := pageView{
		Title:    doc.Title,
		SiteName: h.siteName(),
		Author:   doc.Author.Name(),
		Body:     template.HTML(h.policy.Sanitize(doc.Body)),
	}
	if !doc.PublishedAt.IsZero() {
		view.Published = doc.PublishedAt.Format(markdown.DateLayout)
	}
	if link, ok := h.service.AlternateLink(ctx, doc.Path); ok {
		view.Alternate = link
		w.Header().Add("Link", linkHeader(link))
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, view); err != nil {
		h.logger.Error("failed to render page",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to render page", requestID)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(buf.Bytes())
}
