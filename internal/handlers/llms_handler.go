package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/domain"
	"github.com/your-org/llmstxt/internal/middleware"
	"github.com/your-org/llmstxt/internal/router"
)

// LLMSService is the part of the usecase layer the HTTP handlers need
type LLMSService interface {
	Serve(ctx context.Context, req router.Request) (router.Outcome, error)
	AlternateLink(ctx context.Context, path string) (string, bool)
	LookupResource(ctx context.Context, path string) (*domain.Document, error)
}

type resourceKey struct{}

// withResource hands a resolved document to the fallback handler
func withResource(ctx context.Context, doc *domain.Document) context.Context {
	return context.WithValue(ctx, resourceKey{}, doc)
}

func resourceFrom(ctx context.Context) *domain.Document {
	doc, _ := ctx.Value(resourceKey{}).(*domain.Document)
	return doc
}

// LLMSHandler answers index and Markdown requests and hands everything else
// to the fallback handler.
type LLMSHandler struct {
	service  LLMSService
	fallback http.Handler
	logger   *zap.Logger
}

// NewLLMSHandler creates a new handler. fallback serves pass-through requests.
func NewLLMSHandler(service LLMSService, fallback http.Handler, logger *zap.Logger) *LLMSHandler {
	return &LLMSHandler{
		service:  service,
		fallback: fallback,
		logger:   logger,
	}
}

// ServeHTTP handles GET and HEAD /*
func (h *LLMSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.fallback.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	out, err := h.service.Serve(ctx, router.Request{
		Path:   r.URL.Path,
		Accept: r.Header.Get("Accept"),
	})
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		h.logger.Warn("request not served",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, status, "service busy", requestID)
		return
	}

	switch out.Action {
	case router.Render:
		h.render(w, r, out.Document)
	case router.Redirect:
		http.Redirect(w, r, out.RedirectURL, http.StatusFound)
	default:
		if out.Resource != nil {
			r = r.WithContext(withResource(ctx, out.Resource))
		}
		h.fallback.ServeHTTP(w, r)
	}
}

func (h *LLMSHandler) render(w http.ResponseWriter, r *http.Request, doc *domain.RenderedDocument) {
	header := w.Header()
	header.Set("Content-Type", doc.ContentType)
	for _, hv := range doc.Headers {
		header.Set(hv.Key, hv.Value)
	}
	header.Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write([]byte(doc.Body)); err != nil {
		h.logger.Debug("failed to write response",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
}
