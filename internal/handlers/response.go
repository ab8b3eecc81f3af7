package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/your-org/llmstxt/internal/middleware"
)

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any, requestID string) error {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(middleware.RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// respondError sends a plain text error
func respondError(w http.ResponseWriter, status int, message, requestID string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if requestID != "" {
		fmt.Fprintf(w, "%s (request id %s)\n", message, requestID)
		return
	}
	fmt.Fprintln(w, message)
}
