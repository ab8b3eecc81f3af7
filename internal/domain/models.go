package domain

import (
	"errors"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by repositories when a record does not resolve.
var ErrNotFound = errors.New("not found")

// StatusPublished marks a record that repositories are allowed to return.
const StatusPublished = "publish"

// ScopedDocumentType is the type tag carried by every scoped document.
const ScopedDocumentType = "llms_txt_page"

// Author identifies the person who wrote a document
type Author struct {
	DisplayName string `json:"display_name" yaml:"display_name"`
	Login       string `json:"login" yaml:"login"`
}

// Name returns the display name, falling back to the login
func (a Author) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Login
}

// Document is a read-only snapshot of a content item
type Document struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Title       string    `json:"title"`
	Body        string    `json:"body"` // HTML
	Author      Author    `json:"author"`
	PublishedAt time.Time `json:"published_at"`
	ModifiedAt  time.Time `json:"modified_at"`
	Path        string    `json:"path"`      // site-relative, e.g. /about
	Permalink   string    `json:"permalink"` // absolute URL
}

// CleanPath normalizes a site-relative path: one leading slash, no trailing
// slash, no dot segments. The site root is "/".
func CleanPath(p string) string {
	return "/" + CleanParent(p)
}

// CleanParent normalizes an output parent: no surrounding slashes or spaces
// and no dot segments, so it never climbs above the site root.
func CleanParent(p string) string {
	return strings.Trim(path.Clean("/"+strings.TrimSpace(p)), "/")
}

// IsPublished reports whether the document may be served
func (d *Document) IsPublished() bool {
	return d.Status == StatusPublished
}

// ScopedDocument is a document served as its own index under OutputParent.
// Its Body is authored in the target format and is never converted.
type ScopedDocument struct {
	Document

	Scope          string `json:"scope"`
	OutputParent   string `json:"output_parent"`
	AuthorityLevel string `json:"authority_level"`
	ContentType    string `json:"content_type"`
}

// Site holds the site-wide values used by the index document
type Site struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	HomeURL     string `json:"home_url"`
}

// Header is a single response header; order is preserved when written
type Header struct {
	Key   string
	Value string
}

// RenderedDocument is the output artifact handed to the transport layer
type RenderedDocument struct {
	ContentType string
	Body        string
	Headers     []Header
}

// Header returns the value of the first header with the given key
func (r *RenderedDocument) Header(key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}
