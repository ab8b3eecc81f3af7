package domain

import "slices"

// SourceMode names the variant of a Source
type SourceMode string

const (
	SourceModeCustom     SourceMode = "custom"
	SourceModeSinglePage SourceMode = "page"
	SourceModeScoped     SourceMode = "scoped"
	SourceModeAggregate  SourceMode = "aggregate"
)

// Source decides what composes the index document. Each variant carries
// only the fields its mode reads.
type Source interface {
	Mode() SourceMode
}

// CustomSource serves Text verbatim
type CustomSource struct {
	Text string
}

// SinglePageSource serves one document converted to Markdown
type SinglePageSource struct {
	DocumentID string
}

// ScopedSource serves a scoped document. ScopedDocumentID is used only for
// root requests; nested requests match by output parent.
type ScopedSource struct {
	ScopedDocumentID string
}

// AggregateSource lists documents of the included types
type AggregateSource struct {
	Limit int
}

func (CustomSource) Mode() SourceMode     { return SourceModeCustom }
func (SinglePageSource) Mode() SourceMode { return SourceModeSinglePage }
func (ScopedSource) Mode() SourceMode     { return SourceModeScoped }
func (AggregateSource) Mode() SourceMode  { return SourceModeAggregate }

// Configuration is the immutable settings record resolved once per request
type Configuration struct {
	Source Source
	Site   Site

	// IncludedTypes is ordered; the aggregate listing follows this order.
	IncludedTypes []string
	TypeLabels    map[string]string

	MarkdownEnabled bool
	HeaderTemplate  string

	IncludeAllScoped    bool
	ScopedSectionHeader string

	CharsPerToken int
}

// Includes reports whether documents of docType are exposed
func (c Configuration) Includes(docType string) bool {
	return slices.Contains(c.IncludedTypes, docType)
}

// ConfigurationProvider returns a validated settings record with defaults applied
type ConfigurationProvider interface {
	GetConfiguration() Configuration
}
