package header

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/llmstxt/internal/domain"
)

const defaultTemplate = "# LLMS.txt - {post_title}\n# Scope: {scope}\n# Canonical URL: {canonical_url}\n" +
	"# Maintainer: {post_author}\n# Authority Level: {authority_level}\n# Content Type: {content_type}\n" +
	"# Last Updated: {last_updated}"

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		fields   Fields
		want     string
	}{
		{
			name:     "empty template",
			template: "",
			fields:   Fields{FieldTitle: "x"},
			want:     "",
		},
		{
			name:     "all fields",
			template: "Title: {post_title}\nScope: {scope}",
			fields:   Fields{FieldTitle: "Docs", FieldScope: "API"},
			want:     "Title: Docs\nScope: API",
		},
		{
			name:     "empty field drops line",
			template: "Title: {post_title}\nScope: {scope}\nEnd",
			fields:   Fields{FieldTitle: "Docs", FieldScope: ""},
			want:     "Title: Docs\nEnd",
		},
		{
			name:     "unknown placeholder drops line",
			template: "{nope} here\nkept",
			fields:   Fields{},
			want:     "kept",
		},
		{
			name:     "blank lines and padding",
			template: "\r\n  a  \r\r\n\n b\n",
			fields:   nil,
			want:     "a\nb",
		},
		{
			name:     "placeholder used twice",
			template: "{post_title} / {post_title}",
			fields:   Fields{FieldTitle: "T"},
			want:     "T / T",
		},
		{
			name:     "all lines dropped",
			template: "{scope}\n{content_type}",
			fields:   Fields{},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, tt.fields))
		})
	}
}

func TestRenderNeverLeavesPlaceholders(t *testing.T) {
	token := regexp.MustCompile(`\{[A-Za-z0-9_]+\}`)
	fieldSets := []Fields{
		nil,
		{FieldTitle: "A"},
		{FieldTitle: "A", FieldScope: "{scope}"},
		{FieldCanonicalURL: "https://x/llms.txt", FieldLastUpdated: "2024-01-01", "extra": "{Other}"},
	}
	templates := []string{defaultTemplate, "{a}{b}", "x {post_title} {Custom_1}", "plain"}

	for _, tpl := range templates {
		for _, f := range fieldSets {
			assert.False(t, token.MatchString(Render(tpl, f)), "template %q fields %v", tpl, f)
		}
	}
}

func TestScopedFieldsWithDefaultTemplate(t *testing.T) {
	doc := &domain.ScopedDocument{
		Document: domain.Document{
			Title:      "Widget API",
			Author:     domain.Author{DisplayName: "", Login: "ops"},
			ModifiedAt: time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC),
		},
		Scope:        "Widget API reference",
		OutputParent: "docs",
		ContentType:  "reference",
	}

	got := Render(defaultTemplate, ScopedFields(doc, "https://acme.test/"))

	assert.Equal(t, "# LLMS.txt - Widget API\n"+
		"# Scope: Widget API reference\n"+
		"# Canonical URL: https://acme.test/docs/llms.txt\n"+
		"# Maintainer: ops\n"+
		"# Content Type: reference\n"+
		"# Last Updated: 2025-01-02", got)
}

func TestCanonicalURL(t *testing.T) {
	assert.Equal(t, "https://acme.test/llms.txt", CanonicalURL("https://acme.test", ""))
	assert.Equal(t, "https://acme.test/llms.txt", CanonicalURL("https://acme.test/", "/"))
	assert.Equal(t, "https://acme.test/docs/v2/llms.txt", CanonicalURL("https://acme.test", "/docs/v2/"))
}
