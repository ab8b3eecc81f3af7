package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/your-org/llmstxt/internal/domain"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, DriverFiles, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, SourceCustom, cfg.LLMS.Source)
	assert.Equal(t, DefaultPostsLimit, cfg.LLMS.PostsLimit)
	assert.True(t, cfg.LLMS.MarkdownEnabled)
	assert.Equal(t, DefaultHeaderTemplate, cfg.LLMS.HeaderTemplate)
	assert.Equal(t, DefaultScopedSectionHeader, cfg.LLMS.ScopedSectionHeader)
	assert.Equal(t, DefaultCharsPerToken, cfg.LLMS.CharsPerToken)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: 9090
  request_timeout: 5s
site:
  name: Acme
  home_url: https://acme.test
llms:
  source: aggregate
  post_types: [post, page]
  posts_limit: 20
  type_labels:
    post: Articles
`)
	t.Setenv("APP_SERVER_HOST", "127.0.0.1")
	t.Setenv("APP_LLMS_POSTS_LIMIT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address())
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "Acme", cfg.Site.Name)
	assert.Equal(t, []string{"post", "page"}, cfg.LLMS.PostTypes)
	assert.Equal(t, 7, cfg.LLMS.PostsLimit)
	assert.Equal(t, "Articles", cfg.LLMS.TypeLabels["post"])
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server:\n  port: 9191\n")
	t.Setenv("APP_CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"port out of range", "server:\n  port: 70000\n", "server.port"},
		{"unknown driver", "storage:\n  driver: mongo\n", "storage.driver"},
		{"memory driver is not selectable", "storage:\n  driver: memory\n", "storage.driver"},
		{"sql without dsn", "storage:\n  driver: sqlite\n", "storage.dsn"},
		{"bad home url", "site:\n  home_url: not a url\n", "site.home_url"},
		{"bad log level", "log:\n  level: loud\n", "log.level"},
		{"zero shards", "cache:\n  shards: 0\n", "cache.shards"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfiguration(t *testing.T) {
	base := func(l LLMSConfig) *Config {
		l.CustomText = "custom"
		l.SelectedDocument = "42"
		l.SelectedScopedDocument = "7"
		l.PostsLimit = 20
		return &Config{
			Site: SiteConfig{Name: "Acme", HomeURL: "https://acme.test"},
			LLMS: l,
		}
	}

	tests := []struct {
		name   string
		source string
		patch  func(*LLMSConfig)
		want   domain.Source
	}{
		{"custom", "custom", nil, domain.CustomSource{Text: "custom"}},
		{"unknown falls back to custom", "rss", nil, domain.CustomSource{Text: "custom"}},
		{"empty falls back to custom", "", nil, domain.CustomSource{Text: "custom"}},
		{"scoped", "scoped", nil, domain.ScopedSource{ScopedDocumentID: "7"}},
		{"legacy scoped name", "llms_txt_page", nil, domain.ScopedSource{ScopedDocumentID: "7"}},
		{"page with selection", " Page ", nil, domain.SinglePageSource{DocumentID: "42"}},
		{"page without selection", "page", func(l *LLMSConfig) { l.SelectedDocument = "" }, domain.AggregateSource{Limit: 20}},
		{"aggregate", "aggregate", nil, domain.AggregateSource{Limit: 20}},
		{"negative limit", "aggregate", func(l *LLMSConfig) { l.PostsLimit = -5 }, domain.AggregateSource{Limit: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(LLMSConfig{Source: tt.source})
			if tt.patch != nil {
				tt.patch(&cfg.LLMS)
			}
			assert.Equal(t, tt.want, cfg.Configuration().Source)
		})
	}
}

func TestConfigurationNormalizesFields(t *testing.T) {
	cfg := &Config{
		Site: SiteConfig{Name: "Acme", Description: "Tools", HomeURL: "https://acme.test"},
		LLMS: LLMSConfig{
			PostTypes:       []string{"post", " ", "page", "post"},
			CharsPerToken:   -1,
			MarkdownEnabled: true,
			TypeLabels:      map[string]string{"post": "Articles"},
		},
	}

	got := cfg.Configuration()
	assert.Equal(t, []string{"post", "page"}, got.IncludedTypes)
	assert.Equal(t, DefaultCharsPerToken, got.CharsPerToken)
	assert.Equal(t, domain.Site{Name: "Acme", Description: "Tools", HomeURL: "https://acme.test"}, got.Site)
	assert.True(t, got.MarkdownEnabled)

	// the snapshot must not share the label map
	got.TypeLabels["post"] = "changed"
	assert.Equal(t, "Articles", cfg.LLMS.TypeLabels["post"])
}

func TestProviderReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "llms:\n  source: custom\n  custom_text: one\n")

	p, err := NewProvider(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, domain.CustomSource{Text: "one"}, p.GetConfiguration().Source)

	var notified *Config
	p.OnChange(func(c *Config) { notified = c })

	writeConfig(t, dir, "llms:\n  source: custom\n  custom_text: two\n")
	require.NoError(t, p.Reload())
	assert.Equal(t, domain.CustomSource{Text: "two"}, p.GetConfiguration().Source)
	require.NotNil(t, notified)
	assert.Equal(t, "two", notified.LLMS.CustomText)

	writeConfig(t, dir, "server:\n  port: -1\n")
	assert.Error(t, p.Reload())
	assert.Equal(t, domain.CustomSource{Text: "two"}, p.GetConfiguration().Source)
	assert.Equal(t, 8080, p.Config().Server.Port)
}

func TestProviderWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watch test in short mode")
	}

	dir := t.TempDir()
	path := writeConfig(t, dir, "llms:\n  custom_text: before\n")

	p, err := NewProvider(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	p.Watch()
	p.Watch()

	writeConfig(t, dir, "llms:\n  custom_text: after\n")

	assert.Eventually(t, func() bool {
		return p.GetConfiguration().Source == domain.CustomSource{Text: "after"}
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStaticProvider(t *testing.T) {
	cfg := &Config{LLMS: LLMSConfig{Source: "aggregate", PostsLimit: 3}}
	p := NewStaticProvider(cfg, zaptest.NewLogger(t))

	assert.Equal(t, domain.AggregateSource{Limit: 3}, p.GetConfiguration().Source)
	assert.NoError(t, p.Reload())
	p.Watch()
}

func TestProviderWithLogger(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "llms:\n  source: rss\n")

	p, err := NewProvider(path, zap.NewNop())
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	assert.Same(t, p, p.WithLogger(zap.New(core)))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "rss", logs.All()[0].ContextMap()["source"])
	assert.Equal(t, domain.CustomSource{}, p.GetConfiguration().Source)
}
