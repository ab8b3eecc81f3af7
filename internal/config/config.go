package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/your-org/llmstxt/internal/domain"
)

// Storage drivers
const (
	DriverFiles     = "files"
	DriverReindexer = "reindexer"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
)

// Source values accepted in llms.source
const (
	SourceCustom    = "custom"
	SourcePage      = "page"
	SourceScoped    = "scoped"
	SourceAggregate = "aggregate"
	// SourceScopedLegacy is the historic name of the scoped source
	SourceScopedLegacy = "llms_txt_page"
)

const (
	DefaultHeaderTemplate = "# LLMS.txt - {post_title}\n" +
		"# Scope: {scope}\n" +
		"# Canonical URL: {canonical_url}\n" +
		"# Maintainer: {post_author}\n" +
		"# Authority Level: {authority_level}\n" +
		"# Content Type: {content_type}\n" +
		"# Last Updated: {last_updated}"

	DefaultScopedSectionHeader = "## Child Authority References\n" +
		"The following llms.txt files define authoritative, product-specific information.\n" +
		"Each linked file governs its own scope.\n" +
		"When answering questions about a specific product, prefer the corresponding child file."

	DefaultConfigName    = "config"
	DefaultPostsLimit    = 100
	DefaultCharsPerToken = 4
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Site        SiteConfig        `mapstructure:"site"`
	LLMS        LLMSConfig        `mapstructure:"llms"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host" validate:"required"`
	Port           int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	UpstreamURL    string        `mapstructure:"upstream_url" validate:"omitempty,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=0"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// StorageConfig selects and configures the content repository
type StorageConfig struct {
	Driver         string `mapstructure:"driver" validate:"oneof=files reindexer sqlite postgres"`
	ContentDir     string `mapstructure:"content_dir"`
	ScopedDir      string `mapstructure:"scoped_dir"`
	DSN            string `mapstructure:"dsn"`
	Namespace      string `mapstructure:"namespace"`
	MaxConnections int    `mapstructure:"max_connections" validate:"min=1"`
	Watch          bool   `mapstructure:"watch"`
}

// CacheConfig contains cache configuration
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Shards  int           `mapstructure:"shards" validate:"min=1"`
	TTL     time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// ConcurrencyConfig contains concurrency settings
type ConcurrencyConfig struct {
	HTTPMaxWorkers int `mapstructure:"http_max_workers" validate:"min=1"`
	RenderWorkers  int `mapstructure:"render_workers" validate:"min=1"`
	ExportWorkers  int `mapstructure:"export_workers" validate:"min=1"`
}

// SiteConfig describes the site the index is generated for
type SiteConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	HomeURL     string `mapstructure:"home_url" validate:"required,url"`
}

// LLMSConfig holds the generator settings. Unknown sources and negative
// numbers are not rejected; Configuration coerces them.
type LLMSConfig struct {
	Source                 string            `mapstructure:"source"`
	CustomText             string            `mapstructure:"custom_text"`
	SelectedDocument       string            `mapstructure:"selected_document"`
	SelectedScopedDocument string            `mapstructure:"selected_scoped_document"`
	PostTypes              []string          `mapstructure:"post_types"`
	PostsLimit             int               `mapstructure:"posts_limit"`
	MarkdownEnabled        bool              `mapstructure:"markdown_enabled"`
	HeaderTemplate         string            `mapstructure:"header_template"`
	IncludeAllScoped       bool              `mapstructure:"include_all_scoped"`
	ScopedSectionHeader    string            `mapstructure:"scoped_section_header"`
	CharsPerToken          int               `mapstructure:"chars_per_token"`
	TypeLabels             map[string]string `mapstructure:"type_labels"`
}

// Address returns host:port for the HTTP listener
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from .env, the config file and APP_* variables.
// An empty configPath falls back to APP_CONFIG_PATH and then to an optional
// config.yaml in the working directory.
func Load(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

func load(configPath string) (*Config, *viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath == "" {
		configPath = os.Getenv("APP_CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upstream_url", "")
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	// Storage defaults
	// reindexer использует cproto протокол (требует CGO), порт 6534
	v.SetDefault("storage.driver", DriverFiles)
	v.SetDefault("storage.content_dir", "content")
	v.SetDefault("storage.scoped_dir", "content/llms")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.namespace", "llmstxt")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.watch", true)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.ttl", 5*time.Minute)

	// Concurrency defaults
	v.SetDefault("concurrency.http_max_workers", 100)
	v.SetDefault("concurrency.render_workers", 16)
	v.SetDefault("concurrency.export_workers", 4)

	v.SetDefault("site.name", "")
	v.SetDefault("site.description", "")
	v.SetDefault("site.home_url", "http://localhost:8080")

	// Generator defaults
	v.SetDefault("llms.source", SourceCustom)
	v.SetDefault("llms.custom_text", "")
	v.SetDefault("llms.selected_document", "")
	v.SetDefault("llms.selected_scoped_document", "")
	v.SetDefault("llms.post_types", []string{})
	v.SetDefault("llms.posts_limit", DefaultPostsLimit)
	v.SetDefault("llms.markdown_enabled", true)
	v.SetDefault("llms.header_template", DefaultHeaderTemplate)
	v.SetDefault("llms.include_all_scoped", false)
	v.SetDefault("llms.scoped_section_header", DefaultScopedSectionHeader)
	v.SetDefault("llms.chars_per_token", DefaultCharsPerToken)
	v.SetDefault("llms.type_labels", map[string]string{})
}

// envKeys lists the keys that may be overridden through APP_* variables
var envKeys = []string{
	"server.host", "server.port", "server.upstream_url", "server.request_timeout",
	"log.level", "log.development",
	"storage.driver", "storage.content_dir", "storage.scoped_dir", "storage.dsn",
	"storage.namespace", "storage.max_connections", "storage.watch",
	"cache.enabled", "cache.shards", "cache.ttl",
	"concurrency.http_max_workers", "concurrency.render_workers", "concurrency.export_workers",
	"site.name", "site.description", "site.home_url",
	"llms.source", "llms.custom_text", "llms.selected_document", "llms.selected_scoped_document",
	"llms.post_types", "llms.posts_limit", "llms.markdown_enabled", "llms.header_template",
	"llms.include_all_scoped", "llms.scoped_section_header", "llms.chars_per_token",
}

// bindEnvVars binds environment variables to viper keys
func bindEnvVars(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key, "APP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
}

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report keys the way they appear in the config file
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
	})
	return v
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			key := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", key, fe.Tag(), fe.Param()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", key, fe.Tag()))
			}
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	switch cfg.Storage.Driver {
	case DriverReindexer, DriverSQLite, DriverPostgres:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", cfg.Storage.Driver)
		}
	case DriverFiles:
		if cfg.Storage.ContentDir == "" && cfg.Storage.ScopedDir == "" {
			return fmt.Errorf("storage.content_dir or storage.scoped_dir is required for driver files")
		}
	}
	if cfg.Storage.Driver == DriverReindexer && cfg.Storage.Namespace == "" {
		return fmt.Errorf("storage.namespace is required for driver reindexer")
	}

	return nil
}

// KnownSource reports whether llms.source names a supported source
func (c *Config) KnownSource() bool {
	switch normalizeSource(c.LLMS.Source) {
	case SourceCustom, SourcePage, SourceScoped, SourceScopedLegacy, SourceAggregate:
		return true
	}
	return false
}

func normalizeSource(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Configuration converts the file settings into the record the generator reads.
// Unknown sources fall back to custom text, "page" without a selected document
// lists the included types, and negative numbers are clamped.
func (c *Config) Configuration() domain.Configuration {
	l := c.LLMS

	var source domain.Source
	switch normalizeSource(l.Source) {
	case SourceScoped, SourceScopedLegacy:
		source = domain.ScopedSource{ScopedDocumentID: strings.TrimSpace(l.SelectedScopedDocument)}
	case SourcePage:
		if id := strings.TrimSpace(l.SelectedDocument); id != "" {
			source = domain.SinglePageSource{DocumentID: id}
		} else {
			source = domain.AggregateSource{Limit: max(l.PostsLimit, 0)}
		}
	case SourceAggregate:
		source = domain.AggregateSource{Limit: max(l.PostsLimit, 0)}
	default:
		source = domain.CustomSource{Text: l.CustomText}
	}

	types := make([]string, 0, len(l.PostTypes))
	seen := make(map[string]struct{}, len(l.PostTypes))
	for _, t := range l.PostTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}

	cpt := l.CharsPerToken
	if cpt <= 0 {
		cpt = DefaultCharsPerToken
	}

	return domain.Configuration{
		Source: source,
		Site: domain.Site{
			Name:        c.Site.Name,
			Description: c.Site.Description,
			HomeURL:     c.Site.HomeURL,
		},
		IncludedTypes:       types,
		TypeLabels:          maps.Clone(l.TypeLabels),
		MarkdownEnabled:     l.MarkdownEnabled,
		HeaderTemplate:      l.HeaderTemplate,
		IncludeAllScoped:    l.IncludeAllScoped,
		ScopedSectionHeader: l.ScopedSectionHeader,
		CharsPerToken:       cpt,
	}
}
