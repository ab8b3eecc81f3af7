package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/domain"
)

// Provider serves configuration snapshots and swaps them when the config file
// changes. A broken edit keeps the previous snapshot.
type Provider struct {
	v      *viper.Viper
	logger *zap.Logger

	current  atomic.Pointer[Config]
	snapshot atomic.Pointer[domain.Configuration]

	mu        sync.Mutex
	listeners []func(*Config)
	watching  bool
}

// NewProvider loads configuration from configPath (see Load)
func NewProvider(configPath string, logger *zap.Logger) (*Provider, error) {
	cfg, v, err := load(configPath)
	if err != nil {
		return nil, err
	}

	p := &Provider{v: v, logger: logger}
	p.store(cfg)
	return p, nil
}

// NewStaticProvider wraps an already loaded configuration without file watching
func NewStaticProvider(cfg *Config, logger *zap.Logger) *Provider {
	p := &Provider{logger: logger}
	p.store(cfg)
	return p
}

func (p *Provider) store(cfg *Config) {
	if !cfg.KnownSource() {
		p.logger.Warn("unknown llms.source, serving custom text", zap.String("source", cfg.LLMS.Source))
	}
	snap := cfg.Configuration()
	p.current.Store(cfg)
	p.snapshot.Store(&snap)
}

// WithLogger replaces the logger the provider was built with. Warnings about
// the loaded configuration are repeated on the new logger.
func (p *Provider) WithLogger(logger *zap.Logger) *Provider {
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()

	if cfg := p.Config(); !cfg.KnownSource() {
		logger.Warn("unknown llms.source, serving custom text", zap.String("source", cfg.LLMS.Source))
	}
	return p
}

// Config returns the current application configuration
func (p *Provider) Config() *Config {
	return p.current.Load()
}

// GetConfiguration returns the current generator settings
func (p *Provider) GetConfiguration() domain.Configuration {
	return *p.snapshot.Load()
}

// OnChange registers fn to run after every successful reload
func (p *Provider) OnChange(fn func(*Config)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Reload re-reads the config file and swaps the snapshot
func (p *Provider) Reload() error {
	if p.v == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.v.ConfigFileUsed() != "" {
		if err := p.v.ReadInConfig(); err != nil {
			return err
		}
	}
	cfg, err := decode(p.v)
	if err != nil {
		return err
	}
	p.store(cfg)

	for _, fn := range p.listeners {
		fn(cfg)
	}
	return nil
}

// Watch reloads the configuration whenever the config file is written.
// Without a config file it does nothing.
func (p *Provider) Watch() {
	if p.v == nil || p.v.ConfigFileUsed() == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watching {
		return
	}
	p.watching = true

	p.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := p.Reload(); err != nil {
			p.logger.Warn("config reload failed, keeping previous settings",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}
		p.logger.Info("configuration reloaded", zap.String("file", e.Name))
	})
	p.v.WatchConfig()
}

var _ domain.ConfigurationProvider = (*Provider)(nil)
