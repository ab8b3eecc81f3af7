package repositories

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/frontmatter"
	"github.com/fsnotify/fsnotify"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/your-org/llmstxt/internal/domain"
)

const (
	defaultDocumentType = "page"
	defaultDebounce     = 500 * time.Millisecond
)

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// fileMeta is the frontmatter of a content file
type fileMeta struct {
	ID             string `yaml:"id"`
	Title          string `yaml:"title"`
	Type           string `yaml:"type"`
	Status         string `yaml:"status"`
	Author         string `yaml:"author"`
	AuthorLogin    string `yaml:"author_login"`
	Date           string `yaml:"date"`
	Modified       string `yaml:"modified"`
	Path           string `yaml:"path"`
	Permalink      string `yaml:"permalink"`
	Scope          string `yaml:"scope"`
	OutputParent   string `yaml:"output_parent"`
	AuthorityLevel string `yaml:"authority_level"`
	ContentType    string `yaml:"content_type"`
}

// FileOptions configures a FileRepository
type FileOptions struct {
	ContentDir string
	ScopedDir  string
	BaseURL    string
	Debounce   time.Duration
}

// FileRepository serves a tree of Markdown files with frontmatter.
// Documents live in ContentDir as {type}/{slug}.md (files at the top level are
// pages) and their bodies are rendered to HTML. Scoped documents live in
// ScopedDir and keep their bodies as written.
type FileRepository struct {
	*MemoryRepository

	opts   FileOptions
	logger *zap.Logger
	md     goldmark.Markdown

	listenersMu sync.Mutex
	listeners   []func()
}

// NewFileRepository creates the repository and performs the first load
func NewFileRepository(opts FileOptions, logger *zap.Logger) (*FileRepository, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	r := &FileRepository{
		MemoryRepository: NewMemoryRepository(),
		opts:             opts,
		logger:           logger,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}

	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// OnReload registers fn to run after every successful reload
func (r *FileRepository) OnReload(fn func()) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// Load reads both trees and swaps them in. On error the previous content stays.
func (r *FileRepository) Load() error {
	docs, err := r.loadDocuments()
	if err != nil {
		return err
	}
	scoped, err := r.loadScoped()
	if err != nil {
		return err
	}

	r.Replace(docs, scoped)
	r.logger.Info("content loaded",
		zap.String("content_dir", r.opts.ContentDir),
		zap.Int("documents", len(docs)),
		zap.Int("scoped_documents", len(scoped)),
	)
	return nil
}

func (r *FileRepository) loadDocuments() ([]*domain.Document, error) {
	var docs []*domain.Document
	err := walkMarkdown(r.opts.ContentDir, r.opts.ScopedDir, func(path, rel string, info fs.FileInfo, meta fileMeta, body []byte) error {
		var html bytes.Buffer
		if err := r.md.Convert(body, &html); err != nil {
			return fmt.Errorf("render %s: %w", path, err)
		}

		slug := strings.TrimSuffix(rel, filepath.Ext(rel))
		docType, urlPath := defaultDocumentType, "/"+filepath.ToSlash(slug)
		if dir := filepath.Dir(rel); dir != "." {
			docType = strings.Split(filepath.ToSlash(dir), "/")[0]
		}

		doc := &domain.Document{
			ID:     firstNonEmpty(meta.ID, filepath.ToSlash(slug)),
			Type:   firstNonEmpty(meta.Type, docType),
			Status: firstNonEmpty(meta.Status, domain.StatusPublished),
			Title:  firstNonEmpty(meta.Title, titleFromSlug(filepath.Base(slug))),
			Body:   html.String(),
			Author: domain.Author{DisplayName: meta.Author, Login: meta.AuthorLogin},
			Path:   domain.CleanPath(firstNonEmpty(meta.Path, urlPath)),
		}
		doc.ModifiedAt = parseDate(meta.Modified, info.ModTime())
		doc.PublishedAt = parseDate(meta.Date, doc.ModifiedAt)
		doc.Permalink = firstNonEmpty(meta.Permalink, permalink(r.opts.BaseURL, doc.Path))

		docs = append(docs, doc)
		return nil
	})
	return docs, err
}

func (r *FileRepository) loadScoped() ([]*domain.ScopedDocument, error) {
	var scoped []*domain.ScopedDocument
	err := walkMarkdown(r.opts.ScopedDir, "", func(path, rel string, info fs.FileInfo, meta fileMeta, body []byte) error {
		slug := filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel)))

		doc := &domain.ScopedDocument{
			Document: domain.Document{
				ID:     firstNonEmpty(meta.ID, "scoped/"+slug),
				Type:   domain.ScopedDocumentType,
				Status: firstNonEmpty(meta.Status, domain.StatusPublished),
				Title:  firstNonEmpty(meta.Title, titleFromSlug(filepath.Base(slug))),
				Body:   string(body),
				Author: domain.Author{DisplayName: meta.Author, Login: meta.AuthorLogin},
			},
			Scope:          meta.Scope,
			OutputParent:   domain.CleanParent(meta.OutputParent),
			AuthorityLevel: meta.AuthorityLevel,
			ContentType:    meta.ContentType,
		}
		doc.ModifiedAt = parseDate(meta.Modified, info.ModTime())
		doc.PublishedAt = parseDate(meta.Date, doc.ModifiedAt)

		scoped = append(scoped, doc)
		return nil
	})
	return scoped, err
}

type markdownVisitor func(path, rel string, info fs.FileInfo, meta fileMeta, body []byte) error

// walkMarkdown visits every .md file under root except those below skip.
// A missing root is empty.
func walkMarkdown(root, skip string, visit markdownVisitor) error {
	if root == "" {
		return nil
	}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skip != "" && path != root && filepath.Clean(path) == filepath.Clean(skip) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		var meta fileMeta
		body, err := frontmatter.Parse(bytes.NewReader(raw), &meta)
		if err != nil {
			// no usable frontmatter: the whole file is the body
			meta, body = fileMeta{}, raw
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return visit(path, rel, info, meta, body)
	})
}

// Watch reloads content on file changes until ctx is done. Bursts of events
// are collapsed into one reload.
func (r *FileRepository) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	for _, root := range []string{r.opts.ContentDir, r.opts.ScopedDir} {
		if err := addTree(watcher, root); err != nil {
			watcher.Close()
			return err
		}
	}

	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *FileRepository) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						r.logger.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
					}
				}
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.opts.Debounce, r.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (r *FileRepository) reload() {
	if err := r.Load(); err != nil {
		r.logger.Error("content reload failed, keeping previous content", zap.Error(err))
		return
	}

	r.listenersMu.Lock()
	listeners := append([]func(){}, r.listeners...)
	r.listenersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func addTree(watcher *fsnotify.Watcher, root string) error {
	if root == "" {
		return nil
	}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func parseDate(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

func titleFromSlug(slug string) string {
	words := strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	return cases.Title(language.English).String(words)
}

func permalink(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if path == "/" {
		return base + "/"
	}
	return base + path + "/"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
