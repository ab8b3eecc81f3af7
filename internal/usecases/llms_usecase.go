package usecases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/domain"
	"github.com/your-org/llmstxt/internal/header"
	"github.com/your-org/llmstxt/internal/metrics"
	"github.com/your-org/llmstxt/internal/processor"
	"github.com/your-org/llmstxt/internal/resolver"
	"github.com/your-org/llmstxt/internal/router"
)

// LLMSUsecase связывает роутер, хранилище контента и настройки.
// Главные задачи:
// 1. Ответ на входящий запрос (индекс, Markdown-вариант, редирект или пропуск).
// 2. Контроль нагрузки (Rate Limiting) на генерацию.
// 3. Статический экспорт всех артефактов.
type LLMSUsecase struct {
	repo    domain.ContentRepository
	config  domain.ConfigurationProvider
	router  *router.Router
	metrics *metrics.Metrics
	logger  *zap.Logger

	rateLimiter   *RateLimiter // Семафор для ограничения одновременных генераций
	exportWorkers int
}

// Options задает параметры конкурентности usecase'а
type Options struct {
	MaxConcurrentRenders int
	ExportWorkers        int
}

// RateLimiter: простой ограничитель нагрузки на семафоре.
// Не дает запустить больше N операций одновременно, защищая ресурсы сервера.
type RateLimiter struct {
	semaphore     chan struct{}
	maxConcurrent int
}

// NewRateLimiter создает ограничитель с буфером на maxConcurrent запросов.
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 10
	}
	return &RateLimiter{
		semaphore:     make(chan struct{}, maxConcurrent),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire пытается получить разрешение на работу.
// Если лимит исчерпан, блокируется и ждет, пока кто-то не освободит место.
// Если контекст отменен (например, таймаут запроса), возвращает ошибку.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case rl.semaphore <- struct{}{}:
		return nil
	}
}

// Release освобождает место для следующих запросов.
func (rl *RateLimiter) Release() {
	select {
	case <-rl.semaphore:
	default:
		// Защита от паники при попытке освободить пустой семафор
	}
}

// InFlight возвращает число занятых слотов.
func (rl *RateLimiter) InFlight() int {
	return len(rl.semaphore)
}

// NewLLMSUsecase создает usecase поверх хранилища контента.
// m может быть nil, тогда метрики не пишутся.
func NewLLMSUsecase(
	repo domain.ContentRepository,
	config domain.ConfigurationProvider,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) *LLMSUsecase {
	if opts.ExportWorkers < 1 {
		opts.ExportWorkers = 4
	}

	return &LLMSUsecase{
		repo:          repo,
		config:        config,
		router:        router.New(repo, resolver.New(repo, logger), logger),
		metrics:       m,
		logger:        logger,
		rateLimiter:   NewRateLimiter(opts.MaxConcurrentRenders),
		exportWorkers: opts.ExportWorkers,
	}
}

// Configuration возвращает текущий снимок настроек.
func (u *LLMSUsecase) Configuration() domain.Configuration {
	return u.config.GetConfiguration()
}

// Serve решает, как ответить на запрос.
// Настройки читаются один раз, дальше весь запрос работает с этим снимком.
func (u *LLMSUsecase) Serve(ctx context.Context, req router.Request) (router.Outcome, error) {
	// Ограничение нагрузки перед генерацией
	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return router.Outcome{}, fmt.Errorf("превышен лимит запросов: %w", err)
	}
	defer u.rateLimiter.Release()

	cfg := u.config.GetConfiguration()

	start := time.Now()
	out := u.router.Route(ctx, req, cfg)
	elapsed := time.Since(start)

	u.metrics.RecordResponse(out.Action.String())
	if out.Action == router.Render {
		u.metrics.ObserveRender(out.Kind, elapsed)
	}

	u.logger.Debug("запрос обработан",
		zap.String("path", req.Path),
		zap.String("action", out.Action.String()),
		zap.String("kind", out.Kind),
		zap.Duration("duration", elapsed),
	)

	return out, nil
}

// LookupResource ищет опубликованный документ по пути запроса.
func (u *LLMSUsecase) LookupResource(ctx context.Context, path string) (*domain.Document, error) {
	return u.repo.GetDocumentByPath(ctx, path)
}

// AlternateLink возвращает адрес Markdown-варианта для обычной страницы path.
func (u *LLMSUsecase) AlternateLink(ctx context.Context, path string) (string, bool) {
	doc, err := u.repo.GetDocumentByPath(ctx, path)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			u.logger.Warn("не удалось найти документ для ссылки",
				zap.String("path", path),
				zap.Error(err),
			)
		}
		return "", false
	}
	return router.AlternateLink(u.config.GetConfiguration(), doc)
}

// RenderArtifact отдает документ, который сервер вернул бы на GET path.
// Редиректы и пропуски дают (nil, nil). Реализует processor.Renderer.
func (u *LLMSUsecase) RenderArtifact(ctx context.Context, path string) (*domain.RenderedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := u.router.Route(ctx, router.Request{Path: path}, u.config.GetConfiguration())
	if out.Action != router.Render {
		return nil, nil
	}
	return out.Document, nil
}

// ManifestEntry описывает один записанный файл экспорта
type ManifestEntry struct {
	Path   string
	File   string
	Bytes  int
	Tokens int
}

// Manifest: результат экспорта в порядке целей
type Manifest struct {
	Entries []ManifestEntry
	Skipped []string
}

// ExportTargets перечисляет пути, которые отдает сервер:
// корневой индекс, индексы областей и Markdown-варианты включенных типов.
func (u *LLMSUsecase) ExportTargets(ctx context.Context) ([]string, error) {
	cfg := u.config.GetConfiguration()

	targets := []string{"/" + header.IndexFile}
	seen := map[string]struct{}{targets[0]: {}}
	add := func(p string) {
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		targets = append(targets, p)
	}

	scoped, err := u.repo.ListScopedDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("список областей: %w", err)
	}
	for _, s := range scoped {
		if parent := domain.CleanParent(s.OutputParent); parent != "" {
			add("/" + parent + "/" + header.IndexFile)
		}
	}

	if !cfg.MarkdownEnabled {
		return targets, nil
	}

	for _, docType := range cfg.IncludedTypes {
		docs, err := u.repo.ListDocuments(ctx, docType, 0)
		if err != nil {
			return nil, fmt.Errorf("список документов %s: %w", docType, err)
		}
		for _, d := range docs {
			if p := domain.CleanPath(d.Path); p != "/" {
				add(p + resolver.MarkdownSuffix)
			}
		}
	}

	return targets, nil
}

// Export рендерит все цели на пуле воркеров и пишет их в outDir.
// Порядок манифеста совпадает с порядком целей. Ошибки отдельных
// файлов не прерывают экспорт, они собираются в общую ошибку.
func (u *LLMSUsecase) Export(ctx context.Context, outDir string) (*Manifest, error) {
	targets, err := u.ExportTargets(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*domain.ArtifactJob, len(targets))
	for i, t := range targets {
		jobs[i] = &domain.ArtifactJob{Path: t}
	}

	proc := processor.NewArtifactProcessor(u.exportWorkers, len(jobs), u, u.logger)
	proc.Start()
	defer proc.Stop()

	artifacts, err := proc.ProcessArtifacts(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("ошибка рендеринга: %w", err)
	}

	cpt := u.config.GetConfiguration().CharsPerToken
	manifest := &Manifest{}
	var errs []error

	for _, a := range artifacts {
		switch a.Status {
		case domain.ArtifactStatusSkipped:
			manifest.Skipped = append(manifest.Skipped, a.Job.Path)
			continue
		case domain.ArtifactStatusFailed:
			errs = append(errs, fmt.Errorf("%s: %w", a.Job.Path, a.Error))
			continue
		}

		file, err := artifactFile(outDir, a.Job.Path)
		if err != nil {
			u.logger.Warn("цель экспорта вне каталога", zap.String("path", a.Job.Path))
			manifest.Skipped = append(manifest.Skipped, a.Job.Path)
			continue
		}
		if err := writeArtifact(file, a.Document.Body); err != nil {
			errs = append(errs, err)
			continue
		}

		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Path:   a.Job.Path,
			File:   file,
			Bytes:  len(a.Document.Body),
			Tokens: router.EstimateTokens(a.Document.Body, cpt),
		})
	}

	u.logger.Info("экспорт завершен",
		zap.String("dir", outDir),
		zap.Int("записано", len(manifest.Entries)),
		zap.Int("пропущено", len(manifest.Skipped)),
		zap.Int("ошибок", len(errs)),
	)

	return manifest, errors.Join(errs...)
}

// artifactFile переводит путь цели в файл внутри outDir.
// Цели, которые выходят за пределы outDir, отклоняются.
func artifactFile(outDir, target string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(target, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("путь %q выходит за пределы каталога экспорта", target)
	}
	return filepath.Join(outDir, rel), nil
}

func writeArtifact(file, body string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("создание каталога для %s: %w", file, err)
	}
	if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
		return fmt.Errorf("запись %s: %w", file, err)
	}
	return nil
}

var _ processor.Renderer = (*LLMSUsecase)(nil)
