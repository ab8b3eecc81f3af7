package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/domain"
)

// DefaultTimeout bounds a single ProcessArtifacts call
const DefaultTimeout = 5 * time.Minute

// ErrStopped is returned when the processor is stopped before all jobs finish
var ErrStopped = errors.New("processor stopped")

// Renderer produces the document served at a request path. A nil document
// with a nil error means the path does not render and is skipped.
type Renderer interface {
	RenderArtifact(ctx context.Context, path string) (*domain.RenderedDocument, error)
}

// RenderFunc adapts a function to Renderer
type RenderFunc func(ctx context.Context, path string) (*domain.RenderedDocument, error)

func (f RenderFunc) RenderArtifact(ctx context.Context, path string) (*domain.RenderedDocument, error) {
	return f(ctx, path)
}

// task carries its own result channel so concurrent batches never mix
type task struct {
	ctx     context.Context
	index   int
	job     *domain.ArtifactJob
	results chan<- *result
}

type result struct {
	index    int
	document *domain.RenderedDocument
	err      error
}

// OrderedProcessor implements domain.ArtifactProcessor with a worker pool and order preservation
type OrderedProcessor struct {
	workers    int
	inputQueue chan *task
	renderer   Renderer
	timeout    time.Duration
	wg         sync.WaitGroup
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc

	startOnce    sync.Once
	shutdownOnce sync.Once
}

// NewArtifactProcessor creates a new ordered processor with a worker pool
func NewArtifactProcessor(workers int, queueSize int, renderer Renderer, logger *zap.Logger) *OrderedProcessor {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &OrderedProcessor{
		workers:    workers,
		inputQueue: make(chan *task, queueSize),
		renderer:   renderer,
		timeout:    DefaultTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// WithTimeout overrides DefaultTimeout
func (p *OrderedProcessor) WithTimeout(d time.Duration) *OrderedProcessor {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// Start starts the worker pool
func (p *OrderedProcessor) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}

		p.logger.Info("ordered processor started",
			zap.Int("workers", p.workers),
		)
	})
}

// Stop stops the worker pool. Pending batches return ErrStopped.
func (p *OrderedProcessor) Stop() {
	p.shutdownOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Info("ordered processor stopped")
	})
}

// ProcessArtifacts renders jobs while preserving order (implements domain.ArtifactProcessor)
func (p *OrderedProcessor) ProcessArtifacts(ctx context.Context, jobs []*domain.ArtifactJob) ([]*domain.Artifact, error) {
	if len(jobs) == 0 {
		return []*domain.Artifact{}, nil
	}

	processCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// buffered for the whole batch so workers never block on an abandoned call
	results := make(chan *result, len(jobs))

	go func() {
		for i, job := range jobs {
			t := &task{ctx: processCtx, index: i, job: job, results: results}
			select {
			case <-processCtx.Done():
				return
			case <-p.ctx.Done():
				return
			case p.inputQueue <- t:
			}
		}
	}()

	collected := make([]*result, len(jobs))
	for n := 0; n < len(jobs); n++ {
		select {
		case <-processCtx.Done():
			return nil, processCtx.Err()
		case <-p.ctx.Done():
			return nil, ErrStopped
		case r := <-results:
			collected[r.index] = r
		}
	}

	artifacts := make([]*domain.Artifact, len(jobs))
	for i, job := range jobs {
		r := collected[i]
		switch {
		case r.err != nil:
			artifacts[i] = &domain.Artifact{Job: job, Status: domain.ArtifactStatusFailed, Error: r.err}
		case r.document == nil:
			artifacts[i] = &domain.Artifact{Job: job, Status: domain.ArtifactStatusSkipped}
		default:
			artifacts[i] = &domain.Artifact{Job: job, Document: r.document, Status: domain.ArtifactStatusRendered}
		}
	}

	return artifacts, nil
}

// worker processes tasks from the input queue
func (p *OrderedProcessor) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("worker stopping due to shutdown",
				zap.Int("worker_id", id),
			)
			return
		case t := <-p.inputQueue:
			if t.ctx.Err() != nil {
				// the batch was abandoned
				continue
			}
			t.results <- p.render(id, t)
		}
	}
}

func (p *OrderedProcessor) render(workerID int, t *task) (r *result) {
	start := time.Now()
	r = &result{index: t.index}

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("panic while rendering artifact",
				zap.String("path", t.job.Path),
				zap.Any("panic", rec),
			)
			r.err = errors.New("render panicked")
		}
	}()

	r.document, r.err = p.renderer.RenderArtifact(t.ctx, t.job.Path)

	p.logger.Debug("artifact rendered",
		zap.Int("worker_id", workerID),
		zap.String("path", t.job.Path),
		zap.Bool("skipped", r.document == nil && r.err == nil),
		zap.Duration("duration", time.Since(start)),
	)
	return r
}

// Verify that OrderedProcessor implements domain.ArtifactProcessor interface
var _ domain.ArtifactProcessor = (*OrderedProcessor)(nil)
