package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/llmstxt/internal/domain"
)

// echoRenderer renders the path itself after delay. Paths starting with
// /skip are skipped and paths starting with /fail return an error.
func echoRenderer(delay time.Duration) RenderFunc {
	return func(ctx context.Context, path string) (*domain.RenderedDocument, error) {
		time.Sleep(delay)
		switch {
		case strings.HasPrefix(path, "/skip"):
			return nil, nil
		case strings.HasPrefix(path, "/fail"):
			return nil, errors.New("boom")
		}
		return &domain.RenderedDocument{ContentType: "text/plain", Body: path}, nil
	}
}

func jobs(prefix string, n int) []*domain.ArtifactJob {
	out := make([]*domain.ArtifactJob, n)
	for i := range out {
		out[i] = &domain.ArtifactJob{Path: fmt.Sprintf("%s-%d", prefix, i)}
	}
	return out
}

// TestProcessorOrderPreservation tests that processor preserves order
func TestProcessorOrderPreservation(t *testing.T) {
	processor := NewArtifactProcessor(5, 100, echoRenderer(time.Millisecond), zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	input := jobs("/doc", 100)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := processor.ProcessArtifacts(ctx, input)
	require.NoError(t, err)
	require.Len(t, results, 100)

	for i, result := range results {
		assert.Same(t, input[i], result.Job, "order should be preserved at index %d", i)
		assert.Equal(t, domain.ArtifactStatusRendered, result.Status)
		assert.Equal(t, input[i].Path, result.Document.Body)
	}
}

func TestProcessorStatuses(t *testing.T) {
	processor := NewArtifactProcessor(3, 10, echoRenderer(0), zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	results, err := processor.ProcessArtifacts(context.Background(), []*domain.ArtifactJob{
		{Path: "/llms.txt"}, {Path: "/skip.md"}, {Path: "/fail.md"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ArtifactStatusRendered, results[0].Status)
	assert.Equal(t, domain.ArtifactStatusSkipped, results[1].Status)
	assert.Nil(t, results[1].Document)
	assert.Equal(t, domain.ArtifactStatusFailed, results[2].Status)
	assert.EqualError(t, results[2].Error, "boom")
}

func TestProcessorRecoversPanics(t *testing.T) {
	panicky := RenderFunc(func(ctx context.Context, path string) (*domain.RenderedDocument, error) {
		panic("bad template")
	})
	processor := NewArtifactProcessor(1, 1, panicky, zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	results, err := processor.ProcessArtifacts(context.Background(), jobs("/p", 2))
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, domain.ArtifactStatusFailed, r.Status)
	}
}

// TestProcessorConcurrentProcessing tests that concurrent batches never mix results
func TestProcessorConcurrentProcessing(t *testing.T) {
	processor := NewArtifactProcessor(10, 200, echoRenderer(time.Millisecond), zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for batch := 0; batch < 10; batch++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			input := jobs(fmt.Sprintf("/batch-%d", batch), 20)
			results, err := processor.ProcessArtifacts(ctx, input)
			if !assert.NoError(t, err) {
				return
			}
			for i, r := range results {
				assert.Equal(t, input[i].Path, r.Document.Body)
			}
		}(batch)
	}
	wg.Wait()
}

// TestProcessorWorkerPool tests that workers render in parallel
func TestProcessorWorkerPool(t *testing.T) {
	var inFlight, peak atomic.Int32
	renderer := RenderFunc(func(ctx context.Context, path string) (*domain.RenderedDocument, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return &domain.RenderedDocument{Body: path}, nil
	})

	processor := NewArtifactProcessor(5, 50, renderer, zaptest.NewLogger(t))
	processor.Start()
	defer processor.Stop()

	start := time.Now()
	results, err := processor.ProcessArtifacts(context.Background(), jobs("/w", 50))
	duration := time.Since(start)

	require.NoError(t, err)
	require.Len(t, results, 50)

	// sequential would take at least 50 * 10ms
	assert.Less(t, duration, 1*time.Second)
	assert.Greater(t, peak.Load(), int32(1))
	assert.LessOrEqual(t, peak.Load(), int32(5))
}

func TestProcessorEmptyInput(t *testing.T) {
	processor := NewArtifactProcessor(1, 1, echoRenderer(0), zaptest.NewLogger(t))

	results, err := processor.ProcessArtifacts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessorTimeout(t *testing.T) {
	processor := NewArtifactProcessor(1, 10, echoRenderer(200*time.Millisecond), zaptest.NewLogger(t)).
		WithTimeout(50 * time.Millisecond)
	processor.Start()
	defer processor.Stop()

	_, err := processor.ProcessArtifacts(context.Background(), jobs("/slow", 5))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestProcessorGracefulShutdown tests graceful shutdown
func TestProcessorGracefulShutdown(t *testing.T) {
	processor := NewArtifactProcessor(2, 100, echoRenderer(5*time.Millisecond), zaptest.NewLogger(t))
	processor.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := processor.ProcessArtifacts(ctx, jobs("/shutdown", 100))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	processor.Stop()
	processor.Stop()

	select {
	case err := <-done:
		if err != nil {
			assert.ErrorIs(t, err, ErrStopped)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not shutdown gracefully")
	}
}
