package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/eventops/knowledge-service/internal/config"
	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/pkg/logger"
)

// fakeModel returns a deterministic vector per text so positional order can
// be verified, and can inject failures for the first N calls.
type fakeModel struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	failWith  error
}

func (m *fakeModel) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *fakeModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	fail := m.calls <= m.failFirst
	m.mu.Unlock()

	if fail {
		return nil, m.failWith
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = vectorFor(text)
	}
	return vectors, nil
}

func vectorFor(text string) []float32 {
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, float32(len(text))}
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestClient(model *fakeModel, batchSize, maxRetries, concurrency int) *BatchClient {
	cfg := &config.EmbeddingConfig{
		BatchSize:   batchSize,
		MaxRetries:  maxRetries,
		Concurrency: concurrency,
	}
	return NewBatchClient(model, cfg, nil, logger.New("test", "", ""))
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	model := &fakeModel{}
	client := newTestClient(model, 3, 0, 2)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk number %d", i)
	}

	vectors, err := client.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, text := range texts {
		want := vectorFor(text)
		if vectors[i][0] != want[0] || vectors[i][1] != want[1] {
			t.Errorf("vector %d = %v, want %v", i, vectors[i], want)
		}
	}
}

func TestEmbedBatchSplitsIntoBatches(t *testing.T) {
	model := &fakeModel{}
	client := newTestClient(model, 4, 0, 1)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}
	if _, err := client.EmbedBatch(context.Background(), texts); err != nil {
		t.Fatal(err)
	}
	if got := model.callCount(); got != 3 {
		t.Errorf("provider called %d times for 10 texts with batch size 4, want 3", got)
	}
}

func TestEmbedBatchRetriesTransientErrors(t *testing.T) {
	model := &fakeModel{failFirst: 2, failWith: kberr.ErrRateLimited}
	client := newTestClient(model, 10, 3, 1)

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("expected recovery after transient failures, got %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if got := model.callCount(); got != 3 {
		t.Errorf("provider called %d times, want 3 (2 failures + 1 success)", got)
	}
}

func TestEmbedBatchExhaustsRetries(t *testing.T) {
	model := &fakeModel{failFirst: 100, failWith: kberr.ErrProviderUnavailable}
	client := newTestClient(model, 10, 2, 1)

	_, err := client.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, kberr.ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
	if got := model.callCount(); got != 3 {
		t.Errorf("provider called %d times, want 3 (initial + 2 retries)", got)
	}
}

func TestEmbedBatchDoesNotRetryPermanentErrors(t *testing.T) {
	model := &fakeModel{failFirst: 100, failWith: kberr.ErrInvalidInput}
	client := newTestClient(model, 10, 3, 1)

	_, err := client.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, kberr.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	if got := model.callCount(); got != 1 {
		t.Errorf("provider called %d times, want 1 (no retry on permanent error)", got)
	}
}

func TestEmbedBatchWholeCallFailsOnAnyBatchFailure(t *testing.T) {
	// First provider call fails permanently; with batch size 1 every text is
	// its own batch and the whole call must still fail.
	model := &fakeModel{failFirst: 1, failWith: kberr.ErrInvalidInput}
	client := newTestClient(model, 1, 0, 1)

	texts := []string{"a", "b", "c"}
	if _, err := client.EmbedBatch(context.Background(), texts); err == nil {
		t.Fatal("expected error when one batch fails")
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	client := newTestClient(&fakeModel{}, 10, 0, 1)
	vectors, err := client.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if vectors != nil {
		t.Errorf("got %v, want nil for empty input", vectors)
	}
}

func TestEmbedSingleText(t *testing.T) {
	client := newTestClient(&fakeModel{}, 10, 0, 1)
	vector, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	want := vectorFor("hello")
	if vector[0] != want[0] || vector[1] != want[1] {
		t.Errorf("Embed = %v, want %v", vector, want)
	}
}
