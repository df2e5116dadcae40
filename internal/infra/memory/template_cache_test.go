package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"daily-quiz-composer/internal/domain"
)

func TestTemplateCacheCaches(t *testing.T) {
	loader := &countingLoader{templates: map[string]domain.Template{"quiz-1": sampleTemplate(1)}}
	cache := NewTemplateCache(loader, time.Minute)

	if _, err := cache.GetTemplate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get template: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := cache.GetTemplate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get template 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestTemplateCacheExpires(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	loader := &countingLoader{templates: map[string]domain.Template{"quiz-1": sampleTemplate(1)}}
	cache := NewTemplateCacheWithClock(loader, time.Minute, func() time.Time { return now })

	if _, err := cache.GetTemplate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get template: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cache.GetTemplate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get template after expiry: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls)
	}
}

func TestTemplateCacheKeepsNewestVersion(t *testing.T) {
	loader := &countingLoader{templates: map[string]domain.Template{}}
	cache := NewTemplateCache(loader, time.Minute)
	ctx := context.Background()

	_ = cache.Put(ctx, sampleTemplate(3))
	_ = cache.Put(ctx, sampleTemplate(2))
	got, err := cache.GetTemplate(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if got.Version != 3 {
		t.Fatalf("expected version 3 to win, got %d", got.Version)
	}

	_ = cache.Invalidate(ctx, "quiz-1")
	if _, err := cache.GetTemplate(ctx, "quiz-1"); !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected not found after invalidate, got %v", err)
	}
}

func TestTemplateCacheCoalescesLoads(t *testing.T) {
	loader := &countingLoader{
		templates: map[string]domain.Template{"quiz-1": sampleTemplate(1)},
		delay:     20 * time.Millisecond,
	}
	cache := NewTemplateCache(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetTemplate(context.Background(), "quiz-1"); err != nil {
				t.Errorf("get template: %v", err)
			}
		}()
	}
	wg.Wait()
	if loader.count() > 2 {
		t.Fatalf("expected concurrent misses to share a load, loader calls %d", loader.count())
	}
}

type countingLoader struct {
	mu        sync.Mutex
	templates map[string]domain.Template
	delay     time.Duration
	calls     int
}

func (l *countingLoader) LatestTemplate(_ context.Context, quizID string) (domain.Template, error) {
	l.mu.Lock()
	l.calls++
	tmpl, ok := l.templates[quizID]
	l.mu.Unlock()
	time.Sleep(l.delay)
	if !ok {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	return tmpl, nil
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleTemplate(version int) domain.Template {
	return domain.Template{
		QuizID:      "quiz-1",
		Version:     version,
		URL:         "https://cdn.example.com/daily/quiz-1/v1.json",
		Payload:     []byte(`{"quizId":"quiz-1"}`),
		ContentHash: "abc",
		ContentSize: 19,
	}
}
