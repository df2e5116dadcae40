package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"daily-quiz-composer/internal/domain"
	"golang.org/x/sync/singleflight"
)

// TemplateLoader fetches the latest template from the backing store.
type TemplateLoader interface {
	LatestTemplate(ctx context.Context, quizID string) (domain.Template, error)
}

// TemplateCache keeps the latest template per quiz with a TTL to avoid
// repeated store hits when players fetch the day's quiz.
type TemplateCache struct {
	loader TemplateLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedTemplate
}

type cachedTemplate struct {
	tmpl      domain.Template
	expiresAt time.Time
}

func NewTemplateCache(loader TemplateLoader, ttl time.Duration) *TemplateCache {
	return NewTemplateCacheWithClock(loader, ttl, time.Now)
}

// NewTemplateCacheWithClock is used by tests to control expiry.
func NewTemplateCacheWithClock(loader TemplateLoader, ttl time.Duration, clock func() time.Time) *TemplateCache {
	return &TemplateCache{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedTemplate),
	}
}

func (c *TemplateCache) GetTemplate(ctx context.Context, quizID string) (domain.Template, error) {
	if tmpl, ok := c.lookup(quizID); ok {
		return tmpl, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		if tmpl, ok := c.lookup(quizID); ok {
			return tmpl, nil
		}
		tmpl, err := c.loader.LatestTemplate(ctx, quizID)
		if err != nil {
			return domain.Template{}, err
		}
		c.store(tmpl)
		return tmpl, nil
	})
	if err != nil {
		return domain.Template{}, err
	}
	return result.(domain.Template), nil
}

// Put replaces the cached template unless a newer version is already cached.
func (c *TemplateCache) Put(_ context.Context, tmpl domain.Template) error {
	c.store(tmpl)
	return nil
}

func (c *TemplateCache) Invalidate(_ context.Context, quizID string) error {
	c.mu.Lock()
	delete(c.cache, quizID)
	c.mu.Unlock()
	return nil
}

func (c *TemplateCache) lookup(quizID string) (domain.Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Template{}, false
	}
	return entry.tmpl, true
}

func (c *TemplateCache) store(tmpl domain.Template) {
	expiresAt := c.clock().Add(c.ttlWithJitter())
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cache[tmpl.QuizID]; ok && existing.tmpl.Version > tmpl.Version && existing.expiresAt.After(c.clock()) {
		return
	}
	c.cache[tmpl.QuizID] = cachedTemplate{tmpl: tmpl, expiresAt: expiresAt}
}

func (c *TemplateCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
