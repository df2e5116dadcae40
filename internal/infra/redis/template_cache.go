package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"daily-quiz-composer/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// TemplateLoader fetches the latest template from the backing store.
type TemplateLoader interface {
	LatestTemplate(ctx context.Context, quizID string) (domain.Template, error)
}

// putScript stores a template unless the cached version is newer, so a slow
// store read cannot overwrite a template published while it was in flight.
var putScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[1], "body", ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
else
	redis.call("PERSIST", KEYS[1])
end
return 1
`)

// TemplateCache keeps the latest template of each quiz in Redis and falls
// back to the loader on a miss.
// Templates are stored as: HSET daily:template:{quizID} version {n} body {json}
type TemplateCache struct {
	client *redis.Client
	loader TemplateLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewTemplateCache(client *redis.Client, loader TemplateLoader, ttl time.Duration) *TemplateCache {
	return &TemplateCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *TemplateCache) GetTemplate(ctx context.Context, quizID string) (domain.Template, error) {
	if tmpl, ok := c.lookup(ctx, quizID); ok {
		return tmpl, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if tmpl, ok := c.lookup(ctx, quizID); ok {
			return tmpl, nil
		}
		tmpl, err := c.loader.LatestTemplate(ctx, quizID)
		if err != nil {
			return domain.Template{}, err
		}
		_ = c.Put(ctx, tmpl)
		return tmpl, nil
	})
	if err != nil {
		return domain.Template{}, err
	}
	return result.(domain.Template), nil
}

// Put writes tmpl as the latest template of its quiz unless a newer version
// is already cached.
func (c *TemplateCache) Put(ctx context.Context, tmpl domain.Template) error {
	raw, err := json.Marshal(tmpl)
	if err != nil {
		return err
	}
	ttl := c.ttlWithJitter().Milliseconds()
	return putScript.Run(ctx, c.client, []string{c.key(tmpl.QuizID)}, tmpl.Version, string(raw), ttl).Err()
}

func (c *TemplateCache) Invalidate(ctx context.Context, quizID string) error {
	return c.client.Del(ctx, c.key(quizID)).Err()
}

func (c *TemplateCache) lookup(ctx context.Context, quizID string) (domain.Template, bool) {
	raw, err := c.client.HGet(ctx, c.key(quizID), "body").Bytes()
	if err != nil {
		return domain.Template{}, false
	}
	var tmpl domain.Template
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		return domain.Template{}, false
	}
	return tmpl, true
}

func (c *TemplateCache) key(quizID string) string {
	return "daily:template:" + quizID
}

func (c *TemplateCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func isMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
