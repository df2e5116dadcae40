package redis

import (
	"context"
	"strconv"
	"time"

	"daily-quiz-composer/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired holder cannot release a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DropLocker serialises composers for the same drop time across instances.
// Locks are stored as: SET daily:lock:{unix} {token} NX PX ttl
type DropLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDropLocker(client *redis.Client, ttl time.Duration) *DropLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DropLocker{client: client, ttl: ttl}
}

func (l *DropLocker) Acquire(ctx context.Context, dropAt time.Time) (func(context.Context) error, error) {
	key := l.key(dropAt)
	token := ulid.Make().String()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, domain.Internal("acquire drop lock", err)
	}
	if !ok {
		return nil, domain.ErrCompositionInProgress
	}
	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		if isMiss(err) {
			return nil
		}
		return err
	}, nil
}

func (l *DropLocker) key(dropAt time.Time) string {
	return "daily:lock:" + strconv.FormatInt(dropAt.UTC().Unix(), 10)
}
