package memory

import (
	"context"
	"sync"
	"time"

	"daily-quiz-composer/internal/domain"
)

// DropLocker serialises composers for the same drop time within one process.
type DropLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewDropLocker() *DropLocker {
	return &DropLocker{held: make(map[int64]struct{})}
}

func (l *DropLocker) Acquire(_ context.Context, dropAt time.Time) (func(context.Context) error, error) {
	key := dropAt.UTC().Unix()
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, domain.ErrCompositionInProgress
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
