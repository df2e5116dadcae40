package app

import (
	"sync"

	"daily-quiz-composer/internal/domain"
)

const feedBuffer = 8

// LogFeed fans appended composition logs out to live subscribers.
type LogFeed struct {
	mu          sync.Mutex
	subscribers map[chan domain.CompositionLog]struct{}
}

func NewLogFeed() *LogFeed {
	return &LogFeed{subscribers: make(map[chan domain.CompositionLog]struct{})}
}

// Subscribe returns a channel of new log entries.
// The caller must invoke the returned cancel function to avoid leaks.
func (f *LogFeed) Subscribe() (<-chan domain.CompositionLog, func()) {
	ch := make(chan domain.CompositionLog, feedBuffer)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers entry to every subscriber. A full subscriber loses its
// oldest pending entry instead of blocking the composer.
func (f *LogFeed) Publish(entry domain.CompositionLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- entry:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- entry
		}
	}
}

// Subscribers reports how many subscribers are attached.
func (f *LogFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}
