package applog

import (
	"sync"
)

const subscriberQueue = 256

// Broadcaster is an io.Writer that copies every write to all current
// subscribers. Writes never block: a subscriber that falls behind loses lines
// and its Dropped count grows.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

type Subscription struct {
	C <-chan []byte

	ch      chan []byte
	b       *Broadcaster
	once    sync.Once
	mu      sync.Mutex
	dropped uint64
}

// Subscribe registers a new subscriber. Callers must Close it when done.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan []byte, subscriberQueue)
	s := &Subscription{C: ch, ch: ch, b: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return len(p), nil
	}
	line := append([]byte(nil), p...)
	for s := range b.subs {
		select {
		case s.ch <- line:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	}
	return len(p), nil
}

// Dropped reports how many writes this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		close(s.ch)
		s.b.mu.Unlock()
	})
}
