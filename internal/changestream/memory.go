package changestream

import (
	"context"
	"sync"
)

const bufferSize = 256

// MemoryStream fans changes out inside one process.
type MemoryStream struct {
	mu   sync.RWMutex
	subs map[*memorySubscription]struct{}
}

func NewMemoryStream() *MemoryStream {
	return &MemoryStream{subs: make(map[*memorySubscription]struct{})}
}

func (m *MemoryStream) Subscribe(_ context.Context, filter Filter) (Subscription, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		stream: m,
		filter: filter,
		out:    make(chan Change, bufferSize),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	return sub, nil
}

// Publish blocks until every matching subscriber has buffered the change,
// the subscriber closes, or ctx ends.
func (m *MemoryStream) Publish(ctx context.Context, change Change) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for sub := range m.subs {
		if !sub.filter.matches(change) {
			continue
		}
		select {
		case sub.out <- change:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *MemoryStream) remove(sub *memorySubscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
}

type memorySubscription struct {
	stream *MemoryStream
	filter Filter
	out    chan Change
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscription) Changes() <-chan Change {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.stream.remove(s)
		close(s.out)
	})
	return nil
}
