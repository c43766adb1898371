package client

import (
	"sync"
	"time"
)

// AckBatcher collects acknowledgement ids and flushes them as one batch after
// a short debounce window, so a burst of incoming messages costs one ack
// round-trip instead of one per message. A batch reaching maxBatch flushes
// immediately.
type AckBatcher struct {
	mu       sync.Mutex
	pending  []string
	timer    *time.Timer
	debounce time.Duration
	maxBatch int
	flush    func(ids []string)
}

func NewAckBatcher(debounce time.Duration, maxBatch int, flush func(ids []string)) *AckBatcher {
	return &AckBatcher{
		debounce: debounce,
		maxBatch: maxBatch,
		flush:    flush,
	}
}

func (b *AckBatcher) Add(clientMessageID string) {
	b.mu.Lock()

	b.pending = append(b.pending, clientMessageID)
	if len(b.pending) >= b.maxBatch {
		batch := b.take()
		b.mu.Unlock()
		b.flush(batch)
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, b.Flush)
	}
	b.mu.Unlock()
}

// Flush sends whatever is pending now. Safe to call at any time, including
// on shutdown.
func (b *AckBatcher) Flush() {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}

func (b *AckBatcher) take() []string {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = nil
	return batch
}
