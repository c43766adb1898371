package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"sealdrop/internal/model"
)

// MemoryLedger partitions mailboxes per recipient so appends for different
// recipients never contend on one lock. The dedupe index is global because
// the (senderUid, clientMessageId) key is not scoped to a recipient.
type MemoryLedger struct {
	dedupeMu sync.Mutex
	dedupe   map[string]int64 // dedupe key -> serverTimestamp millis

	boxesMu sync.RWMutex
	boxes   map[string]*mailbox
}

type mailbox struct {
	mu      sync.Mutex
	entries []model.Envelope // sorted by ServerTimestamp ascending
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		dedupe: make(map[string]int64),
		boxes:  make(map[string]*mailbox),
	}
}

func dedupeKey(senderUID, clientMessageID string) string {
	return senderUID + "\x00" + clientMessageID
}

func (l *MemoryLedger) box(recipientUID string) *mailbox {
	l.boxesMu.RLock()
	b, ok := l.boxes[recipientUID]
	l.boxesMu.RUnlock()
	if ok {
		return b
	}

	l.boxesMu.Lock()
	defer l.boxesMu.Unlock()
	if b, ok = l.boxes[recipientUID]; ok {
		return b
	}
	b = &mailbox{}
	l.boxes[recipientUID] = b
	return b
}

func (l *MemoryLedger) Append(ctx context.Context, env model.Envelope) error {
	if env.ClientMessageID == "" || env.SenderUID == "" || env.RecipientUID == "" {
		return errors.New("incomplete envelope")
	}

	key := dedupeKey(env.SenderUID, env.ClientMessageID)
	l.dedupeMu.Lock()
	if _, seen := l.dedupe[key]; seen {
		l.dedupeMu.Unlock()
		return ErrDuplicate
	}
	l.dedupe[key] = env.ServerTimestamp
	l.dedupeMu.Unlock()

	b := l.box(env.RecipientUID)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Appends arrive roughly in timestamp order; fix up the tail when two
	// concurrent senders interleave.
	b.entries = append(b.entries, env)
	for i := len(b.entries) - 1; i > 0 && b.entries[i].ServerTimestamp < b.entries[i-1].ServerTimestamp; i-- {
		b.entries[i], b.entries[i-1] = b.entries[i-1], b.entries[i]
	}
	return nil
}

func (l *MemoryLedger) PendingFor(ctx context.Context, recipientUID string) ([]model.Envelope, error) {
	b := l.box(recipientUID)
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.Envelope, len(b.entries))
	copy(out, b.entries)
	return out, nil
}

func (l *MemoryLedger) Acknowledge(ctx context.Context, recipientUID string, clientMessageIDs []string) (int, error) {
	if len(clientMessageIDs) == 0 {
		return 0, nil
	}
	wanted := make(map[string]struct{}, len(clientMessageIDs))
	for _, id := range clientMessageIDs {
		wanted[id] = struct{}{}
	}

	b := l.box(recipientUID)
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.entries[:0]
	removed := 0
	for _, env := range b.entries {
		if _, ok := wanted[env.ClientMessageID]; ok {
			removed++
			continue
		}
		kept = append(kept, env)
	}
	b.entries = kept
	return removed, nil
}

func (l *MemoryLedger) SweepExpired(ctx context.Context, olderThanMillis int64) (int, error) {
	l.boxesMu.RLock()
	boxes := make([]*mailbox, 0, len(l.boxes))
	for _, b := range l.boxes {
		boxes = append(boxes, b)
	}
	l.boxesMu.RUnlock()

	removed := 0
	for _, b := range boxes {
		b.mu.Lock()
		idx := sort.Search(len(b.entries), func(i int) bool {
			return b.entries[i].ServerTimestamp >= olderThanMillis
		})
		if idx > 0 {
			removed += idx
			b.entries = append(b.entries[:0], b.entries[idx:]...)
		}
		b.mu.Unlock()
	}

	l.dedupeMu.Lock()
	for key, ts := range l.dedupe {
		if ts < olderThanMillis {
			delete(l.dedupe, key)
		}
	}
	l.dedupeMu.Unlock()

	return removed, nil
}
