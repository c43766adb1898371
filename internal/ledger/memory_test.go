package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"sealdrop/internal/model"
)

func testEnvelope(sender, recipient, id string, ts int64) model.Envelope {
	return model.Envelope{
		ClientMessageID: id,
		SenderUID:       sender,
		RecipientUID:    recipient,
		Ciphertext:      []byte("ct-" + id),
		Nonce:           []byte("n"),
		SenderPublicKey: []byte("pk"),
		ServerTimestamp: ts,
	}
}

// runLedgerSuite exercises the Ledger contract shared by every backend.
func runLedgerSuite(t *testing.T, newLedger func(t *testing.T) Ledger) {
	ctx := context.Background()

	t.Run("AppendIdempotence", func(t *testing.T) {
		l := newLedger(t)
		if err := l.Append(ctx, testEnvelope("a", "b", "m1", 100)); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := l.Append(ctx, testEnvelope("a", "b", "m1", 101)); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		pending, err := l.PendingFor(ctx, "b")
		if err != nil {
			t.Fatalf("PendingFor: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("expected exactly 1 entry, got %d", len(pending))
		}

		// Same clientMessageId from a different sender is a new message; both
		// envelopes must stay pending side by side.
		if err := l.Append(ctx, testEnvelope("c", "b", "m1", 102)); err != nil {
			t.Fatalf("Append from other sender: %v", err)
		}
		pending, err = l.PendingFor(ctx, "b")
		if err != nil {
			t.Fatalf("PendingFor: %v", err)
		}
		if len(pending) != 2 {
			t.Fatalf("expected both senders' envelopes pending, got %d: %+v", len(pending), pending)
		}
		if pending[0].SenderUID != "a" || pending[1].SenderUID != "c" {
			t.Fatalf("unexpected senders in mailbox: %+v", pending)
		}

		// The recipient acks by id alone, which covers every sender's copy.
		count, err := l.Acknowledge(ctx, "b", []string{"m1"})
		if err != nil || count != 2 {
			t.Fatalf("expected ack to purge both copies, count=%d err=%v", count, err)
		}
		pending, _ = l.PendingFor(ctx, "b")
		if len(pending) != 0 {
			t.Fatalf("expected empty mailbox after ack, got %+v", pending)
		}
	})

	t.Run("Ordering", func(t *testing.T) {
		l := newLedger(t)
		for _, ts := range []int64{300, 100, 200} {
			env := testEnvelope("a", "b", fmt.Sprintf("m%d", ts), ts)
			if err := l.Append(ctx, env); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		pending, err := l.PendingFor(ctx, "b")
		if err != nil {
			t.Fatalf("PendingFor: %v", err)
		}
		if len(pending) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(pending))
		}
		for i := 1; i < len(pending); i++ {
			if pending[i].ServerTimestamp < pending[i-1].ServerTimestamp {
				t.Fatalf("out of order at %d: %+v", i, pending)
			}
		}
	})

	t.Run("AcknowledgePurges", func(t *testing.T) {
		l := newLedger(t)
		_ = l.Append(ctx, testEnvelope("a", "b", "m1", 100))
		_ = l.Append(ctx, testEnvelope("a", "b", "m2", 200))

		count, err := l.Acknowledge(ctx, "b", []string{"m1", "never-existed"})
		if err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 purged, got %d", count)
		}

		pending, _ := l.PendingFor(ctx, "b")
		if len(pending) != 1 || pending[0].ClientMessageID != "m2" {
			t.Fatalf("unexpected pending after ack: %+v", pending)
		}

		// Idempotent re-ack.
		count, err = l.Acknowledge(ctx, "b", []string{"m1"})
		if err != nil || count != 0 {
			t.Fatalf("expected no-op re-ack, got count=%d err=%v", count, err)
		}
	})

	t.Run("DuplicateAfterAck", func(t *testing.T) {
		l := newLedger(t)
		_ = l.Append(ctx, testEnvelope("a", "b", "m1", 100))
		if _, err := l.Acknowledge(ctx, "b", []string{"m1"}); err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}

		// Client retry after the recipient already acknowledged: still a
		// duplicate, nothing is redelivered.
		if err := l.Append(ctx, testEnvelope("a", "b", "m1", 300)); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate after ack, got %v", err)
		}
		pending, _ := l.PendingFor(ctx, "b")
		if len(pending) != 0 {
			t.Fatalf("expected empty mailbox, got %+v", pending)
		}
	})

	t.Run("SweepExpired", func(t *testing.T) {
		l := newLedger(t)
		_ = l.Append(ctx, testEnvelope("a", "b", "old1", 100))
		_ = l.Append(ctx, testEnvelope("a", "b", "old2", 200))
		_ = l.Append(ctx, testEnvelope("a", "b", "fresh", 900))
		_ = l.Append(ctx, testEnvelope("a", "c", "other", 150))

		removed, err := l.SweepExpired(ctx, 500)
		if err != nil {
			t.Fatalf("SweepExpired: %v", err)
		}
		if removed != 3 {
			t.Fatalf("expected 3 removed, got %d", removed)
		}

		pending, _ := l.PendingFor(ctx, "b")
		if len(pending) != 1 || pending[0].ClientMessageID != "fresh" {
			t.Fatalf("unexpected pending after sweep: %+v", pending)
		}
		pending, _ = l.PendingFor(ctx, "c")
		if len(pending) != 0 {
			t.Fatalf("expected swept mailbox for c, got %+v", pending)
		}
	})

	t.Run("RecipientIsolation", func(t *testing.T) {
		l := newLedger(t)
		_ = l.Append(ctx, testEnvelope("a", "b", "m1", 100))
		_ = l.Append(ctx, testEnvelope("a", "c", "m2", 100))

		if _, err := l.Acknowledge(ctx, "b", []string{"m2"}); err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
		pending, _ := l.PendingFor(ctx, "c")
		if len(pending) != 1 {
			t.Fatalf("ack for b must not touch c's mailbox: %+v", pending)
		}
	})
}

func TestMemoryLedger_Contract(t *testing.T) {
	runLedgerSuite(t, func(t *testing.T) Ledger { return NewMemoryLedger() })
}

func TestMemoryLedger_ConcurrentAppendOrdering(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ts := int64(worker*1000 + j)
				env := testEnvelope(fmt.Sprintf("s%d", worker), "b", fmt.Sprintf("m-%d-%d", worker, j), ts)
				if err := l.Append(ctx, env); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	pending, err := l.PendingFor(ctx, "b")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 400 {
		t.Fatalf("expected 400 entries, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].ServerTimestamp < pending[i-1].ServerTimestamp {
			t.Fatalf("timestamps out of order at %d", i)
		}
	}
}
