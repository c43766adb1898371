package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"sealdrop/internal/ledger"
	"sealdrop/internal/model"
	"sealdrop/internal/protocol"
	"sealdrop/internal/registry"
)

type framePusher struct {
	frames []protocol.Frame
	closed bool
	fail   bool
}

func (p *framePusher) Push(frame []byte) error {
	if p.fail {
		return errors.New("push failed")
	}
	var f protocol.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	p.frames = append(p.frames, f)
	return nil
}

func (p *framePusher) Close() error {
	p.closed = true
	return nil
}

type failingLedger struct {
	ledger.Ledger
}

func (failingLedger) Append(ctx context.Context, env model.Envelope) error {
	return errors.New("backend down")
}

func newTestEngine() (*Engine, *registry.Registry) {
	reg := registry.New()
	eng := NewEngine(ledger.NewMemoryLedger(), reg, zap.NewNop())
	return eng, reg
}

func validEnvelope(sender, recipient, id string) model.Envelope {
	return model.Envelope{
		ClientMessageID: id,
		SenderUID:       sender,
		RecipientUID:    recipient,
		Ciphertext:      []byte("ct"),
		Nonce:           []byte("n"),
		SenderPublicKey: []byte("pk"),
	}
}

func TestEngine_SendFansOutToAllLiveSessions(t *testing.T) {
	eng, reg := newTestEngine()
	ctx := context.Background()

	p1 := &framePusher{}
	p2 := &framePusher{}
	reg.Register(&registry.Session{UID: "bob", Conn: p1})
	reg.Register(&registry.Session{UID: "bob", Conn: p2})

	stored, err := eng.Send(ctx, "alice", validEnvelope("alice", "bob", "m1"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if stored.ServerTimestamp == 0 {
		t.Fatalf("expected server timestamp to be stamped")
	}
	if len(p1.frames) != 1 || len(p2.frames) != 1 {
		t.Fatalf("expected push to both sessions, got %d and %d", len(p1.frames), len(p2.frames))
	}
	if p1.frames[0].Type != protocol.TypeMessage || p1.frames[0].ClientMessageID != "m1" {
		t.Fatalf("unexpected push frame: %+v", p1.frames[0])
	}

	// Fan-out does not remove the ledger copy; only an ack does.
	pending, err := eng.ledger.PendingFor(ctx, "bob")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected envelope still pending after fan-out, got %d", len(pending))
	}
}

func TestEngine_SendValidation(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	env := validEnvelope("alice", "bob", "m1")
	env.Ciphertext = nil
	if _, err := eng.Send(ctx, "alice", env); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}

	if _, err := eng.Send(ctx, "mallory", validEnvelope("alice", "bob", "m2")); !errors.Is(err, ErrSenderMismatch) {
		t.Fatalf("expected ErrSenderMismatch, got %v", err)
	}

	// A frame that is both spoofed and incomplete is a spoof first.
	env = validEnvelope("alice", "bob", "m3")
	env.Ciphertext = nil
	if _, err := eng.Send(ctx, "mallory", env); !errors.Is(err, ErrSenderMismatch) {
		t.Fatalf("expected ErrSenderMismatch for spoofed incomplete frame, got %v", err)
	}
}

func TestEngine_SendDuplicate(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	if _, err := eng.Send(ctx, "alice", validEnvelope("alice", "bob", "m1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := eng.Send(ctx, "alice", validEnvelope("alice", "bob", "m1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	pending, _ := eng.ledger.PendingFor(ctx, "bob")
	if len(pending) != 1 {
		t.Fatalf("duplicate must not create a second entry, got %d", len(pending))
	}
}

func TestEngine_SendStorageFailure(t *testing.T) {
	reg := registry.New()
	eng := NewEngine(failingLedger{}, reg, zap.NewNop())

	if _, err := eng.Send(context.Background(), "alice", validEnvelope("alice", "bob", "m1")); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestEngine_SendPushFailureKeepsLedgerCopy(t *testing.T) {
	eng, reg := newTestEngine()
	ctx := context.Background()

	bad := &framePusher{fail: true}
	s := &registry.Session{UID: "bob", Conn: bad}
	reg.Register(s)

	if _, err := eng.Send(ctx, "alice", validEnvelope("alice", "bob", "m1")); err != nil {
		t.Fatalf("Send must swallow push failures: %v", err)
	}
	if reg.IsLive(s) || !bad.closed {
		t.Fatalf("failed session should be torn down")
	}
	pending, _ := eng.ledger.PendingFor(ctx, "bob")
	if len(pending) != 1 {
		t.Fatalf("ledger copy must survive push failure, got %d", len(pending))
	}
}

func TestEngine_DrainOrderAndAck(t *testing.T) {
	reg := registry.New()
	nowMillis := int64(1000)
	eng := NewEngineWithNow(ledger.NewMemoryLedger(), reg, zap.NewNop(), func() time.Time {
		nowMillis++
		return time.UnixMilli(nowMillis)
	})
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := eng.Send(ctx, "alice", validEnvelope("alice", "bob", id)); err != nil {
			t.Fatalf("Send %s: %v", id, err)
		}
	}

	p := &framePusher{}
	s := &registry.Session{UID: "bob", Conn: p}
	reg.Register(s)

	n, err := eng.Drain(ctx, "bob", s)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 3 || len(p.frames) != 3 {
		t.Fatalf("expected 3 drained, got n=%d frames=%d", n, len(p.frames))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if p.frames[i].ClientMessageID != want {
			t.Fatalf("drain out of order: got %s at %d", p.frames[i].ClientMessageID, i)
		}
	}

	count, err := eng.Acknowledge(ctx, "bob", []string{"m1", "m2", "m3"})
	if err != nil || count != 3 {
		t.Fatalf("Acknowledge: count=%d err=%v", count, err)
	}

	n, err = eng.Drain(ctx, "bob", s)
	if err != nil || n != 0 {
		t.Fatalf("expected empty drain after ack, got n=%d err=%v", n, err)
	}
}

// Full offline scenario: Alice sends while Bob is offline, Bob reconnects and
// drains, acks, then Alice's client retries the same message.
func TestEngine_OfflineScenario(t *testing.T) {
	eng, reg := newTestEngine()
	ctx := context.Background()

	if _, err := eng.Send(ctx, "alice", validEnvelope("alice", "bob", "m1")); err != nil {
		t.Fatalf("Send while offline: %v", err)
	}

	p := &framePusher{}
	s := &registry.Session{UID: "bob", Conn: p}
	reg.Register(s)
	if n, err := eng.Drain(ctx, "bob", s); err != nil || n != 1 {
		t.Fatalf("Drain: n=%d err=%v", n, err)
	}

	if count, err := eng.Acknowledge(ctx, "bob", []string{"m1"}); err != nil || count != 1 {
		t.Fatalf("Acknowledge: count=%d err=%v", count, err)
	}

	before := len(p.frames)
	if _, err := eng.Send(ctx, "alice", validEnvelope("alice", "bob", "m1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on retry, got %v", err)
	}
	if len(p.frames) != before {
		t.Fatalf("duplicate retry must not deliver anything new")
	}
	pending, _ := eng.ledger.PendingFor(ctx, "bob")
	if len(pending) != 0 {
		t.Fatalf("mailbox should stay empty, got %d", len(pending))
	}
}

func TestEngine_DrainPushFailureLeavesPending(t *testing.T) {
	eng, reg := newTestEngine()
	ctx := context.Background()

	_, _ = eng.Send(ctx, "alice", validEnvelope("alice", "bob", "m1"))

	bad := &framePusher{fail: true}
	s := &registry.Session{UID: "bob", Conn: bad}
	reg.Register(s)

	if _, err := eng.Drain(ctx, "bob", s); err == nil {
		t.Fatalf("expected drain error")
	}
	if reg.IsLive(s) {
		t.Fatalf("failed session should be unregistered")
	}
	pending, _ := eng.ledger.PendingFor(ctx, "bob")
	if len(pending) != 1 {
		t.Fatalf("entry must remain pending for next reconnect, got %d", len(pending))
	}
}

func TestEngine_SweeperExpiresOldEntries(t *testing.T) {
	reg := registry.New()
	base := time.Now()
	current := base
	eng := NewEngineWithNow(ledger.NewMemoryLedger(), reg, zap.NewNop(), func() time.Time { return current })
	ctx := context.Background()

	if _, err := eng.Send(ctx, "alice", validEnvelope("alice", "bob", "m1")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Jump past the retention window, then run one sweep by hand.
	current = base.Add(48 * time.Hour)
	horizon := current.Add(-24 * time.Hour).UnixMilli()
	removed, err := eng.ledger.SweepExpired(ctx, horizon)
	if err != nil || removed != 1 {
		t.Fatalf("SweepExpired: removed=%d err=%v", removed, err)
	}
	pending, _ := eng.ledger.PendingFor(ctx, "bob")
	if len(pending) != 0 {
		t.Fatalf("expected expired envelope gone, got %d", len(pending))
	}
}
