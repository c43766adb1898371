package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"sealdrop/internal/ledger"
	"sealdrop/internal/model"
	"sealdrop/internal/protocol"
	"sealdrop/internal/registry"
)

var (
	// ErrSenderMismatch flags a frame whose senderUid is not the identity
	// the session registered as.
	ErrSenderMismatch = errors.New("sender does not match session identity")

	// ErrMalformedEnvelope rejects a single frame; the connection stays open.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrStorage is retryable: the message was not accepted and a resend
	// with the same clientMessageId is safe.
	ErrStorage = errors.New("message store unavailable")

	// ErrDuplicate is success from the sender's point of view: the message
	// was already accepted by an earlier send.
	ErrDuplicate = ledger.ErrDuplicate
)

// Engine drives an envelope through created -> stored -> {fanned_out | held}
// -> acknowledged | expired. The ledger write always comes first; real-time
// fan-out is an optimization on top of it and never substitutes for an
// acknowledgement from the recipient.
type Engine struct {
	ledger   ledger.Ledger
	registry *registry.Registry
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(l ledger.Ledger, r *registry.Registry, log *zap.Logger) *Engine {
	return NewEngineWithNow(l, r, log, time.Now)
}

func NewEngineWithNow(l ledger.Ledger, r *registry.Registry, log *zap.Logger, now func() time.Time) *Engine {
	return &Engine{ledger: l, registry: r, log: log, now: now}
}

// Send validates, persists and fans out one envelope. On success the returned
// envelope carries the authoritative ServerTimestamp. Fan-out does not mark
// anything delivered; a push failure only tears down that session, the
// ledger copy covers redelivery on the next drain.
func (e *Engine) Send(ctx context.Context, sessionUID string, env model.Envelope) (model.Envelope, error) {
	// The identity check comes first: a spoofed frame is flagged as a spoof
	// even when it is also incomplete.
	if env.SenderUID != sessionUID {
		e.log.Warn("sender mismatch",
			zap.String("sessionUid", sessionUID),
			zap.String("claimedSender", env.SenderUID))
		return env, ErrSenderMismatch
	}
	if env.ClientMessageID == "" || env.RecipientUID == "" ||
		len(env.Ciphertext) == 0 || len(env.Nonce) == 0 || len(env.SenderPublicKey) == 0 {
		return env, ErrMalformedEnvelope
	}

	env.ServerTimestamp = e.now().UnixMilli()

	if err := e.ledger.Append(ctx, env); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			return env, ErrDuplicate
		}
		e.log.Error("ledger append failed", zap.Error(err),
			zap.String("clientMessageId", env.ClientMessageID))
		return env, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	frame, err := json.Marshal(protocol.PushFrame(env))
	if err != nil {
		// The envelope is stored; the recipient picks it up on drain.
		e.log.Error("encode push frame failed", zap.Error(err))
		return env, nil
	}
	delivered := e.registry.Fanout(env.RecipientUID, frame)
	e.log.Debug("envelope stored",
		zap.String("clientMessageId", env.ClientMessageID),
		zap.String("recipientUid", env.RecipientUID),
		zap.Int("liveDeliveries", delivered))
	return env, nil
}

// Drain pushes every pending envelope for the uid over one session in
// serverTimestamp order. Called right after a successful registration, so a
// client never needs a separate inbox fetch. A push failure abandons the
// drain; the remaining entries stay pending for the next reconnect.
func (e *Engine) Drain(ctx context.Context, uid string, s *registry.Session) (int, error) {
	pending, err := e.ledger.PendingFor(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	for i, env := range pending {
		frame, err := json.Marshal(protocol.PushFrame(env))
		if err != nil {
			e.log.Error("encode drain frame failed", zap.Error(err))
			continue
		}
		if err := s.Conn.Push(frame); err != nil {
			_ = s.Conn.Close()
			e.registry.Unregister(s)
			return i, fmt.Errorf("drain push: %w", err)
		}
	}
	if len(pending) > 0 {
		e.log.Info("drained mailbox", zap.String("uid", uid), zap.Int("count", len(pending)))
	}
	return len(pending), nil
}

// Pending is the explicit-pull variant of Drain: the caller renders the
// envelopes itself. Reading is side-effect free; only an acknowledgement
// removes entries, so pull and push drains are safely interchangeable.
func (e *Engine) Pending(ctx context.Context, uid string) ([]model.Envelope, error) {
	pending, err := e.ledger.PendingFor(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return pending, nil
}

// Acknowledge purges the given ids from the recipient's mailbox. Ids that
// are unknown or already purged count for nothing and raise no error.
func (e *Engine) Acknowledge(ctx context.Context, uid string, clientMessageIDs []string) (int, error) {
	count, err := e.ledger.Acknowledge(ctx, uid, clientMessageIDs)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return count, nil
}

// RunSweeper deletes pending envelopes older than retention on every tick
// until the context is cancelled. This bounds storage for permanently
// offline recipients.
func (e *Engine) RunSweeper(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			horizon := e.now().Add(-retention).UnixMilli()
			removed, err := e.ledger.SweepExpired(ctx, horizon)
			if err != nil {
				e.log.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				e.log.Info("expired undelivered envelopes", zap.Int("removed", removed))
			}
		}
	}
}
