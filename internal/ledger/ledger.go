package ledger

import (
	"context"
	"errors"

	"sealdrop/internal/model"
)

// ErrDuplicate reports that an envelope with the same (senderUid,
// clientMessageId) was already accepted. Duplicates are rejected, never
// overwritten; a sender seeing this can treat the message as sent.
var ErrDuplicate = errors.New("duplicate envelope")

// Ledger is the durable source of truth for undelivered envelopes. An
// envelope is visible to PendingFor from the moment Append returns nil until
// Acknowledge or SweepExpired removes it; there is no intermediate state.
//
// The duplicate-suppression record outlives acknowledgement: a resend of an
// already-acknowledged envelope still gets ErrDuplicate until the retention
// window has passed.
type Ledger interface {
	Append(ctx context.Context, env model.Envelope) error

	// PendingFor returns the recipient's mailbox ordered by ServerTimestamp
	// ascending (FIFO as observed by the server).
	PendingFor(ctx context.Context, recipientUID string) ([]model.Envelope, error)

	// Acknowledge deletes the matching pending entries and reports how many
	// were actually removed. Unknown or already-purged ids are no-ops.
	Acknowledge(ctx context.Context, recipientUID string, clientMessageIDs []string) (int, error)

	// SweepExpired removes pending entries stamped before the horizon.
	SweepExpired(ctx context.Context, olderThanMillis int64) (int, error)
}
