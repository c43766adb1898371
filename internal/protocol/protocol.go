// Package protocol defines the JSON frames spoken over the persistent
// websocket connection. The first client frame must be a register; after the
// server answers with registered, message and ack frames may flow in either
// direction. Binary fields are base64 on the wire (encoding/json []byte),
// timestamps are RFC3339.
package protocol

import (
	"time"

	"sealdrop/internal/model"
)

const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeMessage    = "message"
	TypeAccepted   = "accepted"
	TypeDuplicate  = "duplicate"
	TypeAck        = "ack"
	TypeAcked      = "acked"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeError      = "error"
)

// Error codes carried on error frames.
const (
	CodeUnauthorized      = "unauthorized"
	CodeMalformedEnvelope = "malformed_envelope"
	CodeSenderMismatch    = "sender_mismatch"
	CodeStorageFailure    = "storage_failure"
)

// Frame is the single wire shape for both directions; Type decides which
// fields are meaningful.
type Frame struct {
	Type string `json:"type"`

	// register
	UID   string `json:"uid,omitempty"`
	Token string `json:"token,omitempty"`

	// message (client -> server and server push)
	ClientMessageID string `json:"clientMessageId,omitempty"`
	SenderUID       string `json:"senderUid,omitempty"`
	RecipientUID    string `json:"recipientUid,omitempty"`
	Ciphertext      []byte `json:"ciphertext,omitempty"`
	Nonce           []byte `json:"nonce,omitempty"`
	SenderPublicKey []byte `json:"senderPublicKey,omitempty"`
	IsAudio         bool   `json:"isAudio,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
	ServerTimestamp string `json:"serverTimestamp,omitempty"`

	// ack
	MessageIDs []string `json:"messageIds,omitempty"`
	Count      int      `json:"count,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// EnvelopeFromFrame lifts a message frame into the domain model. The client
// timestamp is advisory; a missing or unparseable one is recorded as zero and
// the server timestamp remains authoritative.
func EnvelopeFromFrame(f Frame) model.Envelope {
	var original int64
	if f.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, f.Timestamp); err == nil {
			original = t.UnixMilli()
		}
	}
	return model.Envelope{
		ClientMessageID:   f.ClientMessageID,
		SenderUID:         f.SenderUID,
		RecipientUID:      f.RecipientUID,
		Ciphertext:        f.Ciphertext,
		Nonce:             f.Nonce,
		SenderPublicKey:   f.SenderPublicKey,
		IsAudio:           f.IsAudio,
		OriginalTimestamp: original,
	}
}

// PushFrame renders a stored envelope as a server push.
func PushFrame(env model.Envelope) Frame {
	f := Frame{
		Type:            TypeMessage,
		ClientMessageID: env.ClientMessageID,
		SenderUID:       env.SenderUID,
		RecipientUID:    env.RecipientUID,
		Ciphertext:      env.Ciphertext,
		Nonce:           env.Nonce,
		SenderPublicKey: env.SenderPublicKey,
		IsAudio:         env.IsAudio,
		ServerTimestamp: time.UnixMilli(env.ServerTimestamp).UTC().Format(time.RFC3339),
	}
	if env.OriginalTimestamp != 0 {
		f.Timestamp = time.UnixMilli(env.OriginalTimestamp).UTC().Format(time.RFC3339)
	}
	return f
}
