// Package client is the service layer a frontend drives: it registers over
// the websocket, seals and sends messages, decrypts pushes, and batches
// acknowledgements behind a debounce window.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"sealdrop/internal/protocol"
	"sealdrop/internal/sealedbox"
)

// UnreadablePlaceholder is shown when a push fails to authenticate against
// our keys. Decryption failure is never fatal.
const UnreadablePlaceholder = "[unreadable message]"

const ackDebounce = 3 * time.Second

var ErrRegistrationRejected = errors.New("registration rejected by server")

// Message is one decrypted incoming message.
type Message struct {
	ClientMessageID string
	SenderUID       string
	Text            string
	IsAudio         bool
	Unreadable      bool
	ServerTimestamp string
}

type Client struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	uid        string
	privateKey []byte
	acks       *AckBatcher
}

// Dial connects, performs the register handshake and returns a ready client.
// The server drains the mailbox immediately after registration, so callers
// should start Listen promptly to not miss the backlog.
func Dial(wsURL, uid, token string, privateKey []byte) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{conn: conn, uid: uid, privateKey: privateKey}
	c.acks = NewAckBatcher(ackDebounce, 50, func(ids []string) {
		_ = c.writeFrame(protocol.Frame{Type: protocol.TypeAck, MessageIDs: ids})
	})

	if err := c.writeFrame(protocol.Frame{Type: protocol.TypeRegister, UID: uid, Token: token}); err != nil {
		conn.Close()
		return nil, err
	}

	var reply protocol.Frame
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, err
	}
	if reply.Type != protocol.TypeRegistered {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrRegistrationRejected, reply.Message)
	}
	return c, nil
}

// Send seals plaintext for the recipient and submits it. The returned
// clientMessageId doubles as the retry key: resending with the same id is
// always safe.
func (c *Client) Send(recipientUID string, recipientPublicKey, senderPublicKey, plaintext []byte, isAudio bool) (string, error) {
	ciphertext, nonce, err := sealedbox.Encrypt(plaintext, recipientPublicKey, c.privateKey)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	frame := protocol.Frame{
		Type:            protocol.TypeMessage,
		ClientMessageID: id,
		SenderUID:       c.uid,
		RecipientUID:    recipientUID,
		Ciphertext:      ciphertext,
		Nonce:           nonce,
		SenderPublicKey: senderPublicKey,
		IsAudio:         isAudio,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.writeFrame(frame); err != nil {
		return "", err
	}
	return id, nil
}

// Listen decodes pushes until the connection drops, invoking handler per
// message in arrival order. Every handled message is queued for a batched
// acknowledgement.
func (c *Client) Listen(handler func(Message)) error {
	defer c.acks.Flush()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type != protocol.TypeMessage {
			continue
		}

		msg := Message{
			ClientMessageID: frame.ClientMessageID,
			SenderUID:       frame.SenderUID,
			IsAudio:         frame.IsAudio,
			ServerTimestamp: frame.ServerTimestamp,
		}
		plaintext, err := sealedbox.Decrypt(frame.Ciphertext, frame.Nonce, frame.SenderPublicKey, c.privateKey)
		if err != nil {
			msg.Text = UnreadablePlaceholder
			msg.Unreadable = true
		} else {
			msg.Text = string(plaintext)
		}

		handler(msg)
		c.acks.Add(frame.ClientMessageID)
	}
}

func (c *Client) Close() error {
	c.acks.Flush()
	return c.conn.Close()
}

func (c *Client) writeFrame(f protocol.Frame) error {
	out, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, out)
}
