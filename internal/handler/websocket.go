package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"sealdrop/internal/delivery"
	"sealdrop/internal/identity"
	"sealdrop/internal/protocol"
	"sealdrop/internal/registry"
)

// WebSocketHandler is the transport gateway: it upgrades the connection,
// requires a register handshake before any other traffic, drains the mailbox
// right after registration, and runs the liveness probe. One goroutine reads
// each connection, so frames from one client are handled strictly in arrival
// order.
type WebSocketHandler struct {
	Registry     *registry.Registry
	Engine       *delivery.Engine
	Identities   identity.Store
	PingInterval time.Duration
	Log          *zap.Logger
}

const (
	writeWait     = 10 * time.Second
	handshakeWait = 10 * time.Second
	maxFrameSize  = 1024 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPusher serializes writes: the connection goroutine's replies and fan-out
// pushes from other connections land on the same socket.
type wsPusher struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsPusher) Push(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

func (w *wsPusher) Close() error {
	return w.conn.Close()
}

func (w *wsPusher) pushFrame(f protocol.Frame) error {
	out, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return w.Push(out)
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	pusher := &wsPusher{conn: ws}

	ws.SetReadLimit(maxFrameSize)

	// Registration handshake. Any first frame other than a valid register
	// terminates the connection.
	ws.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return
	}
	var reg protocol.Frame
	if err := json.Unmarshal(data, &reg); err != nil || reg.Type != protocol.TypeRegister {
		_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeError, Code: protocol.CodeUnauthorized, Message: "registration required"})
		_ = ws.Close()
		return
	}

	id, err := h.Identities.Authenticate(c.Request.Context(), reg.UID, reg.Token, time.Now().UnixMilli())
	if err != nil {
		_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeError, Code: protocol.CodeUnauthorized, Message: "invalid uid or token"})
		_ = ws.Close()
		return
	}

	sess := &registry.Session{UID: id.UID, Conn: pusher}
	h.Registry.Register(sess)
	defer func() {
		h.Registry.Unregister(sess)
		_ = ws.Close()
	}()

	if err := pusher.pushFrame(protocol.Frame{Type: protocol.TypeRegistered}); err != nil {
		return
	}
	h.Log.Info("session registered", zap.String("uid", id.UID))

	// Liveness probe: one missed pong and the read deadline tears the
	// connection down.
	pingPeriod := h.PingInterval
	pongWait := pingPeriod + writeWait

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	// Register -> drain, in that order: connecting is the inbox fetch.
	if _, err := h.Engine.Drain(c.Request.Context(), id.UID, sess); err != nil {
		h.Log.Warn("drain on connect failed", zap.String("uid", id.UID), zap.Error(err))
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeError, Code: protocol.CodeMalformedEnvelope, Message: "unparseable frame"})
			continue
		}

		switch frame.Type {
		case protocol.TypePing:
			_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypePong})

		case protocol.TypeMessage:
			h.handleMessage(c, sess, pusher, frame)

		case protocol.TypeAck:
			count, err := h.Engine.Acknowledge(c.Request.Context(), sess.UID, frame.MessageIDs)
			if err != nil {
				_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeError, Code: protocol.CodeStorageFailure, Message: "acknowledgement failed"})
				continue
			}
			_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeAcked, Count: count})

		default:
			_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeError, Message: "unknown frame type"})
		}
	}
}

func (h *WebSocketHandler) handleMessage(c *gin.Context, sess *registry.Session, pusher *wsPusher, frame protocol.Frame) {
	env := protocol.EnvelopeFromFrame(frame)
	_, err := h.Engine.Send(c.Request.Context(), sess.UID, env)
	switch {
	case err == nil:
		_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeAccepted, ClientMessageID: env.ClientMessageID})
	case errors.Is(err, delivery.ErrDuplicate):
		// The original send already succeeded; tell the client so it stops
		// retrying, but not as an error.
		_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeDuplicate, ClientMessageID: env.ClientMessageID})
	case errors.Is(err, delivery.ErrMalformedEnvelope):
		_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeError, Code: protocol.CodeMalformedEnvelope, ClientMessageID: env.ClientMessageID, Message: "missing required field"})
	case errors.Is(err, delivery.ErrSenderMismatch):
		_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeError, Code: protocol.CodeSenderMismatch, ClientMessageID: env.ClientMessageID, Message: "sender does not match session"})
	default:
		_ = pusher.pushFrame(protocol.Frame{Type: protocol.TypeError, Code: protocol.CodeStorageFailure, ClientMessageID: env.ClientMessageID, Message: "message not stored, retry"})
	}
}
