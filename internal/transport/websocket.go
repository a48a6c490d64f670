package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// wsConn is the subset of *websocket.Conn used by WebSocket.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(statusCode websocket.StatusCode, reason string) error
}

// WebSocket carries one DevTools message per text frame.
type WebSocket struct {
	handlers

	id           string
	conn         wsConn
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	readOnce  sync.Once
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// NewWebSocket wraps an established connection. Reading starts on the first
// SetOnMessage call so no message is delivered before a handler exists.
func NewWebSocket(conn *websocket.Conn, cfg DialConfig) *WebSocket {
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	return newWebSocket(conn, cfg)
}

func newWebSocket(conn wsConn, cfg DialConfig) *WebSocket {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocket{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ID identifies the connection in logs.
func (w *WebSocket) ID() string { return w.id }

func (w *WebSocket) SetOnMessage(fn func([]byte)) {
	w.setOnMessage(fn)
	w.readOnce.Do(func() { go w.readLoop() })
}

func (w *WebSocket) SetOnDisconnect(fn func(string)) {
	w.setOnDisconnect(fn)
}

func (w *WebSocket) SendRawMessage(data []byte) error {
	if w.isDisconnected() {
		return ErrClosed
	}
	ctx := w.ctx
	if w.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.writeTimeout)
		defer cancel()
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	log.Trace().Str("conn", w.id).Int("bytes", len(data)).Msg("transport: ws sent")
	return nil
}

// Disconnect closes the socket. The disconnect callback is not invoked for a
// locally initiated close.
func (w *WebSocket) Disconnect(ctx context.Context) error {
	var err error
	w.closeOnce.Do(func() {
		w.markDisconnected()
		w.cancel()
		done := make(chan error, 1)
		go func() { done <- w.conn.Close(websocket.StatusNormalClosure, "client disconnect") }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		log.Debug().Str("conn", w.id).Msg("transport: ws disconnected")
	})
	return err
}

func (w *WebSocket) readLoop() {
	for {
		typ, data, err := w.conn.Read(w.ctx)
		if err != nil {
			reason := closeReason(err)
			if !w.isDisconnected() {
				log.Warn().Str("conn", w.id).Str("reason", reason).Msg("transport: ws read ended")
			}
			w.cancel()
			w.notifyDisconnect(reason)
			return
		}
		if typ != websocket.MessageText {
			log.Debug().Str("conn", w.id).Msg("transport: ws binary frame ignored")
			continue
		}
		w.deliver(data)
	}
}

func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Reason != "" {
			return ce.Reason
		}
		return ce.Code.String()
	}
	return err.Error()
}
