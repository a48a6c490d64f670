// Package transport provides the duplex connections a session router writes
// to: a WebSocket client, a NUL-framed pipe and an in-process pair.
package transport

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("transport: connection closed")

// Connection is one duplex message stream. Incoming messages and the
// disconnect notification are delivered from the transport's own goroutine.
type Connection interface {
	SetOnMessage(func([]byte))
	SetOnDisconnect(func(reason string))
	SendRawMessage([]byte) error
	Disconnect(ctx context.Context) error
}

// Factory supplies the connection for a root target built without one.
type Factory func() (Connection, error)

// handlers holds the callbacks shared by every transport. The disconnect
// callback fires at most once.
type handlers struct {
	mu           sync.Mutex
	onMessage    func([]byte)
	onDisconnect func(string)
	disconnected bool
}

func (h *handlers) setOnMessage(fn func([]byte)) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

func (h *handlers) setOnDisconnect(fn func(string)) {
	h.mu.Lock()
	h.onDisconnect = fn
	h.mu.Unlock()
}

func (h *handlers) deliver(data []byte) {
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (h *handlers) notifyDisconnect(reason string) {
	h.mu.Lock()
	if h.disconnected {
		h.mu.Unlock()
		return
	}
	h.disconnected = true
	fn := h.onDisconnect
	h.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// markDisconnected suppresses the disconnect callback for a locally
// initiated close.
func (h *handlers) markDisconnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	was := h.disconnected
	h.disconnected = true
	return was
}

func (h *handlers) isDisconnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnected
}
