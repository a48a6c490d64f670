package transport

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/danmuck/cdpwire/internal/loop"
)

// PairEnd is one side of an in-process connection. Messages sent on one end
// are delivered to the other end's handler on that end's own goroutine, in
// send order.
type PairEnd struct {
	handlers

	inbox  *loop.Loop
	peer   *PairEnd
	closed atomic.Bool
}

// NewPair returns two connected ends.
func NewPair() (*PairEnd, *PairEnd) {
	a := &PairEnd{inbox: loop.New()}
	b := &PairEnd{inbox: loop.New()}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PairEnd) SetOnMessage(fn func([]byte)) {
	p.setOnMessage(fn)
}

func (p *PairEnd) SetOnDisconnect(fn func(string)) {
	p.setOnDisconnect(fn)
}

func (p *PairEnd) SendRawMessage(data []byte) error {
	if p.closed.Load() || p.peer.closed.Load() {
		return ErrClosed
	}
	msg := slices.Clone(data)
	peer := p.peer
	if !peer.inbox.Post(func() { peer.deliver(msg) }) {
		return ErrClosed
	}
	return nil
}

// Disconnect closes this end. The peer observes a disconnect with reason
// "peer disconnected" after any messages already in flight.
func (p *PairEnd) Disconnect(context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.markDisconnected()
	peer := p.peer
	peer.closed.Store(true)
	peer.inbox.Post(func() { peer.notifyDisconnect("peer disconnected") })
	go func() {
		p.inbox.Close()
		peer.inbox.Close()
	}()
	return nil
}
