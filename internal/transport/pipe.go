package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/cdpwire/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Pipe speaks the --remote-debugging-pipe framing: each message is a JSON
// document terminated by a NUL byte.
type Pipe struct {
	handlers

	id     string
	r      io.Reader
	w      io.Writer
	limits frame.Limits

	readOnce  sync.Once
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// NewPipe reads messages from r and writes them to w. Closers among r and w
// are closed by Disconnect.
func NewPipe(r io.Reader, w io.Writer, limits frame.Limits) *Pipe {
	return &Pipe{id: uuid.NewString(), r: r, w: w, limits: limits}
}

func (p *Pipe) ID() string { return p.id }

func (p *Pipe) SetOnMessage(fn func([]byte)) {
	p.setOnMessage(fn)
	p.readOnce.Do(func() { go p.readLoop() })
}

func (p *Pipe) SetOnDisconnect(fn func(string)) {
	p.setOnDisconnect(fn)
}

func (p *Pipe) SendRawMessage(data []byte) error {
	if p.isDisconnected() {
		return ErrClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := frame.WriteFrame(p.w, data, p.limits); err != nil {
		if errors.Is(err, frame.ErrEmbeddedNUL) || errors.Is(err, frame.ErrPayloadTooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (p *Pipe) Disconnect(context.Context) error {
	var errs []error
	p.closeOnce.Do(func() {
		p.markDisconnected()
		if c, ok := p.w.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := p.r.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		log.Debug().Str("conn", p.id).Msg("transport: pipe disconnected")
	})
	return errors.Join(errs...)
}

func (p *Pipe) readLoop() {
	reader := frame.NewReader(p.r, p.limits)
	for {
		data, err := reader.ReadFrame()
		if err != nil {
			reason := "pipe closed"
			if !errors.Is(err, io.EOF) {
				reason = err.Error()
			}
			p.notifyDisconnect(reason)
			return
		}
		p.deliver(data)
	}
}
