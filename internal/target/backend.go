package target

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/danmuck/cdpwire/internal/loop"
	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/danmuck/cdpwire/internal/protocol/schema"
	"github.com/danmuck/cdpwire/internal/protocol/session"
	"github.com/danmuck/cdpwire/internal/transport"
	"github.com/rs/zerolog/log"
)

// DefaultDebouncedMethods are coalesced so at most one call is on the wire.
var DefaultDebouncedMethods = []string{
	"DOM.getBoxModel",
	"CSS.getComputedStyleForNode",
	"CSS.getMatchedStylesForNode",
	"CSS.getInlineStylesForNode",
	"CSS.getPlatformFontsForNode",
}

// BackendOptions tune command and event handling for every target of a
// Backend.
type BackendOptions struct {
	// SuppressRequestErrors silences all error responses. When false, only
	// non-benign codes are logged.
	SuppressRequestErrors bool
	LongPollingMethods    []string
	DebouncedMethods      []string
	Hooks                 session.Hooks
	// ErrorSink receives local validation errors. Defaults to logging.
	ErrorSink func(error)
}

func DefaultOptions() BackendOptions {
	return BackendOptions{
		LongPollingMethods: slices.Clone(session.DefaultLongPollingMethods),
		DebouncedMethods:   slices.Clone(DefaultDebouncedMethods),
	}
}

type BackendConfig struct {
	Reporter protocol.Reporter
	// Factory supplies the connection of a root target created without one.
	Factory transport.Factory
	Options BackendOptions
}

// Backend is the shared context of a family of targets: the sealed protocol
// registry, the reporter, the connection factory and the loop every callback
// runs on.
type Backend struct {
	registry  *schema.Registry
	reporter  protocol.Reporter
	factory   transport.Factory
	opts      BackendOptions
	loop      *loop.Loop
	debounced map[string]struct{}

	mu      sync.Mutex
	routers []*session.Router
	roots   []*Target
}

// NewBackend seals reg and starts the backend loop.
func NewBackend(reg *schema.Registry, cfg BackendConfig) *Backend {
	reg.Seal()
	if cfg.Reporter == nil {
		cfg.Reporter = protocol.LogReporter{}
	}
	if cfg.Options.ErrorSink == nil {
		cfg.Options.ErrorSink = func(err error) {
			log.Error().Err(err).Msg("target: request rejected")
		}
	}
	b := &Backend{
		registry:  reg,
		reporter:  cfg.Reporter,
		factory:   cfg.Factory,
		opts:      cfg.Options,
		loop:      loop.New(),
		debounced: make(map[string]struct{}, len(cfg.Options.DebouncedMethods)),
	}
	for _, m := range cfg.Options.DebouncedMethods {
		b.debounced[m] = struct{}{}
	}
	return b
}

func (b *Backend) Registry() *schema.Registry { return b.registry }

func (b *Backend) Loop() *loop.Loop { return b.loop }

// Routers returns the routers created for targets that own a connection.
func (b *Backend) Routers() []*session.Router {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.routers)
}

// Sync waits for every turn queued so far. It must not be called from a turn.
func (b *Backend) Sync(ctx context.Context) error {
	return b.loop.Sync(ctx)
}

// Close disposes every root target, disconnects their connections and stops
// the loop.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	roots := b.roots
	routers := b.routers
	b.roots, b.routers = nil, nil
	b.mu.Unlock()

	done := make(chan struct{})
	if b.loop.Post(func() {
		defer close(done)
		for _, t := range roots {
			t.Dispose("backend closed")
		}
	}) {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	var errs []error
	for _, r := range routers {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.loop.Close()
	return errors.Join(errs...)
}

func (b *Backend) isDebounced(method string) bool {
	_, ok := b.debounced[method]
	return ok
}

func (b *Backend) newRouter(conn transport.Connection, root *Target) *session.Router {
	r := session.NewRouter(conn, b.loop, b.reporter, session.Config{
		LongPollingMethods: b.opts.LongPollingMethods,
		Hooks:              b.opts.Hooks,
	})
	b.mu.Lock()
	b.routers = append(b.routers, r)
	b.roots = append(b.roots, root)
	b.mu.Unlock()
	return r
}

// post runs fn on a later turn.
func (b *Backend) post(fn func()) {
	if !b.loop.Post(fn) {
		log.Debug().Msg("target: backend loop closed, callback dropped")
	}
}
