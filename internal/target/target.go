package target

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/danmuck/cdpwire/internal/protocol/session"
	"github.com/danmuck/cdpwire/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrAmbiguousTarget = errors.New("target: ambiguous construction")
	ErrNoConnection    = errors.New("target: no connection and no factory")
	ErrParentDisposed  = errors.New("target: parent is disposed")
)

// Options select how a target reaches its backend. A child target names its
// Parent and SessionID and shares the parent's router. A root target either
// brings its own Connection or gets one from the Backend's factory.
type Options struct {
	Parent     *Target
	SessionID  string
	Connection transport.Connection
	// Proxy, when set, receives every incoming message of the router.
	Proxy transport.Connection
	Name  string
}

// Target is one debuggable entity bound to a session.
type Target struct {
	backend   *Backend
	name      string
	sessionID string
	parent    *Target

	agents      map[string]*Agent
	dispatchers map[string]*DispatcherManager

	mu       sync.Mutex
	router   *session.Router
	disposed bool
	done     chan struct{}
}

// New builds a target and registers it with its router.
func New(b *Backend, opts Options) (*Target, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	t := &Target{
		backend:     b,
		name:        opts.Name,
		sessionID:   opts.SessionID,
		parent:      opts.Parent,
		agents:      make(map[string]*Agent),
		dispatchers: make(map[string]*DispatcherManager),
		done:        make(chan struct{}),
	}

	switch {
	case opts.Parent != nil:
		r := opts.Parent.Router()
		if r == nil {
			return nil, ErrParentDisposed
		}
		t.router = r
	case opts.Connection != nil:
		t.router = b.newRouter(opts.Connection, t)
	default:
		if b.factory == nil {
			return nil, ErrNoConnection
		}
		conn, err := b.factory()
		if err != nil {
			return nil, fmt.Errorf("target: connect: %w", err)
		}
		t.router = b.newRouter(conn, t)
	}

	reg := b.registry
	for _, name := range reg.Domains() {
		d, _ := reg.Domain(name)
		t.agents[name] = newAgent(t, d)
		t.dispatchers[name] = NewDispatcherManager(d, b.reporter)
	}

	if err := t.router.RegisterSession(t, t.sessionID, opts.Proxy); err != nil {
		return nil, err
	}
	if opts.Parent == nil {
		t.router.Start()
	}
	log.Debug().Str("target", t.name).Str("session", t.sessionID).Int("domains", len(t.agents)).Msg("target: created")
	return t, nil
}

// MustNew is New for construction sites where a bad combination of options
// is a programming error.
func MustNew(b *Backend, opts Options) *Target {
	t, err := New(b, opts)
	if err != nil {
		panic(err)
	}
	return t
}

func validateOptions(opts Options) error {
	if opts.SessionID != "" && opts.Parent == nil {
		return fmt.Errorf("%w: session id %q without parent target", ErrAmbiguousTarget, opts.SessionID)
	}
	if opts.Parent != nil && opts.SessionID == "" {
		return fmt.Errorf("%w: parent target without session id", ErrAmbiguousTarget)
	}
	if opts.Connection != nil && opts.Parent != nil {
		return fmt.Errorf("%w: both connection and parent target", ErrAmbiguousTarget)
	}
	return nil
}

func (t *Target) Name() string { return t.name }

func (t *Target) SessionID() string { return t.sessionID }

func (t *Target) Parent() *Target { return t.parent }

func (t *Target) Backend() *Backend { return t.backend }

// Router returns the target's router, or nil once disposed.
func (t *Target) Router() *session.Router {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.router
}

// Agent returns the command surface of a domain. It panics for a domain the
// registry does not know, which is a programming error.
func (t *Target) Agent(domain string) *Agent {
	a, ok := t.agents[domain]
	if !ok {
		panic(fmt.Sprintf("target: unknown domain %q", domain))
	}
	return a
}

// LookupAgent is Agent without the panic.
func (t *Target) LookupAgent(domain string) (*Agent, bool) {
	a, ok := t.agents[domain]
	return a, ok
}

// Dispatch routes an event to the dispatcher manager of its domain.
func (t *Target) Dispatch(msg *protocol.Message) {
	domain, method, err := protocol.SplitQualifiedName(msg.Method)
	if err != nil {
		t.backend.reporter.ProtocolError(fmt.Sprintf("Protocol Error: the message %s is not a qualified event name", msg.Method), msg)
		return
	}
	m, ok := t.dispatchers[domain]
	if !ok {
		t.backend.reporter.ProtocolError(fmt.Sprintf("Protocol Error: the message %s is for non-existing domain '%s'", msg.Method, domain), msg)
		return
	}
	m.Dispatch(method, msg)
}

// RegisterDispatcher attaches d to a domain's event fan-out.
func (t *Target) RegisterDispatcher(domain string, d Dispatcher) error {
	m, ok := t.dispatchers[domain]
	if !ok {
		return fmt.Errorf("target: unknown domain %q", domain)
	}
	m.Register(d)
	return nil
}

func (t *Target) UnregisterDispatcher(domain string, d Dispatcher) {
	if m, ok := t.dispatchers[domain]; ok {
		m.Unregister(d)
	}
}

// Dispose unregisters the target from its router. Later calls are no-ops.
func (t *Target) Dispose(reason string) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	r := t.router
	t.router = nil
	t.mu.Unlock()

	r.UnregisterSession(t.sessionID)
	close(t.done)
	log.Debug().Str("target", t.name).Str("session", t.sessionID).Str("reason", reason).Msg("target: disposed")
}

func (t *Target) IsDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// Done is closed when the target is disposed.
func (t *Target) Done() <-chan struct{} { return t.done }
