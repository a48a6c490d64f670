package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/cdpwire/internal/loop"
	"github.com/danmuck/cdpwire/internal/observability"
	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/danmuck/cdpwire/internal/transport"
	"github.com/rs/zerolog/log"
)

// Latencies at or above this bound are not recorded.
const maxRecordedLatency = 20 * time.Second

var (
	ErrSessionExists = errors.New("session: session already registered")
	ErrNilTarget     = errors.New("session: nil target")
)

// Target is the owner of a session: it receives the session's events and is
// disposed when the root connection goes away.
type Target interface {
	Dispatch(msg *protocol.Message)
	Dispose(reason string)
}

type sessionEntry struct {
	target  Target
	pending *PendingTable
	proxy   transport.Connection
}

// Router assigns message ids, correlates responses with pending commands and
// routes events to the owning target. SendMessage may be called from any
// goroutine; callbacks, dispatch and drain continuations run on the loop.
type Router struct {
	conn     transport.Connection
	loop     *loop.Loop
	reporter protocol.Reporter
	hooks    Hooks

	longPolling map[string]struct{}
	lastID      atomic.Int64
	startOnce   sync.Once

	mu           sync.Mutex
	sessions     map[string]*sessionEntry
	pendingCount int
	longPollIDs  map[int64]struct{}
	afterDrain   []func()
	drainArmed   bool
	proxies      int
}

// NewRouter wraps conn. Nothing is received until Start, so the root session
// can be registered before the first message arrives.
func NewRouter(conn transport.Connection, l *loop.Loop, reporter protocol.Reporter, cfg Config) *Router {
	if reporter == nil {
		reporter = protocol.LogReporter{}
	}
	r := &Router{
		conn:        conn,
		loop:        l,
		reporter:    reporter,
		hooks:       cfg.Hooks,
		longPolling: make(map[string]struct{}, len(cfg.LongPollingMethods)),
		sessions:    make(map[string]*sessionEntry),
		longPollIDs: make(map[int64]struct{}),
	}
	for _, m := range cfg.LongPollingMethods {
		r.longPolling[m] = struct{}{}
	}
	return r
}

// Start installs the connection callbacks. Incoming messages and the
// disconnect notification are handled on the router's loop. Later calls are
// no-ops.
func (r *Router) Start() {
	r.startOnce.Do(func() {
		r.conn.SetOnDisconnect(func(reason string) {
			r.loop.Post(func() { r.handleDisconnect(reason) })
		})
		r.conn.SetOnMessage(r.OnMessage)
	})
}

// Connection returns the underlying transport.
func (r *Router) Connection() transport.Connection { return r.conn }

// Loop returns the loop callbacks run on.
func (r *Router) Loop() *loop.Loop { return r.loop }

// NextMessageID returns a strictly increasing id starting at 1.
func (r *Router) NextMessageID() int64 {
	return r.lastID.Add(1)
}

// RegisterSession binds target to sessionID. A non-nil proxy receives every
// incoming message verbatim. Only one proxy at a time is expected; a second
// one is accepted but logged.
func (r *Router) RegisterSession(target Target, sessionID string, proxy transport.Connection) error {
	if target == nil {
		return ErrNilTarget
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		return fmt.Errorf("%w: %q", ErrSessionExists, sessionID)
	}
	if proxy != nil {
		if r.proxies > 0 {
			log.Error().Str("session", sessionID).Msg("session: multiple simultaneous proxy connections are currently unsupported")
		}
		r.proxies++
	}
	r.sessions[sessionID] = &sessionEntry{target: target, pending: NewPendingTable(), proxy: proxy}
	log.Debug().Str("session", sessionID).Bool("proxy", proxy != nil).Msg("session: registered")
	return nil
}

// UnregisterSession removes the session and fails its pending commands on a
// later turn with a session-unregistering error.
func (r *Router) UnregisterSession(sessionID string) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	if entry.proxy != nil {
		r.proxies--
	}
	failed := entry.pending.Drain()
	for _, item := range failed {
		r.releaseLocked(item.ID)
	}
	pending := r.pendingCount
	r.mu.Unlock()
	observability.SetPendingResponses(pending)

	for _, item := range failed {
		item := item
		if item.Callback == nil {
			continue
		}
		r.loop.Post(func() {
			item.Callback(protocol.SessionUnregisteringError(item.Method), nil)
		})
	}
	r.mu.Lock()
	r.maybeArmDrainLocked()
	r.mu.Unlock()
	log.Debug().Str("session", sessionID).Int("failed", len(failed)).Msg("session: unregistered")
}

// SendMessage sends method with params on sessionID and reports whether the
// session was known. A command for an unregistered session is dropped, cb is
// never invoked and false is returned. A send failure is delivered to cb on a
// later turn as a connection-closed error.
func (r *Router) SendMessage(sessionID, domain, method string, params json.RawMessage, cb Callback) bool {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		log.Warn().Str("session", sessionID).Str("method", method).Msg("session: send for unknown session dropped")
		return false
	}
	id := r.NextMessageID()
	entry.pending.Add(PendingCommand{ID: id, Domain: domain, Method: method, Callback: cb, SentAt: time.Now()})
	r.pendingCount++
	if _, long := r.longPolling[method]; long {
		r.longPollIDs[id] = struct{}{}
	}
	pending := r.pendingCount
	r.mu.Unlock()
	observability.SetPendingResponses(pending)

	msg := protocol.NewCommand(id, sessionID, method, params)
	raw, err := protocol.Encode(msg)
	if err == nil {
		if r.hooks.OnMessageSent != nil {
			r.hooks.OnMessageSent(msg)
		}
		if r.hooks.DumpProtocol != nil {
			r.hooks.DumpProtocol("send", raw)
		}
		err = r.conn.SendRawMessage(raw)
	}
	if err != nil {
		log.Debug().Str("session", sessionID).Int64("id", id).Str("method", method).Err(err).Msg("session: send failed")
		r.failSend(entry, id, method)
		return true
	}
	log.Trace().Str("session", sessionID).Int64("id", id).Str("method", method).Msg("session: sent")
	return true
}

// OnMessage queues a raw incoming message for handling on the loop.
func (r *Router) OnMessage(raw []byte) {
	r.loop.Post(func() { r.handleMessage(raw) })
}

// RunAfterPendingDispatches runs fn once no non-long-polling command is
// outstanding. The check happens on a later turn and is re-armed whenever a
// response brings the outstanding count to zero.
func (r *Router) RunAfterPendingDispatches(fn func()) {
	r.mu.Lock()
	if fn != nil {
		r.afterDrain = append(r.afterDrain, fn)
	}
	r.armDrainLocked()
	r.mu.Unlock()
}

// HasOutstandingRequests reports whether a non-long-polling command awaits a
// response.
func (r *Router) HasOutstandingRequests() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outstandingLocked() > 0
}

// Close disconnects the underlying connection.
func (r *Router) Close(ctx context.Context) error {
	return r.conn.Disconnect(ctx)
}

func (r *Router) handleMessage(raw []byte) {
	if r.hooks.DumpProtocol != nil {
		r.hooks.DumpProtocol("recv", raw)
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		r.reporter.ProtocolError(fmt.Sprintf("Protocol Error: %v", err), nil)
		return
	}
	if r.hooks.OnMessageReceived != nil {
		r.hooks.OnMessageReceived(msg)
	}

	r.mu.Lock()
	var proxies []transport.Connection
	for _, entry := range r.sessions {
		if entry.proxy != nil {
			proxies = append(proxies, entry.proxy)
		}
	}
	entry, ok := r.sessions[msg.SessionID]
	r.mu.Unlock()

	suppressUnknown := false
	for _, proxy := range proxies {
		if err := proxy.SendRawMessage(raw); err != nil {
			log.Warn().Err(err).Msg("session: proxy forward failed")
		}
		suppressUnknown = true
	}

	if !ok {
		if !suppressUnknown {
			r.reporter.ProtocolError("Protocol Error: the message with wrong session id", msg)
		}
		return
	}
	// Traffic addressed to a proxied session belongs to the proxy.
	if entry.proxy != nil {
		return
	}

	if msg.HasID() {
		r.handleResponse(entry, msg, suppressUnknown)
		return
	}
	if msg.Method == "" {
		r.reporter.ProtocolError("Protocol Error: the message without method", msg)
		return
	}
	entry.target.Dispatch(msg)
}

func (r *Router) handleResponse(entry *sessionEntry, msg *protocol.Message, suppressUnknown bool) {
	item, ok := entry.pending.Take(msg.MessageID())
	if !ok {
		if !suppressUnknown {
			r.reporter.ProtocolError("Protocol Error: the message with wrong id", msg)
		}
		return
	}

	if !item.SentAt.IsZero() {
		if d := time.Since(item.SentAt); d < maxRecordedLatency {
			observability.ObserveCommandLatency(item.Domain, item.Method, d)
		}
	}
	if item.Callback != nil {
		item.Callback(msg.Error, msg.Result)
	}

	r.mu.Lock()
	r.releaseLocked(item.ID)
	r.maybeArmDrainLocked()
	pending := r.pendingCount
	r.mu.Unlock()
	observability.SetPendingResponses(pending)
}

func (r *Router) failSend(entry *sessionEntry, id int64, method string) {
	item, ok := entry.pending.Take(id)
	if !ok {
		return
	}
	r.mu.Lock()
	r.releaseLocked(id)
	r.mu.Unlock()
	if item.Callback != nil {
		r.loop.Post(func() {
			item.Callback(protocol.ConnectionClosedError(method), nil)
		})
	}
	r.mu.Lock()
	r.maybeArmDrainLocked()
	r.mu.Unlock()
}

func (r *Router) handleDisconnect(reason string) {
	r.mu.Lock()
	root, ok := r.sessions[""]
	r.mu.Unlock()
	log.Warn().Str("reason", reason).Bool("root", ok).Msg("session: connection lost")
	if ok {
		root.target.Dispose(reason)
	}
}

func (r *Router) releaseLocked(id int64) {
	r.pendingCount--
	delete(r.longPollIDs, id)
}

func (r *Router) outstandingLocked() int {
	return r.pendingCount - len(r.longPollIDs)
}

func (r *Router) maybeArmDrainLocked() {
	if len(r.afterDrain) > 0 && r.outstandingLocked() == 0 {
		r.armDrainLocked()
	}
}

func (r *Router) armDrainLocked() {
	if r.drainArmed {
		return
	}
	r.drainArmed = true
	r.loop.Post(r.checkDrain)
}

func (r *Router) checkDrain() {
	r.mu.Lock()
	r.drainArmed = false
	if r.outstandingLocked() > 0 {
		r.mu.Unlock()
		return
	}
	scripts := r.afterDrain
	r.afterDrain = nil
	r.mu.Unlock()

	for _, fn := range scripts {
		fn()
	}
}

// SessionSnapshot describes one registered session.
type SessionSnapshot struct {
	SessionID string   `json:"sessionId"`
	Pending   int      `json:"pending"`
	Proxy     bool     `json:"proxy"`
	Methods   []string `json:"methods,omitempty"`
}

// Snapshot is a point-in-time view of router state.
type Snapshot struct {
	Sessions      []SessionSnapshot `json:"sessions"`
	Pending       int               `json:"pending"`
	LongPolling   int               `json:"longPolling"`
	QueuedScripts int               `json:"queuedScripts"`
	LastID        int64             `json:"lastId"`
}

func (r *Router) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		Pending:       r.pendingCount,
		LongPolling:   len(r.longPollIDs),
		QueuedScripts: len(r.afterDrain),
		LastID:        r.lastID.Load(),
	}
	for id, entry := range r.sessions {
		items := entry.pending.List()
		methods := make([]string, 0, len(items))
		for _, item := range items {
			methods = append(methods, item.Method)
		}
		snap.Sessions = append(snap.Sessions, SessionSnapshot{
			SessionID: id,
			Pending:   len(items),
			Proxy:     entry.proxy != nil,
			Methods:   methods,
		})
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].SessionID < snap.Sessions[j].SessionID
	})
	return snap
}
