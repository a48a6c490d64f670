package target

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/danmuck/cdpwire/internal/protocol/schema"
)

// EventFunc receives the (decompressed) params object of an event.
type EventFunc func(params json.RawMessage)

// Dispatcher handles some subset of a domain's events.
type Dispatcher interface {
	// EventHandler returns the handler for an unqualified event name.
	EventHandler(method string) (EventFunc, bool)
}

// Handlers is a map-backed Dispatcher.
type Handlers struct {
	funcs map[string]EventFunc
}

func NewHandlers() *Handlers {
	return &Handlers{funcs: make(map[string]EventFunc)}
}

// On sets the handler for an unqualified event name.
func (h *Handlers) On(method string, fn EventFunc) *Handlers {
	h.funcs[method] = fn
	return h
}

func (h *Handlers) EventHandler(method string) (EventFunc, bool) {
	fn, ok := h.funcs[method]
	return fn, ok
}

// DispatcherManager fans a domain's events out to its dispatchers in
// registration order. Handler panics are not recovered.
type DispatcherManager struct {
	domain   *schema.Domain
	reporter protocol.Reporter

	mu          sync.Mutex
	dispatchers []Dispatcher
}

func NewDispatcherManager(d *schema.Domain, reporter protocol.Reporter) *DispatcherManager {
	return &DispatcherManager{domain: d, reporter: reporter}
}

func (m *DispatcherManager) Register(d Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchers = append(m.dispatchers, d)
}

// Unregister removes the first registration of d.
func (m *DispatcherManager) Unregister(d Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := slices.Index(m.dispatchers, d); i >= 0 {
		m.dispatchers = slices.Delete(m.dispatchers, i, i+1)
	}
}

func (m *DispatcherManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatchers)
}

// Dispatch delivers msg, an event of this domain named method, to every
// dispatcher implementing it.
func (m *DispatcherManager) Dispatch(method string, msg *protocol.Message) {
	m.mu.Lock()
	dispatchers := slices.Clone(m.dispatchers)
	m.mu.Unlock()
	if len(dispatchers) == 0 {
		return
	}
	if !m.domain.HasEvent(method) {
		m.reporter.ProtocolWarning(fmt.Sprintf("Protocol Warning: Attempted to dispatch an unspecified event '%s'", msg.Method), msg)
		return
	}
	params, err := protocol.EventParams(msg)
	if err != nil {
		m.reporter.ProtocolError(fmt.Sprintf("Protocol Error: %v", err), msg)
		return
	}
	for _, d := range dispatchers {
		if fn, ok := d.EventHandler(method); ok && fn != nil {
			fn(params)
		}
	}
}
