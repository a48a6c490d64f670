package target

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/cdpwire/internal/observability"
	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/danmuck/cdpwire/internal/protocol/schema"
	"github.com/danmuck/cdpwire/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Response is the outcome of an object-form call. Err is a *protocol.Error
// for backend errors or a schema.ValidationError for rejected requests.
type Response struct {
	Result json.RawMessage
	Err    error
}

type cachedCall struct {
	params json.RawMessage
	cb     session.Callback
}

// Agent is the command surface of one domain on one target.
type Agent struct {
	target *Target
	domain *schema.Domain

	// Coalescing state for debounced methods.
	mu         sync.Mutex
	unresolved map[string]int
	cached     map[string]cachedCall
}

func newAgent(t *Target, d *schema.Domain) *Agent {
	return &Agent{
		target:     t,
		domain:     d,
		unresolved: make(map[string]int),
		cached:     make(map[string]cachedCall),
	}
}

func (a *Agent) Domain() string { return a.domain.Name }

// Call sends method with positional args and returns the first reply field.
// method may be unqualified ("getDocument") or qualified ("DOM.getDocument").
// Validation errors are also passed to the backend's error sink and nothing is
// sent. ctx bounds only the wait; the command itself is never cancelled. Call
// must not be used from a loop turn; use CallAsync there.
func (a *Agent) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	type outcome struct {
		reply json.RawMessage
		err   error
	}
	ch := make(chan outcome, 1)
	a.CallAsync(method, args, func(reply json.RawMessage, err error) {
		ch <- outcome{reply, err}
	})
	select {
	case out := <-ch:
		return out.reply, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallAsync is the callback form of Call. cb runs on a loop turn, or not at
// all when the call is superseded by a newer debounced call.
func (a *Agent) CallAsync(method string, args []any, cb func(reply json.RawMessage, err error)) {
	cmd, err := a.command(method)
	if err == nil {
		var params json.RawMessage
		params, err = cmd.PrepareParameters(args)
		if err == nil {
			a.send(cmd, params, func(perr *protocol.Error, result json.RawMessage) {
				if perr != nil {
					cb(nil, perr)
					return
				}
				cb(cmd.Reply(result), nil)
			})
			return
		}
	}
	a.target.backend.opts.ErrorSink(err)
	a.target.backend.post(func() { cb(nil, err) })
}

// Invoke sends method with request marshalled as the params object and
// returns the whole result.
func (a *Agent) Invoke(ctx context.Context, method string, request any) Response {
	ch := make(chan Response, 1)
	a.InvokeAsync(method, request, func(resp Response) { ch <- resp })
	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		return Response{Err: ctx.Err()}
	}
}

// InvokeAsync is the callback form of Invoke.
func (a *Agent) InvokeAsync(method string, request any, cb func(Response)) {
	cmd, err := a.command(method)
	var params json.RawMessage
	if err == nil {
		params, err = marshalRequest(cmd.Name, request)
	}
	if err != nil {
		a.target.backend.opts.ErrorSink(err)
		a.target.backend.post(func() { cb(Response{Err: err}) })
		return
	}
	a.send(cmd, params, func(perr *protocol.Error, result json.RawMessage) {
		if perr != nil {
			cb(Response{Result: result, Err: perr})
			return
		}
		cb(Response{Result: result})
	})
}

func marshalRequest(method string, request any) (json.RawMessage, error) {
	switch r := request.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return r, nil
	}
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, schema.ValidationError{Method: method, Reason: err.Error()}
	}
	if string(raw) == "null" {
		return nil, nil
	}
	if schema.TypeTag(json.RawMessage(raw)) != schema.TypeObject {
		return nil, schema.ValidationError{Method: method, Reason: "request must be an object"}
	}
	return raw, nil
}

func (a *Agent) command(method string) (*schema.Command, error) {
	name := method
	if domain, unqualified, ok := strings.Cut(method, "."); ok {
		if domain != a.domain.Name {
			return nil, schema.ValidationError{Method: method, Reason: fmt.Sprintf("not a %s command", a.domain.Name)}
		}
		name = unqualified
	}
	cmd, ok := a.domain.Commands[name]
	if !ok {
		return nil, schema.ValidationError{Method: protocol.QualifiedName(a.domain.Name, name), Reason: "unknown command"}
	}
	return cmd, nil
}

// send applies the coalescing policy and hands the command to the router.
func (a *Agent) send(cmd *schema.Command, params json.RawMessage, cb session.Callback) {
	cb = a.logErrors(cmd.Name, cb)
	if !a.target.backend.isDebounced(cmd.Name) {
		a.sendNow(cmd, params, cb)
		return
	}

	a.mu.Lock()
	if a.unresolved[cmd.Name] > 0 {
		if _, dropped := a.cached[cmd.Name]; dropped {
			observability.RecordCoalescedDrop(cmd.Name)
			log.Trace().Str("method", cmd.Name).Msg("target: superseded debounced call dropped")
		}
		a.cached[cmd.Name] = cachedCall{params: params, cb: cb}
		a.mu.Unlock()
		return
	}
	a.unresolved[cmd.Name]++
	a.mu.Unlock()
	a.sendNow(cmd, params, a.coalesced(cmd, cb))
}

// coalesced wraps cb so the cached call, if any, goes out once this one
// resolves.
func (a *Agent) coalesced(cmd *schema.Command, cb session.Callback) session.Callback {
	return func(perr *protocol.Error, result json.RawMessage) {
		cb(perr, result)

		a.mu.Lock()
		a.unresolved[cmd.Name]--
		next, ok := a.cached[cmd.Name]
		if ok {
			delete(a.cached, cmd.Name)
			a.unresolved[cmd.Name]++
		}
		a.mu.Unlock()
		if ok {
			a.sendNow(cmd, next.params, a.coalesced(cmd, next.cb))
		}
	}
}

// sendNow hands the command to the router. A target that lost its router, or
// whose session was unregistered concurrently, fails cb on a later turn so
// debounced bookkeeping always unwinds.
func (a *Agent) sendNow(cmd *schema.Command, params json.RawMessage, cb session.Callback) {
	if r := a.target.Router(); r != nil && r.SendMessage(a.target.sessionID, cmd.Domain, cmd.Name, params, cb) {
		return
	}
	perr := protocol.ConnectionClosedError(cmd.Name)
	a.target.backend.post(func() { cb(perr, nil) })
}

func (a *Agent) logErrors(method string, cb session.Callback) session.Callback {
	opts := a.target.backend.opts
	return func(perr *protocol.Error, result json.RawMessage) {
		if perr != nil && !opts.SuppressRequestErrors && !perr.Benign() {
			log.Error().
				Str("session", a.target.sessionID).
				Str("method", method).
				Int("code", perr.Code).
				Str("data", perr.Data).
				Msg(perr.Message)
		}
		cb(perr, result)
	}
}

// Pending reports the number of debounced calls of method that are on the
// wire and queued.
func (a *Agent) Pending(method string) (inFlight int, queued bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, queued = a.cached[method]
	return a.unresolved[method], queued
}
