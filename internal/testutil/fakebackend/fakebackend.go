// Package fakebackend serves a scripted DevTools endpoint over WebSocket for
// transport and target tests.
package fakebackend

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/gorilla/websocket"
)

// Responder decides the reply for an incoming command. Returning ok=false
// leaves the command unanswered; Reply can answer it later.
type Responder func(cmd *protocol.Message) (result any, perr *protocol.Error, ok bool)

type Server struct {
	t        testing.TB
	srv      *httptest.Server
	upgrader websocket.Upgrader
	respond  Responder

	mu       sync.Mutex
	conns    []*client
	received []*protocol.Message
	notify   chan struct{}
}

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// New starts a backend. A nil responder answers every command with {}.
func New(t testing.TB, respond Responder) *Server {
	t.Helper()
	return start(t, respond, nil)
}

// NewTLS is New serving wss:// with the given server config.
func NewTLS(t testing.TB, respond Responder, cfg *tls.Config) *Server {
	t.Helper()
	return start(t, respond, cfg)
}

func start(t testing.TB, respond Responder, tlsConfig *tls.Config) *Server {
	if respond == nil {
		respond = func(*protocol.Message) (any, *protocol.Error, bool) {
			return map[string]any{}, nil, true
		}
	}
	s := &Server{
		t:       t,
		respond: respond,
		notify:  make(chan struct{}, 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.srv = httptest.NewUnstartedServer(http.HandlerFunc(s.handle))
	if tlsConfig != nil {
		s.srv.TLS = tlsConfig
		s.srv.StartTLS()
	} else {
		s.srv.Start()
	}
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// (or wss://) endpoint of the backend.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/devtools/browser/fake"
}

func (s *Server) Close() {
	s.CloseClients()
	s.srv.Close()
}

// CloseClients drops every client connection without a close handshake.
func (s *Server) CloseClients() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
}

// Received returns a copy of every command read so far.
func (s *Server) Received() []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Message, len(s.received))
	copy(out, s.received)
	return out
}

// WaitFor blocks until n commands with the given method were received or the
// timeout elapses, and returns those seen.
func (s *Server) WaitFor(method string, n int, timeout time.Duration) []*protocol.Message {
	deadline := time.After(timeout)
	for {
		var seen []*protocol.Message
		for _, m := range s.Received() {
			if m.Method == method {
				seen = append(seen, m)
			}
		}
		if len(seen) >= n {
			return seen
		}
		select {
		case <-s.notify:
		case <-deadline:
			return seen
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Reply answers a held command.
func (s *Server) Reply(cmd *protocol.Message, result any, perr *protocol.Error) error {
	resp := &protocol.Message{ID: cmd.ID, SessionID: cmd.SessionID, Error: perr}
	if perr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resp.Result = raw
	}
	return s.Send(resp)
}

// Send writes msg to every connected client.
func (s *Server) Send(msg *protocol.Message) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.SendRaw(raw)
}

// SendRaw writes raw bytes to every connected client.
func (s *Server) SendRaw(raw []byte) error {
	s.mu.Lock()
	conns := append([]*client(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.write(raw); err != nil {
			return err
		}
	}
	return nil
}

// Emit sends an event with the given params.
func (s *Server) Emit(sessionID, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.Send(&protocol.Message{SessionID: sessionID, Method: method, Params: raw})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Logf("fakebackend: upgrade: %v", err)
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.t.Logf("fakebackend: decode: %v", err)
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}

		result, perr, ok := s.respond(msg)
		if !ok {
			continue
		}
		if err := s.Reply(msg, result, perr); err != nil {
			s.t.Logf("fakebackend: reply: %v", err)
		}
	}
}
