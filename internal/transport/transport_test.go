package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/danmuck/cdpwire/internal/protocol/frame"
	"github.com/danmuck/cdpwire/internal/testutil/fakebackend"
	"github.com/danmuck/cdpwire/internal/testutil/testlog"
	"github.com/danmuck/cdpwire/internal/testutil/tlstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu     sync.Mutex
	msgs   []string
	reason chan string
	got    chan struct{}
}

func newInbox() *inbox {
	return &inbox{reason: make(chan string, 1), got: make(chan struct{}, 64)}
}

func (i *inbox) onMessage(data []byte) {
	i.mu.Lock()
	i.msgs = append(i.msgs, string(data))
	i.mu.Unlock()
	i.got <- struct{}{}
}

func (i *inbox) onDisconnect(reason string) { i.reason <- reason }

func (i *inbox) wait(t *testing.T, n int) []string {
	t.Helper()
	for k := 0; k < n; k++ {
		select {
		case <-i.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", k+1)
		}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.msgs...)
}

func testDialConfig() DialConfig {
	cfg := DefaultDialConfig()
	cfg.Attempts = 3
	cfg.Backoff.InitialDelay = 5 * time.Millisecond
	cfg.Backoff.MaxDelay = 20 * time.Millisecond
	return cfg
}

func TestWebSocketRoundTrip(t *testing.T) {
	testlog.Start(t)
	backend := fakebackend.New(t, func(cmd *protocol.Message) (any, *protocol.Error, bool) {
		return map[string]string{"echo": cmd.Method}, nil, true
	})

	ws, err := DialWebSocket(context.Background(), backend.URL(), testDialConfig())
	require.NoError(t, err)
	defer ws.Disconnect(context.Background())
	assert.NotEmpty(t, ws.ID())

	in := newInbox()
	ws.SetOnDisconnect(in.onDisconnect)
	ws.SetOnMessage(in.onMessage)

	require.NoError(t, ws.SendRawMessage([]byte(`{"id":1,"method":"Page.enable"}`)))
	msgs := in.wait(t, 1)
	assert.JSONEq(t, `{"id":1,"result":{"echo":"Page.enable"}}`, msgs[0])

	require.NoError(t, backend.Emit("S1", "Page.loadEventFired", map[string]float64{"timestamp": 1}))
	msgs = in.wait(t, 1)
	assert.JSONEq(t, `{"sessionId":"S1","method":"Page.loadEventFired","params":{"timestamp":1}}`, msgs[1])
}

func TestWebSocketRemoteCloseNotifiesOnce(t *testing.T) {
	testlog.Start(t)
	backend := fakebackend.New(t, nil)

	ws, err := DialWebSocket(context.Background(), backend.URL(), testDialConfig())
	require.NoError(t, err)

	in := newInbox()
	ws.SetOnDisconnect(in.onDisconnect)
	ws.SetOnMessage(in.onMessage)

	require.NoError(t, ws.SendRawMessage([]byte(`{"id":1,"method":"Page.enable"}`)))
	in.wait(t, 1)
	backend.CloseClients()

	select {
	case reason := <-in.reason:
		assert.NotEmpty(t, reason)
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect not reported")
	}
	assert.ErrorIs(t, ws.SendRawMessage([]byte(`{}`)), ErrClosed)
}

func TestWebSocketLocalDisconnectIsSilent(t *testing.T) {
	testlog.Start(t)
	backend := fakebackend.New(t, nil)

	ws, err := DialWebSocket(context.Background(), backend.URL(), testDialConfig())
	require.NoError(t, err)
	in := newInbox()
	ws.SetOnDisconnect(in.onDisconnect)
	ws.SetOnMessage(in.onMessage)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = ws.Disconnect(ctx)
	require.NoError(t, ws.Disconnect(ctx))

	select {
	case reason := <-in.reason:
		t.Fatalf("unexpected disconnect callback: %s", reason)
	case <-time.After(50 * time.Millisecond):
	}
	assert.ErrorIs(t, ws.SendRawMessage([]byte(`{}`)), ErrClosed)
}

func TestDialWebSocketGivesUp(t *testing.T) {
	testlog.Start(t)
	cfg := testDialConfig()
	cfg.Attempts = 2
	cfg.ConnectTimeout = 100 * time.Millisecond

	_, err := DialWebSocket(context.Background(), "ws://127.0.0.1:1/devtools", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport: dial")
}

func TestPipeRoundTrip(t *testing.T) {
	testlog.Start(t)
	clientR, browserW := io.Pipe()
	browserR, clientW := io.Pipe()

	p := NewPipe(clientR, clientW, frame.DefaultLimits())
	in := newInbox()
	p.SetOnDisconnect(in.onDisconnect)
	p.SetOnMessage(in.onMessage)

	go func() {
		r := frame.NewReader(browserR, frame.DefaultLimits())
		for {
			data, err := r.ReadFrame()
			if err != nil {
				return
			}
			_ = frame.WriteFrame(browserW, append([]byte(`{"echo":`), append(data, '}')...), frame.DefaultLimits())
		}
	}()

	require.NoError(t, p.SendRawMessage([]byte(`{"id":1}`)))
	msgs := in.wait(t, 1)
	assert.Equal(t, `{"echo":{"id":1}}`, msgs[0])

	assert.ErrorIs(t, p.SendRawMessage([]byte("a\x00b")), frame.ErrEmbeddedNUL)

	require.NoError(t, browserW.Close())
	select {
	case reason := <-in.reason:
		assert.Equal(t, "pipe closed", reason)
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect not reported")
	}
	_ = p.Disconnect(context.Background())
	assert.ErrorIs(t, p.SendRawMessage([]byte(`{}`)), ErrClosed)
}

func TestPairDeliversInOrderAndReportsDisconnect(t *testing.T) {
	testlog.Start(t)
	a, b := NewPair()

	in := newInbox()
	b.SetOnMessage(in.onMessage)
	b.SetOnDisconnect(in.onDisconnect)

	for _, m := range []string{"1", "2", "3"} {
		require.NoError(t, a.SendRawMessage([]byte(m)))
	}
	assert.Equal(t, []string{"1", "2", "3"}, in.wait(t, 3))

	require.NoError(t, a.Disconnect(context.Background()))
	select {
	case reason := <-in.reason:
		assert.Equal(t, "peer disconnected", reason)
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect not reported")
	}
	assert.True(t, errors.Is(a.SendRawMessage([]byte("x")), ErrClosed))
	assert.True(t, errors.Is(b.SendRawMessage([]byte("x")), ErrClosed))
}

func TestWebSocketTLSWithCAFile(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t)
	backend := fakebackend.NewTLS(t, nil, ca.ServerConfig(t))
	require.True(t, strings.HasPrefix(backend.URL(), "wss://"))

	cfg := testDialConfig()
	cfg.Attempts = 1
	_, err := DialWebSocket(context.Background(), backend.URL(), cfg)
	require.Error(t, err, "untrusted certificate must be rejected")

	cfg.CAFile = ca.CAFile()
	ws, err := DialWebSocket(context.Background(), backend.URL(), cfg)
	require.NoError(t, err)
	defer ws.Disconnect(context.Background())

	in := newInbox()
	ws.SetOnMessage(in.onMessage)
	require.NoError(t, ws.SendRawMessage([]byte(`{"id":7,"method":"Page.enable"}`)))
	msgs := in.wait(t, 1)
	assert.JSONEq(t, `{"id":7,"result":{}}`, msgs[0])
}

func TestDialRejectsBadCAFile(t *testing.T) {
	testlog.Start(t)
	cfg := testDialConfig()
	cfg.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err := DialWebSocket(context.Background(), "wss://127.0.0.1:1/devtools", cfg)
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("not a cert"), 0o600))
	cfg.CAFile = empty
	_, err = DialWebSocket(context.Background(), "wss://127.0.0.1:1/devtools", cfg)
	assert.ErrorContains(t, err, "no certificates")
}
