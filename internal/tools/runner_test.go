package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/danmuck/cdpwire/internal/protocol/frame"
	"github.com/danmuck/cdpwire/internal/testutil/testlog"
)

const fakeBrowserEnv = "CDPWIRE_FAKE_BROWSER"

// TestMain doubles as a pipe-speaking browser when re-executed by the tests.
func TestMain(m *testing.M) {
	if os.Getenv(fakeBrowserEnv) == "1" {
		fakeBrowser()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func fakeBrowser() {
	in := os.NewFile(3, "cdp-commands")
	out := os.NewFile(4, "cdp-messages")
	r := frame.NewReader(in, frame.DefaultLimits())
	for {
		raw, err := r.ReadFrame()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			continue
		}
		result, _ := json.Marshal(map[string]string{"echo": msg.Method})
		resp, _ := protocol.Encode(&protocol.Message{ID: msg.ID, Result: result})
		if err := frame.WriteFrame(out, resp, frame.DefaultLimits()); err != nil {
			return
		}
	}
}

func fakeLauncher() Launcher {
	return Launcher{
		Path: os.Args[0],
		Env:  append(os.Environ(), fakeBrowserEnv+"=1"),
	}
}

func TestLaunchedBrowserSpeaksPipe(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := fakeLauncher().Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.Pid() <= 0 {
		t.Fatalf("unexpected pid %d", p.Pid())
	}

	got := make(chan []byte, 1)
	p.Pipe.SetOnMessage(func(raw []byte) { got <- raw })
	if err := p.Pipe.SendRawMessage([]byte(`{"id":1,"method":"Browser.getVersion"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case raw := <-got:
		msg, err := protocol.Decode(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.MessageID() != 1 || string(msg.Result) != `{"echo":"Browser.getVersion"}` {
			t.Fatalf("unexpected response: %s", raw)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no response from browser")
	}

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatalf("process should have exited")
	}
}

func TestFactoryReportsProcess(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var started *Process
	conn, err := fakeLauncher().Factory(ctx, func(p *Process) { started = p })()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if started == nil || conn != started.Pipe {
		t.Fatalf("factory should return the started process pipe")
	}
	if err := started.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStartMissingBinary(t *testing.T) {
	testlog.Start(t)
	_, err := Launcher{Path: "/nonexistent/chrome"}.Start(context.Background())
	if err == nil {
		t.Fatalf("expected start error")
	}
}

func TestExitCode(t *testing.T) {
	testlog.Start(t)
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("nil: got %d", got)
	}
	if got := ExitCode(&exec.Error{Name: "chrome", Err: exec.ErrNotFound}); got != 127 {
		t.Fatalf("exec error: got %d", got)
	}
	if got := ExitCode(errors.New("boom")); got != 1 {
		t.Fatalf("generic: got %d", got)
	}
	err := exec.Command(os.Args[0], "-test.run=^$", "-test.bogusflag").Run()
	if got := ExitCode(err); got == 0 || got == 127 {
		t.Fatalf("exit error: got %d", got)
	}
}
