package main

import (
	"context"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/cdpwire/internal/config"
	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/danmuck/cdpwire/internal/protocol/schema"
	"github.com/danmuck/cdpwire/internal/target"
	"github.com/danmuck/cdpwire/internal/testutil/fakebackend"
	"github.com/danmuck/cdpwire/internal/testutil/testlog"
	"github.com/danmuck/cdpwire/internal/tools"
)

func TestParseDomains(t *testing.T) {
	testlog.Start(t)
	got := parseDomains(" Page, ,Runtime,")
	if !slices.Equal(got, []string{"Page", "Runtime"}) {
		t.Fatalf("unexpected domains: %v", got)
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig(flags{endpoint: "ws://127.0.0.1:9999/devtools/browser/x", debugAddr: ":9300"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "ws://127.0.0.1:9999/devtools/browser/x" || cfg.DebugAddr != ":9300" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if _, err := loadConfig(flags{endpoint: "http://nope"}); err == nil {
		t.Fatalf("invalid endpoint should be rejected")
	}
}

func TestSampleConfigLoads(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig(flags{config: "cdpctl.toml"})
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if cfg.Transport != config.TransportWebSocket || cfg.DebugAddr == "" {
		t.Fatalf("unexpected sample config: %+v", cfg)
	}
	if !slices.Equal(cfg.DebouncedMethods, target.DefaultDebouncedMethods) {
		t.Fatalf("sample debounced methods drifted: %v", cfg.DebouncedMethods)
	}
}

func TestAttachOpensFlattenedSession(t *testing.T) {
	testlog.Start(t)
	backend := fakebackend.New(t, func(cmd *protocol.Message) (any, *protocol.Error, bool) {
		if cmd.Method == "Target.attachToTarget" {
			return map[string]string{"sessionId": "SESSION-1"}, nil, true
		}
		return map[string]any{}, nil, true
	})

	cfg := config.DefaultClientConfig()
	cfg.Endpoint = backend.URL()
	cfg.Dial.Attempts = 1

	reg := schema.NewRegistry()
	if err := schema.LoadCore(reg); err != nil {
		t.Fatalf("load core: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := target.NewBackend(reg, target.BackendConfig{
		Reporter: &protocol.RecordingReporter{},
		Factory:  connectionFactory(ctx, cfg, new(atomic.Pointer[tools.Process])),
		Options:  cfg.TargetOptions(),
	})
	defer b.Close(context.Background())

	root, err := target.New(b, target.Options{Name: "browser"})
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if err := enableDomains(ctx, root, []string{"Page"}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	child, err := attach(ctx, root, "TARGET-1", []string{"Page"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if child.SessionID() != "SESSION-1" {
		t.Fatalf("unexpected session %q", child.SessionID())
	}

	enables := backend.WaitFor("Page.enable", 2, 2*time.Second)
	if len(enables) != 2 || enables[0].SessionID != "" || enables[1].SessionID != "SESSION-1" {
		t.Fatalf("Page.enable not sent on both sessions: %+v", enables)
	}
	attaches := backend.WaitFor("Target.attachToTarget", 1, time.Second)
	if len(attaches) != 1 || string(attaches[0].Params) != `{"flatten":true,"targetId":"TARGET-1"}` {
		t.Fatalf("unexpected attach params: %+v", attaches)
	}

	if err := backend.Emit("", "Target.detachedFromTarget", map[string]string{"sessionId": "SESSION-1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case <-child.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("child not disposed on detach")
	}

	if err := enableDomains(ctx, root, []string{"Nope"}); err == nil {
		t.Fatalf("unknown domain should fail")
	}
}

func TestAttachWithoutTargetDomainFails(t *testing.T) {
	testlog.Start(t)
	backend := fakebackend.New(t, nil)
	reg := schema.NewRegistry()
	if err := reg.RegisterCommand("Page.enable", nil, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	cfg := config.DefaultClientConfig()
	cfg.Endpoint = backend.URL()
	cfg.Dial.Attempts = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := target.NewBackend(reg, target.BackendConfig{
		Reporter: &protocol.RecordingReporter{},
		Factory:  connectionFactory(ctx, cfg, new(atomic.Pointer[tools.Process])),
		Options:  cfg.TargetOptions(),
	})
	defer b.Close(context.Background())

	root, err := target.New(b, target.Options{Name: "browser"})
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if _, err := attach(ctx, root, "TARGET-1", nil); err == nil || !strings.Contains(err.Error(), `unknown domain "Target"`) {
		t.Fatalf("expected unknown domain error, got %v", err)
	}
	if got := backend.WaitFor("Target.attachToTarget", 1, 100*time.Millisecond); len(got) != 0 {
		t.Fatalf("nothing should be sent: %+v", got)
	}
}
