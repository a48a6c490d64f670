package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/cdpwire/internal/testutil/testlog"
)

func TestParseClientConfigOverlaysDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := ParseClientConfig(`
endpoint = "ws://localhost:9333/devtools/page/ABC"
suppress_request_errors = true
debounced_methods = ["DOM.getBoxModel", " "]

[dial]
connect_timeout = "2s"
attempts = 3
jitter = false

[debug]
addr = "127.0.0.1:9300"
cors_origins = ["http://localhost:3000"]
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def := DefaultClientConfig()
	if cfg.Endpoint != "ws://localhost:9333/devtools/page/ABC" {
		t.Fatalf("endpoint not applied: %q", cfg.Endpoint)
	}
	if cfg.Transport != TransportWebSocket {
		t.Fatalf("transport should default, got %q", cfg.Transport)
	}
	if !cfg.SuppressRequestErrors {
		t.Fatalf("suppress_request_errors not applied")
	}
	if !slices.Equal(cfg.DebouncedMethods, []string{"DOM.getBoxModel"}) {
		t.Fatalf("unexpected debounced methods: %v", cfg.DebouncedMethods)
	}
	if !slices.Equal(cfg.LongPollingMethods, def.LongPollingMethods) {
		t.Fatalf("long polling methods should default: %v", cfg.LongPollingMethods)
	}
	if cfg.Dial.ConnectTimeout != 2*time.Second || cfg.Dial.Attempts != 3 || cfg.Dial.Backoff.Jitter {
		t.Fatalf("dial overrides not applied: %+v", cfg.Dial)
	}
	if cfg.Dial.WriteTimeout != def.Dial.WriteTimeout {
		t.Fatalf("write timeout should default: %v", cfg.Dial.WriteTimeout)
	}
	if cfg.DebugAddr != "127.0.0.1:9300" || len(cfg.CorsOrigins) != 1 {
		t.Fatalf("debug section not applied: %q %v", cfg.DebugAddr, cfg.CorsOrigins)
	}

	opts := cfg.TargetOptions()
	if !opts.SuppressRequestErrors || !slices.Equal(opts.DebouncedMethods, cfg.DebouncedMethods) {
		t.Fatalf("target options not mapped: %+v", opts)
	}
}

func TestParseClientConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":       `bogus = 1`,
		"bad duration":      "[dial]\nconnect_timeout = \"soon\"",
		"http endpoint":     `endpoint = "http://localhost:9222"`,
		"unknown transport": `transport = "carrier-pigeon"`,
		"zero attempts":     "[dial]\nattempts = 0",
		"unqualified":       `long_polling_methods = ["takeComputedStyleUpdates"]`,
		"inverted backoff":  "[dial]\ninitial_delay = \"10s\"\nmax_delay = \"1s\"",
		"browser over ws":   "[browser]\npath = \"/usr/bin/chromium\"",
	}
	for name, data := range cases {
		if _, err := ParseClientConfig(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPipeTransportSkipsEndpointCheck(t *testing.T) {
	testlog.Start(t)
	cfg, err := ParseClientConfig("transport = \"pipe\"\nendpoint = \"\"")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Transport != TransportPipe {
		t.Fatalf("unexpected transport %q", cfg.Transport)
	}
	if got := cfg.FrameLimits().MaxMessageBytes; got != int(cfg.Dial.MaxMessageBytes) {
		t.Fatalf("frame limits not mapped: %d", got)
	}
	if cfg.BrowserPath != "" {
		t.Fatalf("browser should stay unset: %q", cfg.BrowserPath)
	}
}

func TestBrowserSectionMapsToLauncher(t *testing.T) {
	testlog.Start(t)
	cfg, err := ParseClientConfig(`
transport = "pipe"

[browser]
path = " /opt/chrome/chrome "
args = ["--headless=new", "", "--mute-audio"]
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	l := cfg.Launcher()
	if l.Path != "/opt/chrome/chrome" {
		t.Fatalf("unexpected path %q", l.Path)
	}
	if !slices.Equal(l.Args, []string{"--headless=new", "--mute-audio"}) {
		t.Fatalf("unexpected args %v", l.Args)
	}
	if l.Limits != cfg.FrameLimits() {
		t.Fatalf("launcher limits not mapped: %+v", l.Limits)
	}
}

func TestTemplatesLoadBack(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range []string{"client", "debug", "pipe"} {
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("%s: write: %v", kind, err)
		}
		cfg, err := LoadClientConfig(path)
		if err != nil {
			t.Fatalf("%s: load: %v", kind, err)
		}
		def := DefaultClientConfig()
		if cfg.Dial != def.Dial {
			t.Fatalf("%s: dial config did not round trip: %+v", kind, cfg.Dial)
		}
		if !slices.Equal(cfg.DebouncedMethods, def.DebouncedMethods) {
			t.Fatalf("%s: debounced methods did not round trip: %v", kind, cfg.DebouncedMethods)
		}
		if kind == "debug" && cfg.DebugAddr == "" {
			t.Fatalf("debug template should enable the debug server")
		}
		if kind == "pipe" && (cfg.Transport != TransportPipe || cfg.BrowserPath == "") {
			t.Fatalf("pipe template should launch a browser: %+v", cfg)
		}
	}

	path := filepath.Join(dir, "client.toml")
	if err := WriteTemplate(path, "client", false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if err := WriteTemplate(path, "client", true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
	if _, err := Template("bogus"); err == nil {
		t.Fatalf("unknown kind should fail")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template missing: %v", err)
	}
}
