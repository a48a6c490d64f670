package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cdpwire/internal/target"
	"github.com/danmuck/cdpwire/internal/transport"
)

const (
	TransportWebSocket = "websocket"
	TransportPipe      = "pipe"
)

// ClientConfig is the resolved cdpctl configuration.
type ClientConfig struct {
	Endpoint  string
	Transport string
	// Descriptor is a protocol JSON file; empty selects the embedded core.
	Descriptor string
	LogLevel   string

	Dial transport.DialConfig

	// BrowserPath, with the pipe transport, launches that browser instead of
	// speaking the pipe protocol on stdin and stdout.
	BrowserPath string
	BrowserArgs []string

	LongPollingMethods    []string
	DebouncedMethods      []string
	SuppressRequestErrors bool

	// DebugAddr enables the debug HTTP server when non-empty.
	DebugAddr   string
	CorsOrigins []string
	DebugToken  string
}

type fileConfig struct {
	Endpoint              string      `toml:"endpoint"`
	Transport             string      `toml:"transport"`
	Descriptor            string      `toml:"descriptor"`
	LogLevel              string      `toml:"log_level"`
	SuppressRequestErrors bool        `toml:"suppress_request_errors"`
	LongPollingMethods    []string    `toml:"long_polling_methods"`
	DebouncedMethods      []string    `toml:"debounced_methods"`
	Dial                  dialFile    `toml:"dial"`
	Browser               browserFile `toml:"browser"`
	Debug                 debugFile   `toml:"debug"`
}

type dialFile struct {
	ConnectTimeout  string `toml:"connect_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	MaxMessageBytes int64  `toml:"max_message_bytes"`
	Attempts        uint   `toml:"attempts"`
	InitialDelay    string `toml:"initial_delay"`
	MaxDelay        string `toml:"max_delay"`
	Jitter          bool   `toml:"jitter"`
	CAFile          string `toml:"ca_file"`
}

type browserFile struct {
	Path string   `toml:"path"`
	Args []string `toml:"args"`
}

type debugFile struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

func DefaultClientConfig() ClientConfig {
	opts := target.DefaultOptions()
	return ClientConfig{
		Endpoint:           "ws://127.0.0.1:9222/devtools/browser",
		Transport:          TransportWebSocket,
		LogLevel:           "info",
		Dial:               transport.DefaultDialConfig(),
		LongPollingMethods: opts.LongPollingMethods,
		DebouncedMethods:   opts.DebouncedMethods,
	}
}

// LoadClientConfig overlays the keys defined in the TOML file at path onto
// the defaults and validates the result.
func LoadClientConfig(path string) (ClientConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return resolve(raw, meta)
}

// ParseClientConfig is LoadClientConfig for in-memory TOML.
func ParseClientConfig(data string) (ClientConfig, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (ClientConfig, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientConfig{}, fmt.Errorf("config has unknown key %q", undecoded[0].String())
	}
	cfg := DefaultClientConfig()

	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("descriptor") {
		cfg.Descriptor = strings.TrimSpace(raw.Descriptor)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("suppress_request_errors") {
		cfg.SuppressRequestErrors = raw.SuppressRequestErrors
	}
	if meta.IsDefined("long_polling_methods") {
		cfg.LongPollingMethods = normalizeList(raw.LongPollingMethods)
	}
	if meta.IsDefined("debounced_methods") {
		cfg.DebouncedMethods = normalizeList(raw.DebouncedMethods)
	}

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"dial.connect_timeout", raw.Dial.ConnectTimeout, &cfg.Dial.ConnectTimeout},
		{"dial.write_timeout", raw.Dial.WriteTimeout, &cfg.Dial.WriteTimeout},
		{"dial.initial_delay", raw.Dial.InitialDelay, &cfg.Dial.Backoff.InitialDelay},
		{"dial.max_delay", raw.Dial.MaxDelay, &cfg.Dial.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("dial", "max_message_bytes") {
		cfg.Dial.MaxMessageBytes = raw.Dial.MaxMessageBytes
	}
	if meta.IsDefined("dial", "attempts") {
		cfg.Dial.Attempts = raw.Dial.Attempts
	}
	if meta.IsDefined("dial", "jitter") {
		cfg.Dial.Backoff.Jitter = raw.Dial.Jitter
	}
	if meta.IsDefined("dial", "ca_file") {
		cfg.Dial.CAFile = strings.TrimSpace(raw.Dial.CAFile)
	}

	if meta.IsDefined("browser", "path") {
		cfg.BrowserPath = strings.TrimSpace(raw.Browser.Path)
	}
	if meta.IsDefined("browser", "args") {
		cfg.BrowserArgs = normalizeList(raw.Browser.Args)
	}

	if meta.IsDefined("debug", "addr") {
		cfg.DebugAddr = strings.TrimSpace(raw.Debug.Addr)
	}
	if meta.IsDefined("debug", "cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.Debug.CorsOrigins)
	}
	if meta.IsDefined("debug", "token") {
		cfg.DebugToken = strings.TrimSpace(raw.Debug.Token)
	}

	if err := Validate(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func Validate(cfg ClientConfig) error {
	switch cfg.Transport {
	case TransportWebSocket:
		u, err := url.Parse(cfg.Endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("endpoint must be a ws:// or wss:// url, got %q", cfg.Endpoint)
		}
	case TransportPipe:
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.BrowserPath != "" && cfg.Transport != TransportPipe {
		return fmt.Errorf("browser.path requires the pipe transport")
	}
	if cfg.Dial.ConnectTimeout <= 0 {
		return fmt.Errorf("dial.connect_timeout must be positive")
	}
	if cfg.Dial.Attempts == 0 {
		return fmt.Errorf("dial.attempts must be at least 1")
	}
	if cfg.Dial.MaxMessageBytes <= 0 {
		return fmt.Errorf("dial.max_message_bytes must be positive")
	}
	if cfg.Dial.Backoff.MaxDelay < cfg.Dial.Backoff.InitialDelay {
		return fmt.Errorf("dial.max_delay must not be below dial.initial_delay")
	}
	for _, m := range append(slices.Clone(cfg.LongPollingMethods), cfg.DebouncedMethods...) {
		if !strings.Contains(m, ".") {
			return fmt.Errorf("method %q is not qualified", m)
		}
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		if v := strings.TrimSpace(m); v != "" {
			out = append(out, v)
		}
	}
	return out
}
