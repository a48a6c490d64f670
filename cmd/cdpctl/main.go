package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/cdpwire/internal/config"
	"github.com/danmuck/cdpwire/internal/logging"
	"github.com/danmuck/cdpwire/internal/observability"
	"github.com/danmuck/cdpwire/internal/protocol/schema"
	"github.com/danmuck/cdpwire/internal/server"
	"github.com/danmuck/cdpwire/internal/target"
	"github.com/danmuck/cdpwire/internal/tools"
	"github.com/danmuck/cdpwire/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var errConnectionLost = errors.New("connection to browser lost")

type flags struct {
	config     string
	endpoint   string
	descriptor string
	enable     string
	attach     string
	debugAddr  string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to cdpctl.toml")
	flag.StringVar(&f.endpoint, "endpoint", "", "browser websocket endpoint (overrides config)")
	flag.StringVar(&f.descriptor, "descriptor", "", "protocol descriptor JSON (defaults to the embedded core)")
	flag.StringVar(&f.enable, "enable", "Page,Runtime", "comma list of domains to enable")
	flag.StringVar(&f.attach, "attach", "", "target id to attach to in flatten mode")
	flag.StringVar(&f.debugAddr, "debug-addr", "", "debug HTTP server address (overrides config)")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "cdpctl: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := observability.InitLogger("cdpctl")
	if level, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := schema.NewRegistry()
	if cfg.Descriptor != "" {
		err = schema.LoadDescriptorFile(cfg.Descriptor, reg)
	} else {
		err = schema.LoadCore(reg)
	}
	if err != nil {
		return err
	}

	var browser atomic.Pointer[tools.Process]
	backend := target.NewBackend(reg, target.BackendConfig{
		Factory: connectionFactory(ctx, cfg, &browser),
		Options: cfg.TargetOptions(),
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("backend close")
		}
		if p := browser.Load(); p != nil {
			if err := p.Stop(closeCtx); err != nil {
				logger.Warn().Err(err).Int("pid", p.Pid()).Msg("browser stop")
			}
		}
	}()

	root, err := target.New(backend, target.Options{Name: "browser"})
	if err != nil {
		return err
	}
	domains := parseDomains(f.enable)
	if err := enableDomains(ctx, root, domains); err != nil {
		return err
	}
	if f.attach != "" {
		if _, err := attach(ctx, root, f.attach, domains); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.DebugAddr != "" {
		srv := server.New(cfg.ServerConfig("cdpctl"), backend)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-root.Done():
			return errConnectionLost
		}
	})
	logger.Info().Str("endpoint", cfg.Endpoint).Strs("domains", domains).Msg("cdpctl ready")
	return g.Wait()
}

func loadConfig(f flags) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if f.config != "" {
		loaded, err := config.LoadClientConfig(f.config)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if f.endpoint != "" {
		cfg.Endpoint = f.endpoint
	}
	if f.descriptor != "" {
		cfg.Descriptor = f.descriptor
	}
	if f.debugAddr != "" {
		cfg.DebugAddr = f.debugAddr
	}
	if err := config.Validate(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}

// connectionFactory picks the transport. A launched browser is recorded in
// launched so it can be stopped on shutdown.
func connectionFactory(ctx context.Context, cfg config.ClientConfig, launched *atomic.Pointer[tools.Process]) transport.Factory {
	if cfg.Transport == config.TransportPipe {
		if cfg.BrowserPath != "" {
			l := cfg.Launcher()
			l.Stderr = os.Stderr
			return l.Factory(ctx, func(p *tools.Process) {
				launched.Store(p)
				log.Info().Int("pid", p.Pid()).Str("path", l.Path).Msg("browser launched")
			})
		}
		return func() (transport.Connection, error) {
			return transport.NewPipe(os.Stdin, os.Stdout, cfg.FrameLimits()), nil
		}
	}
	return transport.WebSocketFactory(ctx, cfg.Endpoint, cfg.Dial)
}

func parseDomains(raw string) []string {
	var out []string
	for _, d := range strings.Split(raw, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// enableDomains calls <Domain>.enable on t for each domain that has one and
// logs its events.
func enableDomains(ctx context.Context, t *target.Target, domains []string) error {
	reg := t.Backend().Registry()
	for _, d := range domains {
		if _, ok := reg.Domain(d); !ok {
			return fmt.Errorf("unknown domain %q", d)
		}
		if err := t.RegisterDispatcher(d, newEventLogger(t, d)); err != nil {
			return err
		}
		if _, ok := reg.Command(d + ".enable"); !ok {
			continue
		}
		if _, err := t.Agent(d).Call(ctx, "enable"); err != nil {
			return fmt.Errorf("%s.enable: %w", d, err)
		}
	}
	return nil
}

// attach opens a flattened session to targetID and mirrors the enabled
// domains on it. The child is disposed when the browser reports it detached.
func attach(ctx context.Context, root *target.Target, targetID string, domains []string) (*target.Target, error) {
	var attached atomic.Pointer[target.Target]
	detached := target.NewHandlers().On("detachedFromTarget", func(params json.RawMessage) {
		var ev struct {
			SessionID string `json:"sessionId"`
		}
		child := attached.Load()
		if child == nil || json.Unmarshal(params, &ev) != nil || ev.SessionID != child.SessionID() {
			return
		}
		child.Dispose("detached from target")
	})
	if err := root.RegisterDispatcher("Target", detached); err != nil {
		return nil, fmt.Errorf("attach %s: %w", targetID, err)
	}
	child, err := openSession(ctx, root, targetID)
	if err != nil {
		root.UnregisterDispatcher("Target", detached)
		return nil, err
	}
	attached.Store(child)
	if err := enableDomains(ctx, child, domains); err != nil {
		return nil, err
	}
	log.Info().Str("target", targetID).Str("session", child.SessionID()).Msg("attached")
	return child, nil
}

func openSession(ctx context.Context, root *target.Target, targetID string) (*target.Target, error) {
	reply, err := root.Agent("Target").Call(ctx, "attachToTarget", targetID, true)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", targetID, err)
	}
	var sessionID string
	if err := json.Unmarshal(reply, &sessionID); err != nil {
		return nil, fmt.Errorf("attach %s: bad session id: %w", targetID, err)
	}
	return target.New(root.Backend(), target.Options{Parent: root, SessionID: sessionID, Name: targetID})
}
