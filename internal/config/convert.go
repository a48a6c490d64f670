package config

import (
	"slices"

	"github.com/danmuck/cdpwire/internal/protocol/frame"
	"github.com/danmuck/cdpwire/internal/server"
	"github.com/danmuck/cdpwire/internal/target"
	"github.com/danmuck/cdpwire/internal/tools"
)

// TargetOptions maps the config onto Backend options.
func (c ClientConfig) TargetOptions() target.BackendOptions {
	opts := target.DefaultOptions()
	opts.SuppressRequestErrors = c.SuppressRequestErrors
	opts.LongPollingMethods = slices.Clone(c.LongPollingMethods)
	opts.DebouncedMethods = slices.Clone(c.DebouncedMethods)
	return opts
}

// FrameLimits maps the dial limits onto pipe framing.
func (c ClientConfig) FrameLimits() frame.Limits {
	return frame.Limits{MaxMessageBytes: int(c.Dial.MaxMessageBytes)}
}

// ServerConfig maps the debug section onto the debug server.
func (c ClientConfig) ServerConfig(name string) server.Config {
	return server.Config{
		Name:        name,
		Addr:        c.DebugAddr,
		CorsOrigins: slices.Clone(c.CorsOrigins),
		Token:       c.DebugToken,
	}
}

// Launcher maps the browser section onto a pipe launcher.
func (c ClientConfig) Launcher() tools.Launcher {
	return tools.Launcher{
		Path:   c.BrowserPath,
		Args:   slices.Clone(c.BrowserArgs),
		Limits: c.FrameLimits(),
	}
}
