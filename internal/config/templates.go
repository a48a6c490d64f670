package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Template renders a config file of the given kind from the defaults.
func Template(kind string) (string, error) {
	cfg := DefaultClientConfig()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client", "websocket":
	case "debug":
		cfg.DebugAddr = "127.0.0.1:9300"
		cfg.CorsOrigins = []string{"http://localhost:3000"}
	case "pipe":
		cfg.Transport = TransportPipe
		cfg.Endpoint = ""
		cfg.BrowserPath = "/usr/bin/chromium"
		cfg.BrowserArgs = []string{"--headless=new", "--no-first-run"}
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	data, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return string(data), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg ClientConfig) fileConfig {
	return fileConfig{
		Endpoint:              cfg.Endpoint,
		Transport:             cfg.Transport,
		Descriptor:            cfg.Descriptor,
		LogLevel:              cfg.LogLevel,
		SuppressRequestErrors: cfg.SuppressRequestErrors,
		LongPollingMethods:    cfg.LongPollingMethods,
		DebouncedMethods:      cfg.DebouncedMethods,
		Dial: dialFile{
			ConnectTimeout:  cfg.Dial.ConnectTimeout.String(),
			WriteTimeout:    cfg.Dial.WriteTimeout.String(),
			MaxMessageBytes: cfg.Dial.MaxMessageBytes,
			Attempts:        cfg.Dial.Attempts,
			InitialDelay:    cfg.Dial.Backoff.InitialDelay.String(),
			MaxDelay:        cfg.Dial.Backoff.MaxDelay.String(),
			Jitter:          cfg.Dial.Backoff.Jitter,
			CAFile:          cfg.Dial.CAFile,
		},
		Browser: browserFile{
			Path: cfg.BrowserPath,
			Args: cfg.BrowserArgs,
		},
		Debug: debugFile{
			Addr:        cfg.DebugAddr,
			CorsOrigins: cfg.CorsOrigins,
			Token:       cfg.DebugToken,
		},
	}
}
