package transport

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       bool
}

// DialConfig defines WebSocket dial and write defaults.
type DialConfig struct {
	ConnectTimeout  time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	Attempts        uint
	Backoff         BackoffConfig
	// CAFile is a PEM bundle of roots for wss:// endpoints. Empty uses the
	// system roots.
	CAFile string
}

// DefaultDialConfig returns defaults suitable for a local browser endpoint.
func DefaultDialConfig() DialConfig {
	return DialConfig{
		ConnectTimeout:  5 * time.Second,
		WriteTimeout:    15 * time.Second,
		MaxMessageBytes: 256 * 1024 * 1024,
		Attempts:        5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}
