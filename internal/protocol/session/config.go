package session

import "github.com/danmuck/cdpwire/internal/protocol"

// DefaultLongPollingMethods never block drain detection.
var DefaultLongPollingMethods = []string{"CSS.takeComputedStyleUpdates"}

// Hooks observe raw traffic. They run on the caller's goroutine for sends and
// on the loop for receives.
type Hooks struct {
	OnMessageSent     func(msg *protocol.Message)
	OnMessageReceived func(msg *protocol.Message)
	// DumpProtocol receives every raw message with direction "send" or "recv".
	DumpProtocol func(direction string, raw []byte)
}

// Config defines router behavior.
type Config struct {
	LongPollingMethods []string
	Hooks              Hooks
}

func DefaultConfig() Config {
	return Config{
		LongPollingMethods: append([]string(nil), DefaultLongPollingMethods...),
	}
}
