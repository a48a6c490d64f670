package transport

import (
	"context"
	"fmt"

	"github.com/avast/retry-go/v5"
	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// DialWebSocket connects to a DevTools WebSocket endpoint, retrying with
// exponential backoff until cfg.Attempts is exhausted or ctx ends.
func DialWebSocket(ctx context.Context, url string, cfg DialConfig) (*WebSocket, error) {
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 1
	}
	delayType := retry.BackOffDelay
	if cfg.Backoff.Jitter {
		delayType = retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)
	}

	opts, err := cfg.dialOptions()
	if err != nil {
		return nil, err
	}

	var conn *websocket.Conn
	attempt := 0
	err = retry.New(
		retry.Attempts(attempts),
		retry.Delay(cfg.Backoff.InitialDelay),
		retry.MaxDelay(cfg.Backoff.MaxDelay),
		retry.MaxJitter(cfg.Backoff.InitialDelay),
		retry.DelayType(delayType),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		attempt++
		dialCtx := ctx
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}
		c, _, err := websocket.Dial(dialCtx, url, opts)
		if err != nil {
			log.Debug().Str("url", url).Int("attempt", attempt).Err(err).Msg("transport: dial failed")
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}

	ws := NewWebSocket(conn, cfg)
	log.Info().Str("conn", ws.ID()).Str("url", url).Int("attempts", attempt).Msg("transport: ws connected")
	return ws, nil
}

// WebSocketFactory returns a Factory dialing url with cfg.
func WebSocketFactory(ctx context.Context, url string, cfg DialConfig) Factory {
	return func() (Connection, error) {
		return DialWebSocket(ctx, url, cfg)
	}
}
