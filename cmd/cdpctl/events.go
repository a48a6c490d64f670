package main

import (
	"encoding/json"

	"github.com/danmuck/cdpwire/internal/target"
	"github.com/rs/zerolog/log"
)

// eventLogger handles every event of one domain by logging it.
type eventLogger struct {
	session string
	domain  string
}

func newEventLogger(t *target.Target, domain string) *eventLogger {
	return &eventLogger{session: t.SessionID(), domain: domain}
}

func (l *eventLogger) EventHandler(method string) (target.EventFunc, bool) {
	return func(params json.RawMessage) {
		log.Info().
			Str("session", l.session).
			Str("event", l.domain+"."+method).
			RawJSON("params", nonEmpty(params)).
			Msg("event")
	}, true
}

func nonEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
