package protocol

import "github.com/rs/zerolog"

func withMessage(ev *zerolog.Event, msg *Message) *zerolog.Event {
	if msg == nil {
		return ev
	}
	if msg.SessionID != "" {
		ev = ev.Str("session", msg.SessionID)
	}
	if msg.HasID() {
		ev = ev.Int64("id", *msg.ID)
	}
	if msg.Method != "" {
		ev = ev.Str("method", msg.Method)
	}
	return ev
}
