package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind classifies a decoded wire message.
type Kind int

const (
	KindInvalid Kind = iota
	KindCommand
	KindResponse
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "invalid"
	}
}

// Message is one wire message. Commands carry an id and a method, responses an id
// and one of result/error, events a method and no id.
type Message struct {
	ID        *int64          `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	Domain    string          `json:"domain,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"`
	Compress  bool            `json:"compress,omitempty"`
}

// NewCommand builds an outgoing command message.
func NewCommand(id int64, sessionID, method string, params json.RawMessage) *Message {
	return &Message{
		ID:        &id,
		SessionID: sessionID,
		Method:    method,
		Params:    params,
	}
}

// HasID reports whether the message carries an id field.
func (m *Message) HasID() bool {
	return m != nil && m.ID != nil
}

// MessageID returns the id or 0 when absent.
func (m *Message) MessageID() int64 {
	if !m.HasID() {
		return 0
	}
	return *m.ID
}

// Kind classifies an incoming message. A message with an id and a method is an
// outgoing command echoed back (only proxies see those).
func (m *Message) Kind() Kind {
	if m == nil {
		return KindInvalid
	}
	switch {
	case m.HasID() && m.Method != "" && m.Result == nil && m.Error == nil:
		return KindCommand
	case m.HasID():
		return KindResponse
	case m.Method != "":
		return KindEvent
	default:
		return KindInvalid
	}
}

// SplitQualifiedName splits "Domain.method" on the first dot.
func SplitQualifiedName(name string) (string, string, error) {
	domain, method, ok := strings.Cut(name, ".")
	if !ok || domain == "" || method == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidQualifiedName, name)
	}
	return domain, method, nil
}

// QualifiedName joins a domain and an unqualified method name.
func QualifiedName(domain, method string) string {
	return domain + "." + method
}
