package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses one raw wire message. Classification is left to the caller;
// only non-object payloads are rejected here.
func Decode(raw []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a json object", ErrInvalidMessage)
	}
	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &msg, nil
}
