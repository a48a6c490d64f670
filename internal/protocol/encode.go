package protocol

import "encoding/json"

// Encode serializes msg to the JSON wire format.
func Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}
	return json.Marshal(msg)
}
