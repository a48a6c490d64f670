package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// EventParams returns the parameter object of an event, inflating it first when
// the message is flagged as compressed.
func EventParams(msg *Message) (json.RawMessage, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}
	if !msg.Compress {
		return msg.Params, nil
	}
	var encoded string
	if err := json.Unmarshal(msg.Params, &encoded); err != nil {
		return nil, fmt.Errorf("%w: params is not a string: %v", ErrCompressedPayload, err)
	}
	payload, err := Inflate(encoded)
	if err != nil {
		return nil, err
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: inflated payload is not json", ErrCompressedPayload)
	}
	return json.RawMessage(payload), nil
}

// Inflate decodes a base64 DEFLATE stream. Both raw DEFLATE and zlib-wrapped
// streams are accepted.
func Inflate(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrCompressedPayload, err)
	}
	if hasZlibHeader(data) {
		if out, err := inflateZlib(data); err == nil {
			return out, nil
		}
	}
	out, err := io.ReadAll(flate.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrCompressedPayload, err)
	}
	return out, nil
}

// Deflate produces the base64 raw DEFLATE encoding accepted by Inflate.
func Deflate(payload []byte) (string, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(payload); err != nil {
		return "", err
	}
	if err := fw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CompressEvent rewrites msg.Params into the compressed form.
func CompressEvent(msg *Message) error {
	if msg == nil || msg.Compress {
		return nil
	}
	encoded, err := Deflate(msg.Params)
	if err != nil {
		return err
	}
	params, err := json.Marshal(encoded)
	if err != nil {
		return err
	}
	msg.Params = params
	msg.Compress = true
	return nil
}

func inflateZlib(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// zlib CMF/FLG check (RFC 1950 section 2.2).
func hasZlibHeader(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	cmf, flg := data[0], data[1]
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
