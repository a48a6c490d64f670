package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// Delimiter terminates every message on a pipe transport.
const Delimiter byte = 0

var (
	ErrFrameTooLarge   = errors.New("frame: message too large")
	ErrTruncated       = errors.New("frame: stream ended inside a message")
	ErrEmbeddedNUL     = errors.New("frame: payload contains delimiter byte")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxMessageBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 64 * 1024 * 1024,
	}
}

// Reader splits a byte stream into NUL-terminated messages.
type Reader struct {
	br     *bufio.Reader
	limits Limits
}

func NewReader(r io.Reader, limits Limits) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024), limits: limits}
}

// ReadFrame returns the next message without its delimiter. io.EOF is
// returned only on a clean boundary; a partial trailing message yields
// ErrTruncated.
func (r *Reader) ReadFrame() ([]byte, error) {
	var acc []byte
	for {
		chunk, err := r.br.ReadSlice(Delimiter)
		if len(acc)+len(chunk) > r.limits.MaxMessageBytes+1 {
			return nil, ErrFrameTooLarge
		}
		switch {
		case err == nil:
			acc = append(acc, chunk[:len(chunk)-1]...)
			return acc, nil
		case errors.Is(err, bufio.ErrBufferFull):
			acc = append(acc, chunk...)
		case errors.Is(err, io.EOF):
			if len(acc) == 0 && len(chunk) == 0 {
				return nil, io.EOF
			}
			return nil, ErrTruncated
		default:
			return nil, err
		}
	}
}

func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if len(payload) > limits.MaxMessageBytes {
		return ErrPayloadTooLarge
	}
	if bytes.IndexByte(payload, Delimiter) >= 0 {
		return ErrEmbeddedNUL
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, Delimiter)
	_, err := w.Write(buf)
	return err
}
