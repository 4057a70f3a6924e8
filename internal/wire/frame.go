// Package wire implements the peer-to-peer wire protocol: a JSON request
// envelope carrying a "cmd" field, framed on the TCP connection with an
// 8-byte big-endian length prefix. One connection carries exactly one
// request and one response.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrBadFrame is returned when a frame's length prefix exceeds
// MaxFrameSize. Short or failed reads return the underlying io error.
var ErrBadFrame = errors.New("wire: malformed frame")

// MaxFrameSize bounds how large a single framed payload may be, guarding
// against a misbehaving peer sending an enormous length prefix.
const MaxFrameSize = 64 << 20 // 64 MiB

// errFrame is the literal 5-byte payload written in place of a JSON
// response whenever a handler fails; it is not itself JSON, so callers
// must check for it explicitly before attempting to unmarshal a response.
const errFrame = "ERROR"

// WriteFrame writes a length-prefixed payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed payload from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrBadFrame, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteJSON marshals v and writes it as a single frame.
func WriteJSON(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// WriteError writes the literal error frame, the wire protocol's sole
// failure signal: 5 raw bytes, not a JSON envelope.
func WriteError(w io.Writer) error {
	return WriteFrame(w, []byte(errFrame))
}

// ReadJSON reads one frame and, unless it is the literal error frame,
// unmarshals it into v. IsErrorFrame can be used by callers that need to
// distinguish the error case from a decode failure.
func ReadJSON(r io.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if IsErrorFrame(payload) {
		return ErrRemote
	}
	return json.Unmarshal(payload, v)
}

// ErrRemote is returned by ReadJSON when the peer answered with the
// literal error frame instead of a JSON payload.
var ErrRemote = errors.New("wire: remote returned an error")

// IsErrorFrame reports whether payload is exactly the literal error frame.
func IsErrorFrame(payload []byte) bool {
	return string(payload) == errFrame
}

// NewBufferedReader wraps r for repeated small reads during frame
// decoding, mirroring the buffering the teacher's networking code applies
// around raw net.Conn reads.
func NewBufferedReader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(r)
}
