package protocol

import (
	"errors"
	"fmt"
	"io"
)

// ProtocolVersion is the HTSP version this client speaks
const ProtocolVersion = 8

// WriteMessage encodes m and writes it as a single frame
// Format: [Length (4 bytes)][Fields (N bytes)]
func WriteMessage(w io.Writer, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadMessage reads exactly one frame from r and decodes it.
// It returns io.EOF, unwrapped, only when r ends cleanly between frames.
func ReadMessage(r io.Reader) (*Message, error) {
	// Read length (4 bytes)
	length, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}

	// Validate length before allocating
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %w (%d bytes)", ErrMalformed, ErrMessageTooLarge, length)
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return DecodeBody(body)
}
