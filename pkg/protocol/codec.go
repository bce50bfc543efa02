package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxMessageSize bounds the body of one message (1 MB)
	MaxMessageSize = 1024 * 1024

	// MaxDepth bounds map/list nesting
	MaxDepth = 32

	// LengthSize is the size of the big-endian body length that starts every message
	LengthSize = 4

	maxNameLen = 255

	// Field header: [Type (1 byte)][Name length (1 byte)][Data length (4 bytes)]
	fieldHeaderSize = 6
)

var (
	ErrMalformed        = errors.New("malformed htsp message")
	ErrMessageTooLarge  = errors.New("message exceeds maximum size (1 MB)")
	ErrNameTooLong      = errors.New("field name exceeds 255 bytes")
	ErrTooDeep          = errors.New("message nesting too deep")
	ErrUnsupportedValue = errors.New("unsupported field value")
)

// Encode serializes m into one length-prefixed wire message
func Encode(m *Message) ([]byte, error) {
	buf := make([]byte, LengthSize, 64)
	buf, err := appendFields(buf, m, 0)
	if err != nil {
		return nil, err
	}

	bodyLen := len(buf) - LengthSize
	if bodyLen > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	binary.BigEndian.PutUint32(buf[:LengthSize], uint32(bodyLen))
	return buf, nil
}

func appendFields(buf []byte, m *Message, depth int) ([]byte, error) {
	if m == nil {
		return buf, nil
	}
	var err error
	for _, f := range m.fields {
		if buf, err = appendField(buf, f.Name, f.Value, depth); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendField(buf []byte, name string, v Value, depth int) ([]byte, error) {
	if len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: %q", ErrNameTooLong, name[:32])
	}
	if v == nil {
		return nil, fmt.Errorf("%w: nil value for %q", ErrUnsupportedValue, name)
	}

	start := len(buf)
	buf = append(buf, byte(v.Kind()), byte(len(name)), 0, 0, 0, 0)
	buf = append(buf, name...)
	dataStart := len(buf)

	var err error
	switch val := v.(type) {
	case S64:
		buf = appendS64(buf, int64(val))
	case Str:
		buf = append(buf, val...)
	case Bin:
		buf = append(buf, val...)
	case *Message:
		if depth+1 > MaxDepth {
			return nil, ErrTooDeep
		}
		buf, err = appendFields(buf, val, depth+1)
	case List:
		if depth+1 > MaxDepth {
			return nil, ErrTooDeep
		}
		for _, item := range val {
			if buf, err = appendField(buf, "", item, depth+1); err != nil {
				break
			}
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	if err != nil {
		return nil, err
	}

	dataLen := len(buf) - dataStart
	if dataLen > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	binary.BigEndian.PutUint32(buf[start+2:start+fieldHeaderSize], uint32(dataLen))
	return buf, nil
}

// Decode parses one complete wire message, length prefix included.
// Every failure wraps ErrMalformed.
func Decode(data []byte) (*Message, error) {
	if len(data) < LengthSize {
		return nil, fmt.Errorf("%w: truncated length prefix", ErrMalformed)
	}
	bodyLen := binary.BigEndian.Uint32(data[:LengthSize])
	if bodyLen > MaxMessageSize {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, ErrMessageTooLarge)
	}

	body := data[LengthSize:]
	switch {
	case uint64(len(body)) < uint64(bodyLen):
		return nil, fmt.Errorf("%w: truncated body (have %d of %d bytes)", ErrMalformed, len(body), bodyLen)
	case uint64(len(body)) > uint64(bodyLen):
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, uint64(len(body))-uint64(bodyLen))
	}
	return DecodeBody(body)
}

// DecodeBody parses a message body without its length prefix
func DecodeBody(body []byte) (*Message, error) {
	if len(body) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, ErrMessageTooLarge)
	}
	m := NewMessage()
	err := walkFields(body, 0, func(name string, v Value) {
		m.Set(name, v)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// walkFields decodes a run of fields, never reading past len(b)
func walkFields(b []byte, depth int, emit func(name string, v Value)) error {
	for len(b) > 0 {
		if len(b) < fieldHeaderSize {
			return fmt.Errorf("%w: truncated field header", ErrMalformed)
		}
		kind := Kind(b[0])
		nameLen := uint64(b[1])
		dataLen := uint64(binary.BigEndian.Uint32(b[2:fieldHeaderSize]))
		b = b[fieldHeaderSize:]

		if nameLen+dataLen > uint64(len(b)) {
			return fmt.Errorf("%w: field overruns message (%d bytes declared, %d left)", ErrMalformed, nameLen+dataLen, len(b))
		}
		name := string(b[:nameLen])
		data := b[nameLen : nameLen+dataLen]
		b = b[nameLen+dataLen:]

		// Newer servers also send dbl, bool and uuid fields; skip them whole
		if !kind.known() {
			continue
		}

		v, err := decodeValue(kind, data, depth)
		if err != nil {
			return err
		}
		emit(name, v)
	}
	return nil
}

func decodeValue(kind Kind, data []byte, depth int) (Value, error) {
	switch kind {
	case KindS64:
		if len(data) > 8 {
			return nil, fmt.Errorf("%w: integer of %d bytes", ErrMalformed, len(data))
		}
		return S64(parseS64(data)), nil
	case KindStr:
		return Str(data), nil
	case KindBin:
		out := make([]byte, len(data))
		copy(out, data)
		return Bin(out), nil
	case KindMap:
		if depth+1 > MaxDepth {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, ErrTooDeep)
		}
		sub := NewMessage()
		err := walkFields(data, depth+1, func(name string, v Value) {
			sub.Set(name, v)
		})
		if err != nil {
			return nil, err
		}
		return sub, nil
	case KindList:
		if depth+1 > MaxDepth {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, ErrTooDeep)
		}
		list := List{}
		err := walkFields(data, depth+1, func(_ string, v Value) {
			list = append(list, v)
		})
		if err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, fmt.Errorf("%w: unknown field type %d", ErrMalformed, byte(kind))
	}
}
