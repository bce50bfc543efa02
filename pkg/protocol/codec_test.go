package protocol

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHelloWireBytes(t *testing.T) {
	m := NewRequest("hello").SetS64("htspversion", 8)

	data, err := Encode(m)
	require.NoError(t, err)

	want := []byte{0x00, 0x00, 0x00, 0x23}
	want = append(want, 0x03, 0x06, 0x00, 0x00, 0x00, 0x05)
	want = append(want, "method"...)
	want = append(want, "hello"...)
	want = append(want, 0x02, 0x0b, 0x00, 0x00, 0x00, 0x01)
	want = append(want, "htspversion"...)
	want = append(want, 0x08)

	assert.Equal(t, want, data)
}

func TestS64Encoding(t *testing.T) {
	tests := []struct {
		value int64
		bytes []byte
	}{
		{0, nil},
		{1, []byte{0x01}},
		{255, []byte{0xff}},
		{256, []byte{0x00, 0x01}},
		{math.MaxUint32, []byte{0xff, 0xff, 0xff, 0xff}},
		{-1, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{math.MinInt64, []byte{0, 0, 0, 0, 0, 0, 0, 0x80}},
	}

	for _, tt := range tests {
		got := appendS64(nil, tt.value)
		assert.Equal(t, tt.bytes, got, "encode %d", tt.value)
		assert.Equal(t, tt.value, parseS64(got), "decode %d", tt.value)
	}
}

func TestEncodeDecodeNested(t *testing.T) {
	inner := NewMessage().
		SetStr("name", "BBC One").
		SetUint32("number", 101)

	m := NewRequest("channelAdd").
		SetUint32("channelId", 42).
		SetBin("challenge", []byte{0x00, 0x01, 0xfe, 0xff}).
		Set("service", inner).
		Set("tags", List{S64(1), S64(2), Str("hd"), NewMessage().SetStr("k", "v")}).
		Set("empty", List{}).
		Set("blank", NewMessage())

	data, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, m.Equal(decoded), "decoded message differs")

	assert.Equal(t, "channelAdd", decoded.Method())
	id, ok := decoded.Uint32("channelId")
	require.True(t, ok)
	assert.Equal(t, uint32(42), id)
	assert.Equal(t, []byte{0x00, 0x01, 0xfe, 0xff}, decoded.Bin("challenge"))
	assert.Equal(t, "BBC One", decoded.Map("service").Str("name"))
	assert.Len(t, decoded.List("tags"), 4)
	assert.Equal(t, 0, decoded.Map("blank").Len())
}

func TestDecodeTruncatedPrefixes(t *testing.T) {
	m := NewRequest("hello").
		SetStr("clientname", "tvhdiscover").
		SetS64("htspversion", ProtocolVersion).
		Set("nested", NewMessage().SetBin("b", []byte("xyz")))

	data, err := Encode(m)
	require.NoError(t, err)

	for i := 0; i < len(data); i++ {
		_, err := Decode(data[:i])
		require.Error(t, err, "prefix of %d bytes decoded", i)
		assert.ErrorIs(t, err, ErrMalformed)
	}
}

func TestDecodeErrors(t *testing.T) {
	field := func(kind Kind, name string, data []byte) []byte {
		b := []byte{byte(kind), byte(len(name)), 0, 0, 0, 0}
		binary.BigEndian.PutUint32(b[2:6], uint32(len(data)))
		b = append(b, name...)
		return append(b, data...)
	}
	frame := func(body []byte) []byte {
		out := make([]byte, 4, 4+len(body))
		binary.BigEndian.PutUint32(out, uint32(len(body)))
		return append(out, body...)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty input", nil},
		{"oversized length", []byte{0x7f, 0xff, 0xff, 0xff}},
		{"trailing bytes", append(frame(field(KindStr, "a", []byte("b"))), 0x00)},
		{"integer too wide", frame(field(KindS64, "n", make([]byte, 9)))},
		{"short field header", frame([]byte{0x03, 0x01, 0x00})},
		{"data overruns body", frame([]byte{0x03, 0x01, 0x00, 0x00, 0x00, 0x10, 'a', 'b'})},
		{"huge data length", frame([]byte{0x04, 0x00, 0xff, 0xff, 0xff, 0xff})},
		{"bad nested field", frame(field(KindMap, "m", []byte{0x03, 0x05}))},
		{"bad list element", frame(field(KindList, "l", field(KindS64, "", make([]byte, 9))))},
		{"unknown type overruns body", frame([]byte{0x07, 0x01, 0x00, 0x00, 0x00, 0x04, 'x', 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeSkipsUnknownFieldTypes(t *testing.T) {
	body, err := Encode(NewRequest("channelAdd").
		SetUint32("channelId", 3).
		SetStr("channelName", "Three"))
	require.NoError(t, err)
	body = body[4:]

	// bool, dbl and uuid fields as sent by newer servers
	body = append(body, 0x07, 0x01, 0x00, 0x00, 0x00, 0x01, 'x', 0x01)
	body = append(body, 0x06, 0x01, 0x00, 0x00, 0x00, 0x08, 'd', 0, 0, 0, 0, 0, 0, 0xf0, 0x3f)
	uuid := append([]byte{0x08, 0x04, 0x00, 0x00, 0x00, 0x10}, "uuid"...)
	body = append(body, append(uuid, make([]byte, 16)...)...)
	body = append(body, 0x02, 0x0d, 0x00, 0x00, 0x00, 0x01)
	body = append(body, "channelNumber"...)
	body = append(body, 0x03)

	m, err := DecodeBody(body)
	require.NoError(t, err)
	assert.Equal(t, "channelAdd", m.Method())
	assert.Equal(t, "Three", m.Str("channelName"))
	assert.False(t, m.Has("x"))
	assert.False(t, m.Has("d"))
	assert.False(t, m.Has("uuid"))
	number, ok := m.Uint32("channelNumber")
	require.True(t, ok)
	assert.Equal(t, uint32(3), number)

	list := append([]byte{byte(KindList), 0x01, 0x00, 0x00, 0x00, 0x0e, 'l'},
		0x07, 0x00, 0x00, 0x00, 0x00, 0x01, 0x01,
		0x03, 0x00, 0x00, 0x00, 0x00, 0x01, 'a')
	m, err = DecodeBody(list)
	require.NoError(t, err)
	assert.Equal(t, List{Str("a")}, m.List("l"))
}

func TestDecodeRejectsDeepNesting(t *testing.T) {
	body := []byte{}
	for i := 0; i <= MaxDepth; i++ {
		wrapped := []byte{byte(KindMap), 0x00, 0, 0, 0, 0}
		binary.BigEndian.PutUint32(wrapped[2:6], uint32(len(body)))
		body = append(wrapped, body...)
	}
	_, err := DecodeBody(body)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, ErrTooDeep)
}

func TestDecodeDuplicateKeysLastWins(t *testing.T) {
	body := []byte{}
	for _, v := range []string{"first", "second"} {
		f := []byte{byte(KindStr), 0x01, 0, 0, 0, byte(len(v)), 'k'}
		body = append(body, append(f, v...)...)
	}
	m, err := DecodeBody(body)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, "second", m.Str("k"))
}

func TestEncodeErrors(t *testing.T) {
	t.Run("name too long", func(t *testing.T) {
		m := NewMessage().SetStr(strings.Repeat("n", 256), "v")
		_, err := Encode(m)
		assert.ErrorIs(t, err, ErrNameTooLong)
	})

	t.Run("message too large", func(t *testing.T) {
		m := NewMessage().SetBin("blob", make([]byte, MaxMessageSize))
		_, err := Encode(m)
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	})

	t.Run("nil list element", func(t *testing.T) {
		m := NewMessage().Set("l", List{S64(1), nil})
		_, err := Encode(m)
		assert.ErrorIs(t, err, ErrUnsupportedValue)
	})

	t.Run("nesting too deep", func(t *testing.T) {
		m := NewMessage()
		for i := 0; i <= MaxDepth; i++ {
			m = NewMessage().Set("m", m)
		}
		_, err := Encode(m)
		assert.ErrorIs(t, err, ErrTooDeep)
	})
}

func TestMaxSizeBinaryRoundTrip(t *testing.T) {
	// field header + 4-byte name leave room for a blob just under the limit
	blob := make([]byte, MaxMessageSize-fieldHeaderSize-len("blob"))
	blob[len(blob)-1] = 0x7f
	m := NewMessage().SetBin("blob", blob)

	data, err := Encode(m)
	require.NoError(t, err)
	assert.Len(t, data, LengthSize+MaxMessageSize)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, blob, decoded.Bin("blob"))
}
