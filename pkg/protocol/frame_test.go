package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessageSequence(t *testing.T) {
	msgs := []*Message{
		NewRequest("hello").SetStr("clientname", "tvhdiscover").SetS64("htspversion", ProtocolVersion),
		NewMessage().SetStr("servername", "Tvheadend").SetBin("challenge", []byte{1, 2, 3}),
		NewRequest("channelAdd").SetUint32("channelId", 7).SetStr("channelName", "Seven"),
		NewMessage(),
		NewRequest("initialSyncCompleted"),
	}

	var buf bytes.Buffer
	for _, m := range msgs {
		require.NoError(t, WriteMessage(&buf, m))
	}

	for i, want := range msgs {
		got, err := ReadMessage(&buf)
		require.NoError(t, err, "message %d", i)
		assert.True(t, want.Equal(got), "message %d differs", i)
	}

	_, err := ReadMessage(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadMessageErrors(t *testing.T) {
	t.Run("clean end of stream", func(t *testing.T) {
		_, err := ReadMessage(bytes.NewReader(nil))
		assert.Equal(t, io.EOF, err)
	})

	t.Run("partial length prefix", func(t *testing.T) {
		_, err := ReadMessage(bytes.NewReader([]byte{0x00, 0x00}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("partial body", func(t *testing.T) {
		data, err := Encode(NewRequest("hello"))
		require.NoError(t, err)
		_, err = ReadMessage(bytes.NewReader(data[:len(data)-1]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.False(t, errors.Is(err, io.EOF))
	})

	t.Run("oversized frame", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteUint32(buf, MaxMessageSize+1))
		_, err := ReadMessage(buf)
		assert.ErrorIs(t, err, ErrMessageTooLarge)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("corrupt body", func(t *testing.T) {
		frame := make([]byte, 4, 7)
		binary.BigEndian.PutUint32(frame, 3)
		frame = append(frame, 0x03, 0x01, 0x00)
		_, err := ReadMessage(bytes.NewReader(frame))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestReadMessageDoesNotOverRead(t *testing.T) {
	first, err := Encode(NewRequest("first"))
	require.NoError(t, err)
	second, err := Encode(NewRequest("second"))
	require.NoError(t, err)

	r := bytes.NewReader(append(first, second...))
	m, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, "first", m.Method())
	assert.Equal(t, len(second), r.Len())
}
