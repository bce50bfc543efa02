package client

import (
	"context"

	"github.com/aeolun/tvhdiscover/pkg/protocol"
)

// MessageConn is the transport a Session drives.
// *Conn implements it; tests substitute scripted connections.
type MessageConn interface {
	// Send writes one request
	Send(ctx context.Context, m *protocol.Message) error

	// ReadMessage blocks for the next reply or notification.
	// It returns io.EOF when the server closed the stream between frames.
	ReadMessage(ctx context.Context) (*protocol.Message, error)

	Close() error
}

// Catalog receives discovered channels. Implementations must be safe for
// use from the session goroutine while the host reads them.
type Catalog interface {
	Publish(ch Channel, category string) error
}

// HistoryStore records session outcomes
// *State implements it
type HistoryStore interface {
	RecordSessionStart(rec SessionRecord) error
	RecordSessionEnd(rec SessionRecord) error
}
