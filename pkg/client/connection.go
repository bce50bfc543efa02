package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/aeolun/tvhdiscover/pkg/log"
	"github.com/aeolun/tvhdiscover/pkg/protocol"
	"github.com/sirupsen/logrus"
)

const dialTimeout = 10 * time.Second

// aLongTimeAgo is a deadline that makes any pending socket operation return at once
var aLongTimeAgo = time.Unix(1, 0)

// Conn is one HTSP control connection. It carries a single exchange at a time
// and is owned by one goroutine; only Close may be called concurrently.
//
// Cancelling the context of a pending Send or ReadMessage forces the socket
// deadline into the past (or closes the socket if it has no deadlines). The
// partially transferred frame is discarded, not resumed, and every later
// call returns ErrConnBroken.
type Conn struct {
	conn   net.Conn
	addr   string
	r      io.Reader
	w      io.Writer
	logger logrus.FieldLogger

	broken atomic.Bool

	// Traffic counters (bytes on the wire)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewConn wraps an established stream
func NewConn(nc net.Conn, logger logrus.FieldLogger) *Conn {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Conn{
		conn:   nc,
		addr:   remoteString(nc.RemoteAddr()),
		logger: logger,
	}
	c.r = &countingReader{r: nc, counter: &c.bytesReceived}
	c.w = &countingWriter{w: nc, counter: &c.bytesSent}
	return c
}

// Dial connects to cfg's HTSP server, through the SSH tunnel when one is configured
func Dial(ctx context.Context, cfg Config, logger logrus.FieldLogger) (*Conn, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg = cfg.WithDefaults()
	addr := cfg.Address()

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var (
		nc  net.Conn
		err error
	)
	if cfg.Tunnel.Address != "" {
		logger.WithFields(logrus.Fields{"addr": addr, "tunnel": cfg.Tunnel.Address}).Debug("connecting through ssh tunnel")
		nc, err = dialTunnel(ctx, cfg.Tunnel, addr)
	} else {
		logger.WithField("addr", addr).Debug("connecting")
		var d net.Dialer
		nc, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, addr, err)
	}

	return NewConn(nc, logger), nil
}

// Send writes m as one frame
func (c *Conn) Send(ctx context.Context, m *protocol.Message) error {
	if c.broken.Load() {
		return ErrConnBroken
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Encode first so a bad message never leaves half a frame on the wire
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Method(), err)
	}

	stop := context.AfterFunc(ctx, func() {
		if err := c.conn.SetWriteDeadline(aLongTimeAgo); err != nil {
			c.conn.Close()
		}
	})
	_, err = c.w.Write(data)
	if !stop() {
		c.broken.Store(true)
	}
	if err != nil {
		c.broken.Store(true)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("write interrupted: %w", ctxErr)
		}
		return fmt.Errorf("write %s: %w", m.Method(), err)
	}

	c.logger.WithFields(log.MessageToFields(m)).WithField("bytes", len(data)).Trace("→ SEND")
	return nil
}

// ReadMessage blocks until one whole frame arrived, the peer closed the
// stream (io.EOF), the read failed, or ctx was cancelled.
func (c *Conn) ReadMessage(ctx context.Context) (*protocol.Message, error) {
	if c.broken.Load() {
		return nil, ErrConnBroken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		if err := c.conn.SetReadDeadline(aLongTimeAgo); err != nil {
			c.conn.Close()
		}
	})
	m, err := protocol.ReadMessage(c.r)
	if !stop() {
		// The deadline was poked; the stream cannot be trusted any more
		c.broken.Store(true)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.broken.Store(true)
			return nil, fmt.Errorf("read interrupted: %w", ctxErr)
		}
		if err == io.EOF {
			return nil, io.EOF
		}
		c.broken.Store(true)
		return nil, fmt.Errorf("read message: %w", err)
	}

	c.logger.WithFields(log.MessageToFields(m)).Trace("← RECV")
	return m, nil
}

// Call sends req and reads the next message as its reply
func (c *Conn) Call(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	return call(ctx, c, req)
}

func call(ctx context.Context, conn MessageConn, req *protocol.Message) (*protocol.Message, error) {
	if err := conn.Send(ctx, req); err != nil {
		return nil, err
	}
	reply, err := conn.ReadMessage(ctx)
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: connection closed before reply: %w", req.Method(), io.ErrUnexpectedEOF)
	}
	return reply, err
}

// checkReply reports a reply that signals failure
func checkReply(method string, reply *protocol.Message) error {
	msg := reply.Str("error")
	noAccess, _ := reply.S64("noaccess")
	if msg == "" && noAccess == 0 {
		return nil
	}
	return &ReplyError{Method: method, Message: msg, NoAccess: noAccess != 0}
}

// Close closes the underlying stream. It is safe to call from another goroutine.
func (c *Conn) Close() error {
	c.broken.Store(true)
	return c.conn.Close()
}

// RemoteAddr returns the server address as dialed
func (c *Conn) RemoteAddr() string {
	return c.addr
}

// BytesSent returns the total bytes sent
func (c *Conn) BytesSent() uint64 {
	return c.bytesSent.Load()
}

// BytesReceived returns the total bytes received
func (c *Conn) BytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// countingReader wraps an io.Reader and counts bytes read using atomic counter
type countingReader struct {
	r       io.Reader
	counter *atomic.Uint64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 && cr.counter != nil {
		cr.counter.Add(uint64(n))
	}
	return n, err
}

// countingWriter wraps an io.Writer and counts bytes written using atomic counter
type countingWriter struct {
	w       io.Writer
	counter *atomic.Uint64
}

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.counter != nil {
		cw.counter.Add(uint64(n))
	}
	return n, err
}

func remoteString(remote net.Addr) string {
	if remote == nil {
		return "unknown"
	}
	return remote.String()
}
