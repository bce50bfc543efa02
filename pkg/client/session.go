package client

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/aeolun/tvhdiscover/pkg/protocol"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session outcomes as recorded in history and metrics
const (
	OutcomeClosed          = "closed"           // server closed the stream or sent a methodless message
	OutcomeCancelled       = "cancelled"        // host cancelled the session
	OutcomeReadError       = "read_error"       // steady-state read failed
	OutcomeConnectFailed   = "connect_failed"   // dial failed
	OutcomeHandshakeFailed = "handshake_failed" // hello failed
	OutcomeAuthFailed      = "auth_failed"      // authenticate rejected or failed
)

// ErrSessionStarted is returned by a second call to Run
var ErrSessionStarted = errors.New("session already started")

const stateBufferSize = 32

// DialFunc opens the transport of a session
type DialFunc func(ctx context.Context, cfg Config) (MessageConn, error)

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger. The session id is added to every entry.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics records session activity in m
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithHistory records session start and end in h
func WithHistory(h HistoryStore) Option {
	return func(s *Session) { s.history = h }
}

// WithDialer replaces the TCP/SSH dialer
func WithDialer(dial DialFunc) Option {
	return func(s *Session) { s.dial = dial }
}

// Session runs connect, handshake, channel sync and the notification loop
// for one connection. Its fields belong to the goroutine running Run; the
// host observes it through StateChanges, the Catalog, and the history store.
type Session struct {
	id      string
	cfg     Config
	catalog Catalog
	logger  logrus.FieldLogger
	metrics *Metrics
	history HistoryStore
	dial    DialFunc

	conn     MessageConn
	info     ServerInfo
	channels map[uint32]Channel
	outcome  string
	started  atomic.Bool
	stateCh  chan StateUpdate
	record   SessionRecord
}

// NewSession prepares a session; nothing happens until Run
func NewSession(cfg Config, catalog Catalog, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg.WithDefaults(),
		catalog:  catalog,
		logger:   logrus.StandardLogger(),
		channels: make(map[uint32]Channel),
		stateCh:  make(chan StateUpdate, stateBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("session", s.id)
	if s.dial == nil {
		logger := s.logger
		s.dial = func(ctx context.Context, cfg Config) (MessageConn, error) {
			return Dial(ctx, cfg, logger)
		}
	}
	return s
}

// ID returns the session id used in logs and history
func (s *Session) ID() string {
	return s.id
}

// StateChanges delivers state transitions. Updates are dropped when the
// buffer is full; the channel is closed when Run returns.
func (s *Session) StateChanges() <-chan StateUpdate {
	return s.stateCh
}

// Run connects and drives the session until the server goes away or ctx is
// cancelled. A clean end (server close, cancellation, read failure in the
// notification loop) returns nil; connect, handshake and authentication
// failures are returned. Run may be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionStarted
	}
	defer close(s.stateCh)

	s.record = SessionRecord{
		ID:        s.id,
		Server:    s.cfg.Address(),
		StartedAt: time.Now(),
	}
	s.metrics.RecordSessionStarted()
	if s.history != nil {
		if err := s.history.RecordSessionStart(s.record); err != nil {
			s.logger.WithError(err).Warn("failed to record session start")
		}
	}

	err := s.run(ctx)
	if err != nil && ctx.Err() != nil {
		s.outcome = OutcomeCancelled
		err = nil
	}
	s.finish(err)
	return err
}

func (s *Session) run(ctx context.Context) error {
	s.setState(StateConnecting, nil)
	conn, err := s.dial(ctx, s.cfg)
	if err != nil {
		s.outcome = OutcomeConnectFailed
		if ctx.Err() == nil {
			s.logger.WithField("addr", s.cfg.Address()).WithError(err).Error("connect failed")
		}
		s.setState(StateFailed, err)
		return err
	}
	s.conn = conn
	defer conn.Close()

	if err := s.handshake(ctx); err != nil {
		if errors.Is(err, ErrAuth) {
			s.outcome = OutcomeAuthFailed
		} else {
			s.outcome = OutcomeHandshakeFailed
			if ctx.Err() == nil {
				s.logger.WithError(err).Error("handshake failed")
			}
		}
		return err
	}

	if err := s.syncChannels(ctx); err != nil {
		if ctx.Err() != nil {
			s.outcome = OutcomeCancelled
			return nil
		}
		// The connection may still carry notifications worth observing
		s.logger.WithError(err).Warn("channel sync failed")
		s.setState(StateSyncFailed, err)
	} else {
		s.setState(StateSynced, nil)
	}

	s.loop(ctx)
	return nil
}

// loop reads notifications until the stream ends
func (s *Session) loop(ctx context.Context) {
	for {
		m, err := s.read(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			s.outcome = OutcomeCancelled
			s.logger.Debug("session cancelled")
			return
		case errors.Is(err, io.EOF):
			s.outcome = OutcomeClosed
			s.logger.Info("server closed the connection")
			return
		default:
			s.outcome = OutcomeReadError
			s.record.Error = err.Error()
			s.logger.WithError(err).Warn("session ended by read error")
			return
		}

		method := m.Method()
		if method == "" {
			s.outcome = OutcomeClosed
			s.logger.Info("received message without method, ending session")
			return
		}

		entry := s.logger.WithField("method", method)
		if id, ok := m.Uint32("channelId"); ok {
			if ch, known := s.channels[id]; known {
				entry = entry.WithField("channel", ch.Name)
			}
		}
		entry.Debug("notification")
	}
}

// call sends req and reads its reply, counting both
func (s *Session) call(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	s.metrics.RecordMessageSent(req.Method())
	reply, err := call(ctx, s.conn, req)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordMessageReceived(reply.Method())
	return reply, nil
}

func (s *Session) read(ctx context.Context) (*protocol.Message, error) {
	m, err := s.conn.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordMessageReceived(m.Method())
	return m, nil
}

// fail moves to StateFailed and returns err
func (s *Session) fail(err error) error {
	s.setState(StateFailed, err)
	return err
}

func (s *Session) setState(state SessionStateType, err error) {
	s.logger.WithField("state", state.String()).Trace("state change")
	select {
	case s.stateCh <- StateUpdate{State: state, Err: err}:
	default:
	}
}

// finish publishes the final state and records the session outcome
func (s *Session) finish(err error) {
	if s.outcome == "" {
		s.outcome = OutcomeClosed
	}

	var sent, received uint64
	if counter, ok := s.conn.(interface {
		BytesSent() uint64
		BytesReceived() uint64
	}); ok {
		sent, received = counter.BytesSent(), counter.BytesReceived()
	}
	s.metrics.RecordTraffic(sent, received)
	s.metrics.RecordSessionEnded(s.outcome)

	s.record.ServerName = s.info.Name
	s.record.ServerVersion = s.info.Version
	s.record.ProtocolVersion = s.info.ProtocolVersion
	s.record.EndedAt = time.Now()
	s.record.Channels = len(s.channels)
	s.record.Outcome = s.outcome
	s.record.BytesSent = sent
	s.record.BytesReceived = received
	if err != nil {
		s.record.Error = err.Error()
	}
	if s.history != nil {
		if herr := s.history.RecordSessionEnd(s.record); herr != nil {
			s.logger.WithError(herr).Warn("failed to record session end")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"outcome":  s.outcome,
		"channels": len(s.channels),
		"duration": s.record.EndedAt.Sub(s.record.StartedAt).Round(time.Millisecond),
	}).Info("session ended")

	if err == nil {
		s.setState(StateClosed, nil)
	}
}

// Record returns the session history entry. It is complete once Run returned.
func (s *Session) Record() SessionRecord {
	return s.record
}
