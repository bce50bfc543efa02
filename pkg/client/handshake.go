package client

import (
	"context"
	"fmt"

	"github.com/aeolun/tvhdiscover/pkg/client/auth"
	"github.com/aeolun/tvhdiscover/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// ClientName identifies this client in the hello request
const ClientName = "tvhdiscover"

// SessionStateType is a step of the session lifecycle
type SessionStateType int

const (
	StateDisconnected SessionStateType = iota
	StateConnecting
	StateHelloSent
	StateHelloAcked
	StateAuthSkipped
	StateAuthSent
	StateAuthAcked
	StateReady
	StateSynced
	StateSyncFailed
	StateFailed
	StateClosed
)

func (s SessionStateType) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHelloSent:
		return "hello_sent"
	case StateHelloAcked:
		return "hello_acked"
	case StateAuthSkipped:
		return "auth_skipped"
	case StateAuthSent:
		return "auth_sent"
	case StateAuthAcked:
		return "auth_acked"
	case StateReady:
		return "ready"
	case StateSynced:
		return "synced"
	case StateSyncFailed:
		return "sync_failed"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateUpdate is one transition published on Session.StateChanges
type StateUpdate struct {
	State SessionStateType
	Err   error // set for StateFailed and StateSyncFailed
}

// ServerInfo is what the server told us about itself in the hello reply
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion int64

	// Challenge salts the password digest. authenticate consumes it.
	Challenge []byte
}

// handshake runs hello and, with a configured user, authenticate.
// It leaves the session in StateReady or returns an error after StateFailed.
func (s *Session) handshake(ctx context.Context) error {
	hello := protocol.NewRequest("hello").
		SetStr("clientname", ClientName).
		SetS64("htspversion", protocol.ProtocolVersion)

	s.setState(StateHelloSent, nil)
	reply, err := s.call(ctx, hello)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrHandshake, err))
	}
	if err := checkReply("hello", reply); err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrHandshake, err))
	}

	version, _ := reply.S64("htspversion")
	s.info = ServerInfo{
		Name:            reply.Str("servername"),
		Version:         reply.Str("serverversion"),
		ProtocolVersion: version,
		Challenge:       reply.Bin("challenge"),
	}
	s.setState(StateHelloAcked, nil)
	s.logger.WithFields(logrus.Fields{
		"server":        s.info.Name,
		"version":       s.info.Version,
		"htspversion":   s.info.ProtocolVersion,
		"has_challenge": len(s.info.Challenge) > 0,
	}).Info("connected to htsp server")

	if s.cfg.User == "" {
		s.setState(StateAuthSkipped, nil)
		if s.cfg.Pass != "" {
			s.logger.Warn("password configured without a user, skipping authentication")
		} else {
			s.logger.Debug("no user configured, skipping authentication")
		}
		s.setState(StateReady, nil)
		return nil
	}

	return s.authenticate(ctx)
}

func (s *Session) authenticate(ctx context.Context) error {
	req := protocol.NewRequest("authenticate").SetStr("username", s.cfg.User)

	// The challenge is good for exactly one attempt
	challenge := s.info.Challenge
	s.info.Challenge = nil
	withPassword := s.cfg.Pass != "" && len(challenge) > 0
	if withPassword {
		digest := auth.Digest([]byte(s.cfg.Pass), challenge)
		req.SetBin("digest", digest[:])
	}
	s.logger.WithFields(logrus.Fields{
		"user":          s.cfg.User,
		"with_password": withPassword,
	}).Info("authenticating")

	s.setState(StateAuthSent, nil)
	reply, err := s.call(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).Error("authenticate exchange failed")
		}
		return s.fail(fmt.Errorf("%w: %w", ErrAuth, err))
	}
	if err := checkReply("authenticate", reply); err != nil {
		s.metrics.RecordAuthFailure()
		s.logger.WithField("user", s.cfg.User).WithError(err).Error("authentication rejected")
		return s.fail(fmt.Errorf("%w: %w", ErrAuth, err))
	}

	s.setState(StateAuthAcked, nil)
	s.logger.WithField("user", s.cfg.User).Info("authenticated")
	s.setState(StateReady, nil)
	return nil
}
