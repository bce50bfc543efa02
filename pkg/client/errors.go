package client

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect means the TCP (or tunnel) connection could not be opened
	ErrConnect = errors.New("connect to htsp server failed")

	// ErrHandshake means the hello exchange did not produce a usable reply
	ErrHandshake = errors.New("htsp handshake failed")

	// ErrAuth means the server rejected the credentials
	ErrAuth = errors.New("htsp authentication failed")

	// ErrSync means the channel sync was rejected or could not be published
	ErrSync = errors.New("htsp channel sync failed")

	// ErrConnBroken means an earlier interrupted or failed exchange left
	// the stream at an unknown frame offset
	ErrConnBroken = errors.New("connection unusable after interrupted exchange")
)

// ReplyError is a reply that carries an error string or a noaccess flag
type ReplyError struct {
	Method   string
	Message  string
	NoAccess bool
}

func (e *ReplyError) Error() string {
	switch {
	case e.Message != "" && e.NoAccess:
		return fmt.Sprintf("%s rejected (no access): %s", e.Method, e.Message)
	case e.NoAccess:
		return fmt.Sprintf("%s rejected (no access)", e.Method)
	default:
		return fmt.Sprintf("%s rejected: %s", e.Method, e.Message)
	}
}
