package client

import (
	"context"
	"sync"
)

// Discovery is a running session owned by the host. Open starts it on its
// own goroutine; Close stops it and waits.
type Discovery struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	err     error // written before done is closed

	closeOnce sync.Once
}

// Open validates cfg and starts a session in the background
func Open(cfg Config, catalog Catalog, opts ...Option) (*Discovery, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = NewMemoryCatalog()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Discovery{
		session: NewSession(cfg, catalog, opts...),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(d.done)
		d.err = d.session.Run(ctx)
	}()

	return d, nil
}

// Close cancels the session, blocks until its goroutine returned, and
// reports how the session ended. It is safe to call more than once.
func (d *Discovery) Close() error {
	d.closeOnce.Do(d.cancel)
	<-d.done
	return d.err
}

// Done is closed when the session ended
func (d *Discovery) Done() <-chan struct{} {
	return d.done
}

// Err returns the session error once Done is closed, nil before
func (d *Discovery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// StateChanges delivers the session's state transitions
func (d *Discovery) StateChanges() <-chan StateUpdate {
	return d.session.StateChanges()
}

// ID returns the session id
func (d *Discovery) ID() string {
	return d.session.ID()
}

// Record returns the session history entry once Done is closed
func (d *Discovery) Record() (SessionRecord, bool) {
	select {
	case <-d.done:
		return d.session.Record(), true
	default:
		return SessionRecord{}, false
	}
}
