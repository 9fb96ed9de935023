package clipboard

import (
	"fmt"
	"sync/atomic"

	"go.klb.dev/sysclip/internal/native"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateClosed State = iota
	StateOpenRead
	StateOpenOwned
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpenRead:
		return "open-read"
	case StateOpenOwned:
		return "open-owned"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Session is a bounded interval of exclusive native clipboard access. It
// moves from open to closed exactly once.
type Session struct {
	c     *Clipboard
	state atomic.Int32
}

// Acquire opens the native clipboard for this process. It never waits: if
// another session is open it fails immediately with ErrResourceBusy. When
// claim is true the native contents are cleared and this process becomes the
// owner. A successful Acquire must be followed by Release.
func (c *Clipboard) Acquire(claim bool) (*Session, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	if !c.lock.TryLock() {
		return nil, ErrResourceBusy
	}
	if err := c.nat.Open(claim); err != nil {
		c.lock.Unlock()
		return nil, fmt.Errorf("open clipboard: %w", native.Wrap("open", 0, err))
	}
	s := &Session{c: c}
	if claim {
		s.state.Store(int32(StateOpenOwned))
	} else {
		s.state.Store(int32(StateOpenRead))
	}
	return s, nil
}

// Release closes the native clipboard. Calling it again is a no-op.
func (s *Session) Release() error {
	if State(s.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	defer s.c.lock.Unlock()
	if err := s.c.nat.Close(); err != nil {
		return fmt.Errorf("close clipboard: %w", native.Wrap("close", 0, err))
	}
	return nil
}

// State reports the session's current state.
func (s *Session) State() State { return State(s.state.Load()) }

// With runs fn inside a session and releases it on every exit path,
// including a panic in fn. A release error is returned only if fn succeeded.
func (c *Clipboard) With(claim bool, fn func(*Session) error) (err error) {
	s, err := c.Acquire(claim)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := s.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(s)
}

func (s *Session) set(id native.FormatID, data []byte) error {
	switch s.State() {
	case StateClosed:
		return ErrSessionClosed
	case StateOpenRead:
		return &native.Error{Op: "set", ID: id, Err: native.ErrNotOwner}
	}
	if err := s.c.nat.Set(id, data); err != nil {
		return fmt.Errorf("publish %s: %w", s.c.table.Name(id), native.Wrap("set", id, err))
	}
	return nil
}
