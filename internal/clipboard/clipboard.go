// Package clipboard coordinates a process's access to the native clipboard.
//
// A Clipboard owns a single non-blocking session lock mirrored onto the
// native open/close pair. Publishing translates every viable format up front
// under one owned session; reading enumerates and fetches under a read-only
// session; change notifications from the native layer are turned into format
// sets and handed to a dispatcher goroutine that calls flavor listeners.
package clipboard

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/native"
)

var (
	// ErrResourceBusy is returned by Acquire when this process already holds
	// a session. Callers may retry; Acquire itself never waits.
	ErrResourceBusy = errors.New("clipboard busy")
	// ErrDataUnavailable means a format vanished between enumeration and
	// fetch. Re-query rather than treating it as fatal.
	ErrDataUnavailable = errors.New("clipboard data unavailable")
	// ErrSessionClosed is returned by session operations after Release.
	ErrSessionClosed = errors.New("clipboard session closed")
	// ErrClosed is returned once the Clipboard itself has been closed.
	ErrClosed = errors.New("clipboard closed")
)

const (
	defaultQueueSize = 16
	defaultBusyRetry = 100 * time.Millisecond
)

// Config holds optional settings for New.
type Config struct {
	// Name identifies the clipboard in logs. Defaults to "system".
	Name string
	// Table maps flavors to native formats. Defaults to format.DefaultTable().
	Table format.FlavorTable
	// QueueSize bounds the number of pending change notifications.
	QueueSize int
	// BusyRetry is how long to wait before the single retry of a change
	// that arrived while this process held a session.
	BusyRetry time.Duration
}

// Clipboard is one process's handle on the native clipboard.
type Clipboard struct {
	name      string
	nat       native.Clipboard
	table     format.FlavorTable
	busyRetry time.Duration

	lock sync.Mutex // session lock; only ever TryLock'd

	ownerMu sync.Mutex
	owner   Owner
	content format.Payload

	listenerMu       sync.Mutex
	listeners        map[ListenerID]FlavorListener
	nextListener     ListenerID
	viewerRegistered bool
	listenerCount    atomic.Int32

	queue     chan notification
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by the dispatcher goroutine
	last      []native.FormatID
	lastValid bool
}

// New returns a Clipboard over nat and starts its dispatcher.
func New(nat native.Clipboard, cfg Config) *Clipboard {
	if cfg.Name == "" {
		cfg.Name = "system"
	}
	if cfg.Table == nil {
		cfg.Table = format.DefaultTable()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BusyRetry <= 0 {
		cfg.BusyRetry = defaultBusyRetry
	}
	c := &Clipboard{
		name:      cfg.Name,
		nat:       nat,
		table:     cfg.Table,
		busyRetry: cfg.BusyRetry,
		listeners: make(map[ListenerID]FlavorListener),
		queue:     make(chan notification, cfg.QueueSize),
		done:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.dispatch()
	return c
}

// Name returns the clipboard's log name.
func (c *Clipboard) Name() string { return c.name }

// Table returns the flavor table used for translation.
func (c *Clipboard) Table() format.FlavorTable { return c.table }

// Close stops the dispatcher and leaves the native viewer chain. The
// Clipboard must not be used afterwards.
func (c *Clipboard) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		c.listenerMu.Lock()
		registered := c.viewerRegistered
		c.listenerMu.Unlock()
		if registered {
			err = native.Wrap("unregister viewer", 0, c.nat.UnregisterViewer())
		}
		slog.Debug("clipboard closed", "clipboard", c.name)
	})
	return err
}

func (c *Clipboard) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
