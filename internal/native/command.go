package native

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/atotto/clipboard"
)

const commandPollInterval = 250 * time.Millisecond

// Command is a text-only clipboard driven through the platform's clipboard
// commands (pbcopy/pbpaste, xclip, xsel, wl-copy, clip.exe) by
// github.com/atotto/clipboard. It works where no display library can be
// linked, such as over SSH with a forwarded X server. Those tools offer no
// change notification, so the viewer polls.
type Command struct {
	readAll  func() (string, error)
	writeAll func(string) error
	interval time.Duration

	mu      sync.Mutex
	open    bool
	claimed bool
	staged  []byte // UTF-16 text staged for commit, nil when nothing was set
	written *string
	stop    context.CancelFunc
}

// NewCommand returns a Command backend, or an *Error wrapping ErrUnavailable
// when no clipboard command is installed.
func NewCommand() (*Command, error) {
	if clipboard.Unsupported {
		return nil, &Error{Op: "init", Err: ErrUnavailable}
	}
	return newCommand(clipboard.ReadAll, clipboard.WriteAll, commandPollInterval), nil
}

func newCommand(read func() (string, error), write func(string) error, interval time.Duration) *Command {
	return &Command{readAll: read, writeAll: write, interval: interval}
}

func (c *Command) Name() string { return "command" }

func (c *Command) Open(claim bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return &Error{Op: "open", Err: ErrOpenedElsewhere}
	}
	c.open, c.claimed, c.staged = true, claim, nil
	return nil
}

func (c *Command) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return &Error{Op: "close", Err: ErrNotOpen}
	}
	c.open = false
	if !c.claimed {
		return nil
	}
	text := ""
	if c.staged != nil {
		b, err := fromUTF16(c.staged)
		if err != nil {
			return &Error{Op: "set", ID: CFUnicodeText, Err: err}
		}
		text = string(b)
	}
	if err := c.writeAll(text); err != nil {
		return &Error{Op: "close", Err: err}
	}
	c.written = &text
	return nil
}

func (c *Command) Enumerate() ([]FormatID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, &Error{Op: "enumerate", Err: ErrNotOpen}
	}
	text, err := c.readAll()
	if err != nil {
		return nil, &Error{Op: "enumerate", Err: err}
	}
	if text == "" {
		return nil, nil
	}
	return []FormatID{CFUnicodeText}, nil
}

func (c *Command) Get(id FormatID) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, false, &Error{Op: "get", ID: id, Err: ErrNotOpen}
	}
	if id != CFUnicodeText {
		return nil, false, nil
	}
	text, err := c.readAll()
	if err != nil {
		return nil, false, &Error{Op: "get", ID: id, Err: err}
	}
	if text == "" {
		return nil, false, nil
	}
	b, err := toUTF16([]byte(text))
	if err != nil {
		return nil, false, &Error{Op: "get", ID: id, Err: err}
	}
	return b, true, nil
}

// Set accepts CFUnicodeText only; the commands carry nothing else.
func (c *Command) Set(id FormatID, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return &Error{Op: "set", ID: id, Err: ErrNotOpen}
	}
	if !c.claimed {
		return &Error{Op: "set", ID: id, Err: ErrNotOwner}
	}
	if id == CFUnicodeText {
		c.staged = bytes.Clone(data)
	}
	return nil
}

func (c *Command) RegisterViewer(v Viewer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	last, _ := c.readAll()
	go c.poll(ctx, v, last)
	return nil
}

func (c *Command) poll(ctx context.Context, v Viewer, last string) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		c.mu.Lock()
		if c.open {
			// Leave the clipboard alone while a session is using it.
			c.mu.Unlock()
			continue
		}
		text, err := c.readAll()
		if err != nil || text == last {
			c.mu.Unlock()
			continue
		}
		last = text
		superseded := c.written != nil && *c.written != text
		if superseded {
			c.written = nil
		}
		c.mu.Unlock()
		v(Change{Superseded: superseded})
	}
}

func (c *Command) UnregisterViewer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	return nil
}
