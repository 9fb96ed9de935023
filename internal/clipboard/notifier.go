package clipboard

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/sourcegraph/conc/panics"

	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/native"
)

// FlavorListener is called with the new set of native formats whenever the
// set of formats on the clipboard changes, including through this process's
// own publishes. A change that leaves the set as it was is not reported.
// Listeners run on the Clipboard's dispatcher goroutine, one at a time, in
// registration order.
type FlavorListener func(formats []native.FormatID)

// ListenerID identifies a registered FlavorListener.
type ListenerID uint64

type ownerLoss struct {
	owner    Owner
	contents format.Payload
}

type notification struct {
	formats []native.FormatID
	change  bool // formats is meaningful
	prime   bool // record formats without notifying
	lost    *ownerLoss
}

// AddFlavorListener registers l. The first registration installs this
// process in the native viewer chain; that happens once per Clipboard and is
// never undone before Close.
func (c *Clipboard) AddFlavorListener(l FlavorListener) (ListenerID, error) {
	if c.closed() {
		return 0, ErrClosed
	}
	c.listenerMu.Lock()
	if err := c.ensureRegisteredLocked(); err != nil {
		c.listenerMu.Unlock()
		return 0, err
	}
	c.nextListener++
	id := c.nextListener
	c.listeners[id] = l
	first := c.listenerCount.Add(1) == 1
	c.listenerMu.Unlock()

	if first {
		c.primeFormats()
	}
	return id, nil
}

// RemoveFlavorListener unregisters a listener. The native viewer stays
// registered.
func (c *Clipboard) RemoveFlavorListener(id ListenerID) bool {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	if _, ok := c.listeners[id]; !ok {
		return false
	}
	delete(c.listeners, id)
	c.listenerCount.Add(-1)
	return true
}

// ensureRegisteredLocked joins the native viewer chain at most once.
// Must be called with c.listenerMu held.
func (c *Clipboard) ensureRegisteredLocked() error {
	if c.viewerRegistered {
		return nil
	}
	if err := c.nat.RegisterViewer(c.OnNativeChange); err != nil {
		return native.Wrap("register viewer", 0, err)
	}
	c.viewerRegistered = true
	slog.Debug("clipboard viewer registered", "clipboard", c.name, "backend", c.nat.Name())
	return nil
}

// primeFormats records the current formats so the first change notification
// is compared against what the clipboard held when listening began.
func (c *Clipboard) primeFormats() {
	var formats []native.FormatID
	err := c.With(false, func(s *Session) error {
		var err error
		formats, err = s.EnumerateFormats()
		return err
	})
	if err != nil {
		slog.Debug("could not read initial clipboard formats", "clipboard", c.name, "err", err)
		return
	}
	c.enqueue(notification{formats: formats, change: true, prime: true})
}

// OnNativeChange is the viewer installed in the native layer. It may run on
// any goroutine and never panics or returns an error: failures are logged.
// With no listeners registered it returns without opening the clipboard.
// A change that finds this process holding a session is retried once after
// Config.BusyRetry.
func (c *Clipboard) OnNativeChange(ev native.Change) {
	defer c.recoverChange()
	if ev.Superseded {
		c.replaceOwner(nil, nil)
	}
	c.refreshFormats(true)
}

func (c *Clipboard) recoverChange() {
	if r := recover(); r != nil {
		slog.Debug("failed to process clipboard change", "clipboard", c.name, "panic", r)
	}
}

func (c *Clipboard) refreshFormats(retry bool) {
	defer c.recoverChange()

	if c.listenerCount.Load() == 0 || c.closed() {
		return
	}

	var formats []native.FormatID
	err := c.With(false, func(s *Session) error {
		var err error
		formats, err = s.EnumerateFormats()
		return err
	})
	switch {
	case errors.Is(err, ErrResourceBusy) && retry:
		slog.Debug("clipboard busy during change, retrying", "clipboard", c.name, "after", c.busyRetry)
		time.AfterFunc(c.busyRetry, func() { c.refreshFormats(false) })
		return
	case errors.Is(err, ErrResourceBusy):
		slog.Warn("clipboard change missed, session still held", "clipboard", c.name)
		return
	case err != nil:
		slog.Debug("failed to process clipboard change", "clipboard", c.name, "err", err)
		return
	}
	c.enqueue(notification{formats: formats, change: true})
}

// enqueue hands n to the dispatcher without blocking.
func (c *Clipboard) enqueue(n notification) {
	if c.closed() {
		return
	}
	select {
	case c.queue <- n:
	default:
		slog.Warn("clipboard notification dropped, dispatch queue full", "clipboard", c.name)
	}
}

func (c *Clipboard) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case n := <-c.queue:
			c.deliver(n)
		}
	}
}

func (c *Clipboard) deliver(n notification) {
	if n.lost != nil {
		lost := n.lost
		c.safeCall("owner", func() { lost.owner.LostOwnership(c, lost.contents) })
	}
	if !n.change {
		return
	}

	sorted := slices.Clone(n.formats)
	slices.Sort(sorted)
	if c.lastValid && slices.Equal(c.last, sorted) {
		return
	}
	c.last, c.lastValid = sorted, true
	if n.prime {
		return
	}

	c.listenerMu.Lock()
	ids := slices.Sorted(maps.Keys(c.listeners))
	ls := make([]FlavorListener, len(ids))
	for i, id := range ids {
		ls[i] = c.listeners[id]
	}
	c.listenerMu.Unlock()

	for _, l := range ls {
		c.safeCall("flavor listener", func() { l(slices.Clone(n.formats)) })
	}
}

// safeCall runs fn and logs a panic instead of letting it reach the
// dispatcher, so one listener cannot block delivery to the others.
func (c *Clipboard) safeCall(what string, fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		slog.Warn(what+" panicked",
			"clipboard", c.name,
			"panic", r.Value,
			"stack", string(r.Stack),
		)
	}
}
