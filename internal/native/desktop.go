package native

import (
	"bytes"
	"slices"
	"sync"
)

// Desktop is an in-memory clipboard shared by any number of simulated
// processes. Each process talks to it through the Handle returned by Connect.
// Access rules mirror the Windows clipboard: only one handle may have it open
// at a time, and only the handle that opened with claim may write.
type Desktop struct {
	mu      sync.Mutex
	order   []FormatID
	data    map[FormatID][]byte
	openBy  *Handle
	owner   *Handle
	handles []*Handle
}

// NewDesktop returns an empty desktop clipboard.
func NewDesktop() *Desktop {
	return &Desktop{data: make(map[FormatID][]byte)}
}

// Connect returns a new process handle onto d.
func (d *Desktop) Connect(name string) *Handle {
	h := &Handle{d: d, name: name}
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	return h
}

// Owner returns the name of the handle that last claimed the clipboard, or "".
func (d *Desktop) Owner() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner == nil {
		return ""
	}
	return d.owner.name
}

// Handle is one process's view of a Desktop. It implements Clipboard.
type Handle struct {
	d    *Desktop
	name string

	// guarded by d.mu
	viewer     Viewer
	changed    bool
	superseded bool
	opens      int
	closes     int
}

func (h *Handle) Name() string { return "memory:" + h.name }

// Opens reports how many times Open succeeded on this handle.
func (h *Handle) Opens() int {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	return h.opens
}

// Closes reports how many times Close succeeded on this handle.
func (h *Handle) Closes() int {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	return h.closes
}

// IsOpen reports whether this handle currently has the clipboard open.
func (h *Handle) IsOpen() bool {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	return h.d.openBy == h
}

func (h *Handle) Open(claim bool) error {
	d := h.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openBy != nil {
		return &Error{Op: "open", Err: ErrOpenedElsewhere}
	}
	d.openBy = h
	h.opens++
	if claim {
		clear(d.data)
		d.order = d.order[:0]
		if d.owner != nil && d.owner != h {
			d.owner.superseded = true
		}
		d.owner = h
		h.changed = true
	}
	return nil
}

func (h *Handle) Close() error {
	d := h.d
	d.mu.Lock()
	if d.openBy != h {
		d.mu.Unlock()
		return &Error{Op: "close", Err: ErrNotOpen}
	}
	d.openBy = nil
	h.closes++
	if !h.changed {
		d.mu.Unlock()
		return nil
	}
	h.changed = false

	type delivery struct {
		v  Viewer
		ch Change
	}
	var out []delivery
	for _, other := range d.handles {
		ch := Change{Superseded: other.superseded}
		other.superseded = false
		if other.viewer == nil {
			continue
		}
		out = append(out, delivery{other.viewer, ch})
	}
	d.mu.Unlock()

	for _, dv := range out {
		go dv.v(dv.ch)
	}
	return nil
}

func (h *Handle) Enumerate() ([]FormatID, error) {
	d := h.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openBy != h {
		return nil, &Error{Op: "enumerate", Err: ErrNotOpen}
	}
	return slices.Clone(d.order), nil
}

func (h *Handle) Get(id FormatID) ([]byte, bool, error) {
	d := h.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openBy != h {
		return nil, false, &Error{Op: "get", ID: id, Err: ErrNotOpen}
	}
	b, ok := d.data[id]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(b), true, nil
}

func (h *Handle) Set(id FormatID, data []byte) error {
	d := h.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openBy != h {
		return &Error{Op: "set", ID: id, Err: ErrNotOpen}
	}
	if d.owner != h {
		return &Error{Op: "set", ID: id, Err: ErrNotOwner}
	}
	if _, ok := d.data[id]; !ok {
		d.order = append(d.order, id)
	}
	d.data[id] = bytes.Clone(data)
	h.changed = true
	return nil
}

func (h *Handle) RegisterViewer(v Viewer) error {
	h.d.mu.Lock()
	h.viewer = v
	h.d.mu.Unlock()
	return nil
}

func (h *Handle) UnregisterViewer() error {
	h.d.mu.Lock()
	h.viewer = nil
	h.d.mu.Unlock()
	return nil
}
