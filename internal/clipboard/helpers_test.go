package clipboard

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/native"
)

const waitTimeout = 2 * time.Second

// newTestClipboard returns a Clipboard for process "app" on a fresh desktop
// plus a second process handle that tests use to play "another process".
func newTestClipboard(t *testing.T) (*Clipboard, *native.Handle, *native.Handle) {
	t.Helper()
	d := native.NewDesktop()
	app := d.Connect("app")
	other := d.Connect("other")
	c := New(app, Config{Name: t.Name()})
	t.Cleanup(func() { _ = c.Close() })
	return c, app, other
}

// publishFrom writes formats to the desktop through h, retrying while a
// viewer on another handle briefly has the clipboard open.
func publishFrom(t *testing.T, h *native.Handle, formats map[native.FormatID][]byte, order ...native.FormatID) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		err := h.Open(true)
		if err == nil {
			break
		}
		if !errors.Is(err, native.ErrOpenedElsewhere) || time.Now().After(deadline) {
			t.Fatalf("open %s: %v", h.Name(), err)
		}
		time.Sleep(time.Millisecond)
	}
	for _, id := range order {
		if err := h.Set(id, formats[id]); err != nil {
			t.Fatalf("set %d: %v", id, err)
		}
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// funcPayload lets tests script Data per flavor.
type funcPayload struct {
	flavors []format.Flavor
	data    func(format.Flavor) ([]byte, error)
}

func (p funcPayload) Flavors() []format.Flavor              { return p.flavors }
func (p funcPayload) Data(f format.Flavor) ([]byte, error) { return p.data(f) }

// recordingOwner collects LostOwnership calls.
type recordingOwner struct {
	lost chan format.Payload
}

func newRecordingOwner() *recordingOwner {
	return &recordingOwner{lost: make(chan format.Payload, 4)}
}

func (o *recordingOwner) LostOwnership(_ *Clipboard, contents format.Payload) {
	o.lost <- contents
}

// countingNative counts viewer registrations and can be told to fail calls.
// In manual mode the viewer is kept here instead of being installed on the
// desktop, and tests deliver changes with fire.
type countingNative struct {
	*native.Handle
	manual         bool
	registers      atomic.Int32
	unregisters    atomic.Int32
	enumeratePanic atomic.Bool

	mu     sync.Mutex
	viewer native.Viewer
	vanish map[native.FormatID]bool
}

func (n *countingNative) RegisterViewer(v native.Viewer) error {
	n.registers.Add(1)
	if n.manual {
		n.mu.Lock()
		n.viewer = v
		n.mu.Unlock()
		return nil
	}
	return n.Handle.RegisterViewer(v)
}

func (n *countingNative) UnregisterViewer() error {
	n.unregisters.Add(1)
	n.mu.Lock()
	n.viewer = nil
	n.mu.Unlock()
	return n.Handle.UnregisterViewer()
}

// fire calls the registered viewer synchronously.
func (n *countingNative) fire(t *testing.T, ch native.Change) {
	t.Helper()
	n.mu.Lock()
	v := n.viewer
	n.mu.Unlock()
	if v == nil {
		t.Fatal("no viewer registered")
	}
	v(ch)
}

func (n *countingNative) Enumerate() ([]native.FormatID, error) {
	if n.enumeratePanic.Load() {
		panic("enumerate exploded")
	}
	return n.Handle.Enumerate()
}

// Get reports formats marked as vanished as absent, the way a concurrent
// writer in another process would leave them.
func (n *countingNative) Get(id native.FormatID) ([]byte, bool, error) {
	n.mu.Lock()
	gone := n.vanish[id]
	n.mu.Unlock()
	if gone {
		return nil, false, nil
	}
	return n.Handle.Get(id)
}

func (n *countingNative) markVanished(id native.FormatID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.vanish == nil {
		n.vanish = make(map[native.FormatID]bool)
	}
	n.vanish[id] = true
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for notification")
	}
	var zero T
	return zero
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.RGBA{R: 0xff, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
