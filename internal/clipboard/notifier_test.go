package clipboard

import (
	"errors"
	"slices"
	"testing"
	"time"

	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/native"
)

// newManualClipboard returns a Clipboard whose change notifications are
// delivered only when the test calls nat.fire.
func newManualClipboard(t *testing.T, cfg Config) (*Clipboard, *countingNative, *native.Handle) {
	t.Helper()
	d := native.NewDesktop()
	nat := &countingNative{Handle: d.Connect("app"), manual: true}
	other := d.Connect("other")
	c := New(nat, cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c, nat, other
}

func listenInto(t *testing.T, c *Clipboard) (ListenerID, chan []native.FormatID) {
	t.Helper()
	ch := make(chan []native.FormatID, 8)
	id, err := c.AddFlavorListener(func(formats []native.FormatID) { ch <- formats })
	if err != nil {
		t.Fatalf("AddFlavorListener: %v", err)
	}
	return id, ch
}

func expectNothing[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOnNativeChange_NoListenersDoesNotOpen(t *testing.T) {
	c, nat, other := newManualClipboard(t, Config{})
	owner := newRecordingOwner()
	if _, err := c.SetContents(format.TextPayload("mine"), owner); err != nil {
		t.Fatal(err)
	}
	opens := nat.Opens()

	publishFrom(t, other, map[native.FormatID][]byte{native.CFText: []byte("x\x00")}, native.CFText)
	nat.fire(t, native.Change{Superseded: true})
	nat.fire(t, native.Change{})

	receive(t, owner.lost)
	if nat.Opens() != opens {
		t.Errorf("opens = %d, want %d; nothing is listening", nat.Opens(), opens)
	}
}

func TestAddFlavorListener_ReceivesChanges(t *testing.T) {
	c, _, other := newTestClipboard(t)
	_, ch := listenInto(t, c)

	publishFrom(t, other, map[native.FormatID][]byte{
		native.CFText:        []byte("x\x00"),
		native.CFUnicodeText: {'x', 0, 0, 0},
	}, native.CFText, native.CFUnicodeText)

	got := receive(t, ch)
	if !slices.Equal(got, []native.FormatID{native.CFText, native.CFUnicodeText}) {
		t.Errorf("listener got %v", got)
	}
}

func TestNotifier_PrimedAndDeduplicated(t *testing.T) {
	c, nat, other := newManualClipboard(t, Config{})
	publishFrom(t, other, map[native.FormatID][]byte{native.CFText: []byte("a\x00")}, native.CFText)
	_, ch := listenInto(t, c)

	// Same formats as when listening began.
	nat.fire(t, native.Change{})
	publishFrom(t, other, map[native.FormatID][]byte{native.CFText: []byte("b\x00")}, native.CFText)
	nat.fire(t, native.Change{})

	publishFrom(t, other, map[native.FormatID][]byte{
		native.CFUnicodeText: {'c', 0, 0, 0},
		native.CFText:        []byte("c\x00"),
	}, native.CFUnicodeText, native.CFText)
	nat.fire(t, native.Change{})

	got := receive(t, ch)
	if !slices.Equal(got, []native.FormatID{native.CFUnicodeText, native.CFText}) {
		t.Fatalf("first notification = %v, want the changed set", got)
	}

	// Same set in a different order is not a change.
	publishFrom(t, other, map[native.FormatID][]byte{
		native.CFText:        []byte("d\x00"),
		native.CFUnicodeText: {'d', 0, 0, 0},
	}, native.CFText, native.CFUnicodeText)
	nat.fire(t, native.Change{})
	expectNothing(t, ch)
}

func TestNotifier_PanickingListenerIsolated(t *testing.T) {
	c, nat, other := newManualClipboard(t, Config{})
	if _, err := c.AddFlavorListener(func([]native.FormatID) { panic("listener bug") }); err != nil {
		t.Fatal(err)
	}
	_, ch := listenInto(t, c)

	publishFrom(t, other, map[native.FormatID][]byte{native.CFText: []byte("a\x00")}, native.CFText)
	nat.fire(t, native.Change{})
	receive(t, ch)

	publishFrom(t, other, map[native.FormatID][]byte{native.CFLocale: []byte("en_US")}, native.CFLocale)
	nat.fire(t, native.Change{})
	if got := receive(t, ch); !slices.Equal(got, []native.FormatID{native.CFLocale}) {
		t.Errorf("second notification = %v", got)
	}
}

func TestOnNativeChange_FailuresAreSwallowed(t *testing.T) {
	c, nat, other := newManualClipboard(t, Config{})
	_, ch := listenInto(t, c)
	publishFrom(t, other, map[native.FormatID][]byte{native.CFText: []byte("a\x00")}, native.CFText)

	nat.enumeratePanic.Store(true)
	nat.fire(t, native.Change{})
	nat.enumeratePanic.Store(false)

	expectNothing(t, ch)
	s, err := c.Acquire(false)
	if err != nil {
		t.Fatalf("Acquire after failed change handling: %v", err)
	}
	_ = s.Release()

	nat.fire(t, native.Change{})
	if got := receive(t, ch); !slices.Equal(got, []native.FormatID{native.CFText}) {
		t.Errorf("notification after recovery = %v", got)
	}
}

func TestOnNativeChange_BusyRetriedOnce(t *testing.T) {
	const retry = 20 * time.Millisecond

	t.Run("released before retry", func(t *testing.T) {
		c, nat, other := newManualClipboard(t, Config{BusyRetry: retry})
		_, ch := listenInto(t, c)
		publishFrom(t, other, map[native.FormatID][]byte{native.CFText: []byte("a\x00")}, native.CFText)

		s, err := c.Acquire(false)
		if err != nil {
			t.Fatal(err)
		}
		nat.fire(t, native.Change{})
		_ = s.Release()

		if got := receive(t, ch); !slices.Equal(got, []native.FormatID{native.CFText}) {
			t.Errorf("retried notification = %v", got)
		}
	})

	t.Run("still held at retry", func(t *testing.T) {
		c, nat, other := newManualClipboard(t, Config{BusyRetry: retry})
		_, ch := listenInto(t, c)
		publishFrom(t, other, map[native.FormatID][]byte{native.CFText: []byte("a\x00")}, native.CFText)

		s, err := c.Acquire(false)
		if err != nil {
			t.Fatal(err)
		}
		opens := nat.Opens()
		nat.fire(t, native.Change{})
		time.Sleep(5 * retry)
		_ = s.Release()

		expectNothing(t, ch)
		if nat.Opens() != opens {
			t.Errorf("opens = %d, want %d; a busy change must not reopen", nat.Opens(), opens)
		}
	})
}

func TestNotifier_RegistersViewerOnce(t *testing.T) {
	c, nat, _ := newManualClipboard(t, Config{})
	for range 3 {
		listenInto(t, c)
	}
	if _, err := c.SetContents(format.TextPayload("x"), newRecordingOwner()); err != nil {
		t.Fatal(err)
	}
	if n := nat.registers.Load(); n != 1 {
		t.Errorf("RegisterViewer called %d times, want 1", n)
	}
	_ = c.Close()
	_ = c.Close()
	if n := nat.unregisters.Load(); n != 1 {
		t.Errorf("UnregisterViewer called %d times, want 1", n)
	}
	if _, err := c.AddFlavorListener(func([]native.FormatID) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("AddFlavorListener after Close = %v, want ErrClosed", err)
	}
}

func TestRemoveFlavorListener(t *testing.T) {
	c, nat, other := newManualClipboard(t, Config{})
	first, removed := listenInto(t, c)
	_, kept := listenInto(t, c)

	if !c.RemoveFlavorListener(first) {
		t.Fatal("RemoveFlavorListener returned false")
	}
	if c.RemoveFlavorListener(first) {
		t.Error("removing twice should report false")
	}

	publishFrom(t, other, map[native.FormatID][]byte{native.CFText: []byte("a\x00")}, native.CFText)
	nat.fire(t, native.Change{})
	receive(t, kept)
	select {
	case v := <-removed:
		t.Errorf("removed listener called with %v", v)
	default:
	}
}

func TestNotifier_SupersededClearsOwner(t *testing.T) {
	c, nat, _ := newManualClipboard(t, Config{})
	owner := newRecordingOwner()
	if _, err := c.SetContents(format.TextPayload("mine"), owner); err != nil {
		t.Fatal(err)
	}

	nat.fire(t, native.Change{}) // our own write
	if c.Owner() != owner {
		t.Fatal("a plain change must not clear ownership")
	}
	nat.fire(t, native.Change{Superseded: true})
	got := receive(t, owner.lost)
	if b, _ := got.Data(format.TextFlavor); string(b) != "mine" {
		t.Errorf("lost contents = %q, want the published payload", b)
	}
	if c.Owner() != nil {
		t.Error("owner not cleared")
	}
}

func TestOnNativeChange_FullQueueDoesNotBlock(t *testing.T) {
	c, nat, other := newManualClipboard(t, Config{QueueSize: 1})
	gate := make(chan struct{})
	defer close(gate)
	if _, err := c.AddFlavorListener(func([]native.FormatID) { <-gate }); err != nil {
		t.Fatal(err)
	}

	// The first change blocks the dispatcher in the listener, the next fills
	// the queue, and the rest must be dropped rather than wait.
	ids := []native.FormatID{native.CFText, native.CFUnicodeText, native.CFLocale, native.CFHTML}
	for _, id := range ids {
		publishFrom(t, other, map[native.FormatID][]byte{id: {1, 0, 0, 0}}, id)
		nat.fire(t, native.Change{})
	}
}
