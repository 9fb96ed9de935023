package native

import (
	"errors"
	"testing"
	"time"
)

func TestDesktop_OpenIsExclusiveAcrossHandles(t *testing.T) {
	d := NewDesktop()
	a := d.Connect("a")
	b := d.Connect("b")

	if err := a.Open(false); err != nil {
		t.Fatalf("a.Open: %v", err)
	}
	err := b.Open(false)
	if !errors.Is(err, ErrOpenedElsewhere) {
		t.Fatalf("b.Open error = %v, want ErrOpenedElsewhere", err)
	}
	var ne *Error
	if !errors.As(err, &ne) || ne.Op != "open" {
		t.Errorf("b.Open error should be a *native.Error for open, got %#v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("a.Close: %v", err)
	}
	if err := b.Open(false); err != nil {
		t.Fatalf("b.Open after a closed: %v", err)
	}
	_ = b.Close()

	if a.Opens() != 1 || a.Closes() != 1 {
		t.Errorf("a opens/closes = %d/%d, want 1/1", a.Opens(), a.Closes())
	}
}

func TestDesktop_SetRequiresClaim(t *testing.T) {
	d := NewDesktop()
	h := d.Connect("p")

	if err := h.Set(CFText, []byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Set on closed handle = %v, want ErrNotOpen", err)
	}

	_ = h.Open(false)
	if err := h.Set(CFText, []byte("x")); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Set without claim = %v, want ErrNotOwner", err)
	}
	_ = h.Close()
}

func TestDesktop_ClaimClearsAndPreservesOrder(t *testing.T) {
	d := NewDesktop()
	h := d.Connect("p")

	_ = h.Open(true)
	_ = h.Set(CFUnicodeText, []byte{'a', 0, 0, 0})
	_ = h.Set(CFText, []byte("a\x00"))
	_ = h.Set(CFUnicodeText, []byte{'b', 0, 0, 0})
	ids, err := h.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(ids) != 2 || ids[0] != CFUnicodeText || ids[1] != CFText {
		t.Errorf("Enumerate = %v, want [13 1]", ids)
	}
	got, ok, _ := h.Get(CFUnicodeText)
	if !ok || got[0] != 'b' {
		t.Errorf("Get(CFUnicodeText) = %q, %v; want overwritten value", got, ok)
	}
	_ = h.Close()

	_ = h.Open(true)
	ids, _ = h.Enumerate()
	if len(ids) != 0 {
		t.Errorf("claim should clear contents, got %v", ids)
	}
	if _, ok, _ := h.Get(CFText); ok {
		t.Error("cleared format should be absent")
	}
	_ = h.Close()
}

func TestDesktop_NotifiesViewersAndSupersededOwner(t *testing.T) {
	d := NewDesktop()
	a := d.Connect("a")
	b := d.Connect("b")

	aCh := make(chan Change, 4)
	bCh := make(chan Change, 4)
	_ = a.RegisterViewer(func(c Change) { aCh <- c })
	_ = b.RegisterViewer(func(c Change) { bCh <- c })

	_ = a.Open(true)
	_ = a.Set(CFText, []byte("a\x00"))
	_ = a.Close()

	for _, ch := range []chan Change{aCh, bCh} {
		select {
		case c := <-ch:
			if c.Superseded {
				t.Error("first claim should not report superseded")
			}
		case <-time.After(time.Second):
			t.Fatal("viewer not notified")
		}
	}

	_ = b.Open(true)
	_ = b.Set(CFText, []byte("b\x00"))
	_ = b.Close()

	select {
	case c := <-aCh:
		if !c.Superseded {
			t.Error("previous owner should be told it was superseded")
		}
	case <-time.After(time.Second):
		t.Fatal("a not notified")
	}
	select {
	case c := <-bCh:
		if c.Superseded {
			t.Error("new owner should not be superseded")
		}
	case <-time.After(time.Second):
		t.Fatal("b not notified")
	}
	if d.Owner() != "b" {
		t.Errorf("Owner = %q, want b", d.Owner())
	}
}

func TestDesktop_ReadOnlyOpenDoesNotNotify(t *testing.T) {
	d := NewDesktop()
	h := d.Connect("p")
	notified := make(chan Change, 1)
	_ = h.RegisterViewer(func(c Change) { notified <- c })

	_ = h.Open(false)
	_, _ = h.Enumerate()
	_ = h.Close()

	select {
	case <-notified:
		t.Error("read-only session should not produce a change notification")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap("get", CFText, base)
	var ne *Error
	if !errors.As(err, &ne) || ne.ID != CFText || !errors.Is(err, base) {
		t.Fatalf("Wrap = %#v", err)
	}
	if Wrap("other", 0, err) != err {
		t.Error("Wrap should not double-wrap a *native.Error")
	}
	if Wrap("x", 0, nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
