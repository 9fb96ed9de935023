package clipboard

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/native"
)

func TestSetContents_SkipsUnsupportedFormats(t *testing.T) {
	d := native.NewDesktop()
	app := d.Connect("app")
	other := d.Connect("other")
	table := format.NewTable(
		format.TableEntry{Flavor: format.TextFlavor, ID: 1},
		format.TableEntry{Flavor: format.HTMLFlavor, ID: 2},
	)
	c := New(app, Config{Table: table})
	defer c.Close()

	p := funcPayload{
		flavors: []format.Flavor{format.TextFlavor, format.HTMLFlavor},
		data: func(f format.Flavor) ([]byte, error) {
			if f == format.HTMLFlavor {
				return nil, format.ErrUnsupportedFormat
			}
			return []byte("hello"), nil
		},
	}

	res, err := c.SetContents(p, nil)
	if err != nil {
		t.Fatalf("SetContents: %v", err)
	}
	if !slices.Equal(res.Written, []native.FormatID{1}) || !slices.Equal(res.Omitted, []native.FormatID{2}) {
		t.Errorf("result = %+v, want written [1] omitted [2]", res)
	}

	_ = other.Open(false)
	defer other.Close()
	ids, _ := other.Enumerate()
	if !slices.Equal(ids, []native.FormatID{1}) {
		t.Errorf("native formats = %v, want [1]", ids)
	}
	got, ok, _ := other.Get(1)
	if !ok || string(got) != "hello\x00" {
		t.Errorf("format 1 = %q, %v; want the encoded plain text", got, ok)
	}
	if _, ok, _ := other.Get(2); ok {
		t.Error("format 2 should be absent")
	}
}

func TestSetContents_EncodesEagerlyInsideSession(t *testing.T) {
	c, app, _ := newTestClipboard(t)

	var (
		mu        sync.Mutex
		calls     int
		outsideOf []format.Flavor
	)
	p := funcPayload{
		flavors: []format.Flavor{format.TextFlavor, format.HTMLFlavor},
		data: func(f format.Flavor) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if !app.IsOpen() {
				outsideOf = append(outsideOf, f)
			}
			if f == format.HTMLFlavor {
				return []byte("<i>x</i>"), nil
			}
			return []byte("x"), nil
		},
	}

	res, err := c.SetContents(p, nil)
	if err != nil {
		t.Fatalf("SetContents: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(outsideOf) != 0 {
		t.Errorf("payload rendered outside the session for %v", outsideOf)
	}
	if calls != len(res.Written)+len(res.Omitted) {
		t.Errorf("payload rendered %d times for %d formats", calls, len(res.Written)+len(res.Omitted))
	}
	want := []native.FormatID{native.CFUnicodeText, native.CFText, native.CFHTML}
	if !slices.Equal(res.Written, want) {
		t.Errorf("written = %v, want %v", res.Written, want)
	}
	if app.IsOpen() {
		t.Error("session left open after publish")
	}
}

func TestSetContents_UnexpectedErrorStillReleases(t *testing.T) {
	c, app, other := newTestClipboard(t)
	boom := errors.New("payload backend down")

	p := funcPayload{
		flavors: []format.Flavor{format.TextFlavor, format.HTMLFlavor, format.PNGFlavor},
		data: func(f format.Flavor) ([]byte, error) {
			switch f {
			case format.HTMLFlavor:
				return nil, boom
			case format.PNGFlavor:
				t.Error("publish should stop after an unexpected error")
			}
			return []byte("partial"), nil
		},
	}

	res, err := c.SetContents(p, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("SetContents = %v, want payload error", err)
	}
	if errors.Is(err, format.ErrUnsupportedFormat) {
		t.Error("unexpected errors must not look like skips")
	}
	if app.IsOpen() || app.Opens() != app.Closes() {
		t.Errorf("session not released: open=%v opens=%d closes=%d", app.IsOpen(), app.Opens(), app.Closes())
	}
	if len(res.Written) != 2 {
		t.Errorf("written = %v, want the two text formats before the failure", res.Written)
	}

	_ = other.Open(false)
	ids, _ := other.Enumerate()
	_ = other.Close()
	if !slices.Contains(ids, native.CFUnicodeText) {
		t.Errorf("formats written before the failure should remain, got %v", ids)
	}
	if s, err := c.Acquire(false); err != nil {
		t.Errorf("Acquire after failed publish: %v", err)
	} else {
		_ = s.Release()
	}
}

func TestSetContents_BusyDoesNotEncode(t *testing.T) {
	c, _, _ := newTestClipboard(t)
	s, _ := c.Acquire(false)
	defer s.Release()

	p := funcPayload{
		flavors: []format.Flavor{format.TextFlavor},
		data: func(format.Flavor) ([]byte, error) {
			t.Error("payload rendered although the session could not be acquired")
			return nil, nil
		},
	}
	if _, err := c.SetContents(p, nil); !errors.Is(err, ErrResourceBusy) {
		t.Errorf("SetContents = %v, want ErrResourceBusy", err)
	}
}

func TestSetContents_ReplacingOwnerNotifiesPrevious(t *testing.T) {
	c, _, _ := newTestClipboard(t)
	first := newRecordingOwner()
	second := newRecordingOwner()

	firstPayload := format.TextPayload("one")
	if _, err := c.SetContents(firstPayload, first); err != nil {
		t.Fatal(err)
	}
	if c.Owner() != first {
		t.Fatal("first should own the clipboard")
	}
	// Publishing again with the same owner keeps it.
	if _, err := c.SetContents(format.TextPayload("one again"), first); err != nil {
		t.Fatal(err)
	}
	select {
	case <-first.lost:
		t.Fatal("re-publishing with the same owner should not report a loss")
	default:
	}

	if _, err := c.SetContents(format.TextPayload("two"), second); err != nil {
		t.Fatal(err)
	}
	lost := receive(t, first.lost)
	b, _ := lost.Data(format.TextFlavor)
	if string(b) != "one again" {
		t.Errorf("lost contents = %q, want the payload first published last", b)
	}
	if c.Owner() != second {
		t.Error("second should own the clipboard")
	}
}

func TestSetContents_SupersededByOtherProcess(t *testing.T) {
	c, _, other := newTestClipboard(t)
	owner := newRecordingOwner()

	if _, err := c.SetContents(format.TextPayload("mine"), owner); err != nil {
		t.Fatal(err)
	}
	publishFrom(t, other, map[native.FormatID][]byte{native.CFText: []byte("theirs\x00")}, native.CFText)

	receive(t, owner.lost)
	if c.Owner() != nil {
		t.Error("ownership should be cleared after another process claims the clipboard")
	}
}
