package native

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

// fakeTool stands in for the clipboard command line tools.
type fakeTool struct {
	mu   sync.Mutex
	text string
	fail error
}

func (f *fakeTool) read() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.fail
}

func (f *fakeTool) write(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.text = s
	return nil
}

func newFakeCommand() (*Command, *fakeTool) {
	tool := &fakeTool{}
	return newCommand(tool.read, tool.write, 5*time.Millisecond), tool
}

func TestCommand_WriteReadText(t *testing.T) {
	c, tool := newFakeCommand()

	if err := c.Open(true); err != nil {
		t.Fatal(err)
	}
	if err := c.Open(false); !errors.Is(err, ErrOpenedElsewhere) {
		t.Errorf("second Open = %v, want ErrOpenedElsewhere", err)
	}
	_ = c.Set(CFText, []byte("ignored\x00"))
	if err := c.Set(CFUnicodeText, []byte{'h', 0, 'i', 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if tool.text != "hi" {
		t.Errorf("tool holds %q, want hi", tool.text)
	}

	_ = c.Open(false)
	defer c.Close()
	ids, err := c.Enumerate()
	if err != nil || !slices.Equal(ids, []FormatID{CFUnicodeText}) {
		t.Errorf("Enumerate = %v, %v", ids, err)
	}
	b, ok, err := c.Get(CFUnicodeText)
	if err != nil || !ok || string(b) != "h\x00i\x00\x00\x00" {
		t.Errorf("Get = %q, %v, %v", b, ok, err)
	}
	if _, ok, _ := c.Get(CFPNG); ok {
		t.Error("command backend has no images")
	}
	if err := c.Set(CFUnicodeText, nil); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Set in read session = %v, want ErrNotOwner", err)
	}
}

func TestCommand_ToolFailure(t *testing.T) {
	c, tool := newFakeCommand()
	tool.fail = errors.New("xclip: not found")

	_ = c.Open(false)
	_, err := c.Enumerate()
	var ne *Error
	if !errors.As(err, &ne) || ne.Op != "enumerate" {
		t.Errorf("Enumerate = %v, want a *native.Error", err)
	}
	_ = c.Close()
}

func TestCommand_ViewerPollsForChanges(t *testing.T) {
	c, tool := newFakeCommand()
	changes := make(chan Change, 4)
	if err := c.RegisterViewer(func(ch Change) { changes <- ch }); err != nil {
		t.Fatal(err)
	}
	defer c.UnregisterViewer()

	_ = c.Open(true)
	_ = c.Set(CFUnicodeText, []byte{'a', 0, 0, 0})
	_ = c.Close()

	select {
	case ch := <-changes:
		if ch.Superseded {
			t.Error("our own write should not be reported as superseded")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("own write not noticed")
	}

	_ = tool.write("from another program")
	select {
	case ch := <-changes:
		if !ch.Superseded {
			t.Error("another program's write should supersede ours")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("external write not noticed")
	}
}
