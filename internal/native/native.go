// Package native describes the primitives an operating system clipboard
// offers and provides the implementations sysclip runs against:
//
//	desktop.go  in-memory clipboard shared by simulated processes (tests, --backend memory)
//	system.go   the real clipboard via golang.design/x/clipboard
//	command.go  text through the platform clipboard tools via github.com/atotto/clipboard
//
// Everything above this package treats the clipboard as five calls (open,
// close, enumerate, get, set) plus an asynchronous change notification
// delivered to a registered viewer.
package native

import (
	"errors"
	"fmt"
)

// FormatID names one native data encoding. Values follow the Windows
// clipboard numbering; registered formats are pinned above 0xC000.
type FormatID uint32

const (
	CFText        FormatID = 1
	CFBitmap      FormatID = 2
	CFDIB         FormatID = 8
	CFUnicodeText FormatID = 13
	CFLocale      FormatID = 16

	CFHTML FormatID = 0xC001 // "HTML Format"
	CFPNG  FormatID = 0xC002 // "PNG"
)

// Change is delivered to a registered viewer whenever any process changes
// the clipboard contents.
type Change struct {
	// Superseded is set when the receiving handle owned the clipboard and
	// another process has since claimed it.
	Superseded bool
}

// Viewer receives change notifications. It may be invoked on any goroutine.
type Viewer func(Change)

// Clipboard is the native clipboard as seen by one process.
type Clipboard interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Open gains access to the clipboard. When claim is true the current
	// contents are cleared and this process becomes the owner. Every
	// successful Open must be paired with Close.
	Open(claim bool) error

	// Close relinquishes access obtained by Open.
	Close() error

	// Enumerate lists the formats currently on the clipboard in the order
	// they were published. The clipboard must be open.
	Enumerate() ([]FormatID, error)

	// Get returns the bytes stored under id. ok is false when the format is
	// not present. The clipboard must be open.
	Get(id FormatID) (data []byte, ok bool, err error)

	// Set stores data under id. The clipboard must be open with claim.
	Set(id FormatID, data []byte) error

	// RegisterViewer installs v as the change viewer for this process,
	// replacing any previous one.
	RegisterViewer(v Viewer) error

	// UnregisterViewer removes the viewer. Only call this right before the
	// backend is discarded.
	UnregisterViewer() error
}

var (
	// ErrOpenedElsewhere is reported by Open when another process holds the clipboard.
	ErrOpenedElsewhere = errors.New("clipboard opened by another process")
	// ErrNotOpen is reported by calls that need an open clipboard.
	ErrNotOpen = errors.New("clipboard not open")
	// ErrNotOwner is reported by Set when the clipboard was opened without claim.
	ErrNotOwner = errors.New("clipboard not owned")
	// ErrUnavailable is reported when no clipboard can be reached at all.
	ErrUnavailable = errors.New("clipboard unavailable")
)

// Error is a failed native clipboard operation.
type Error struct {
	Op  string
	ID  FormatID // zero when the operation is not format-specific
	Err error
}

func (e *Error) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("native %s (format %d): %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("native %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as an *Error for op, leaving it untouched if it already is one.
func Wrap(op string, id FormatID, err error) error {
	if err == nil {
		return nil
	}
	var ne *Error
	if errors.As(err, &ne) {
		return err
	}
	return &Error{Op: op, ID: id, Err: err}
}
