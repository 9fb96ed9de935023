package native

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.design/x/clipboard"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// System is the real desktop clipboard, reached through golang.design/x/clipboard.
//
// The underlying library holds a single representation at a time, so writes
// made during one open/close pair are staged and the most preferred one is
// committed on Close. Text is exposed as CFUnicodeText and images as CFPNG.
// A claiming session always replaces the contents: when nothing staged can be
// carried, Close empties the clipboard.
type System struct {
	read  func(clipboard.Format) []byte
	write func(clipboard.Format, []byte) <-chan struct{}
	watch func(context.Context, clipboard.Format) <-chan []byte

	mu          sync.Mutex
	open        bool
	claimed     bool
	staged      map[FormatID][]byte
	stagedOrder []FormatID

	superseded atomic.Bool
	stopWatch  context.CancelFunc
	stopOwned  context.CancelFunc
}

// NewSystem initialises the platform clipboard. clipboard.Init is called here
// rather than in init() so that sub-commands which never touch the system
// clipboard don't fail on headless hosts.
func NewSystem() (*System, error) {
	if err := clipboard.Init(); err != nil {
		return nil, &Error{Op: "init", Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	return newSystem(clipboard.Read, clipboard.Write, clipboard.Watch), nil
}

func newSystem(
	read func(clipboard.Format) []byte,
	write func(clipboard.Format, []byte) <-chan struct{},
	watch func(context.Context, clipboard.Format) <-chan []byte,
) *System {
	return &System{read: read, write: write, watch: watch, staged: make(map[FormatID][]byte)}
}

func (s *System) Name() string { return "system" }

func (s *System) Open(claim bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return &Error{Op: "open", Err: ErrOpenedElsewhere}
	}
	s.open = true
	s.claimed = claim
	if claim {
		clear(s.staged)
		s.stagedOrder = s.stagedOrder[:0]
	}
	return nil
}

func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return &Error{Op: "close", Err: ErrNotOpen}
	}
	s.open = false
	if !s.claimed {
		return nil
	}
	return s.commitLocked()
}

// systemPreference is the order in which staged formats are tried on commit.
var systemPreference = []FormatID{CFUnicodeText, CFPNG, CFText, CFHTML}

// commitLocked writes the most preferred staged format the library can
// carry, or empties the clipboard when there is none.
func (s *System) commitLocked() error {
	for _, id := range systemPreference {
		data, ok := s.staged[id]
		if !ok {
			continue
		}
		fmtID := clipboard.FmtText
		var err error
		switch id {
		case CFUnicodeText:
			data, err = fromUTF16(data)
		case CFText:
			data, err = charmap.Windows1252.NewDecoder().Bytes(bytes.TrimRight(data, "\x00"))
		case CFHTML:
			data = htmlFragment(data)
		case CFPNG:
			fmtID = clipboard.FmtImage
		}
		if err != nil {
			return &Error{Op: "set", ID: id, Err: err}
		}
		s.watchOwnership(s.write(fmtID, data))
		if dropped := len(s.stagedOrder) - 1; dropped > 0 {
			slog.Debug("system clipboard keeps one format", "kept", id, "dropped", dropped)
		}
		return nil
	}
	if len(s.stagedOrder) > 0 {
		slog.Debug("system clipboard cannot carry staged formats, emptying it", "staged", s.stagedOrder)
	}
	s.watchOwnership(s.write(clipboard.FmtText, nil))
	return nil
}

// htmlFragment returns the markup between the StartFragment and EndFragment
// offsets of an "HTML Format" envelope, or the whole text when the header
// is missing or inconsistent.
func htmlFragment(b []byte) []byte {
	b = bytes.TrimRight(b, "\x00")
	start, end := htmlOffset(b, "StartFragment:"), htmlOffset(b, "EndFragment:")
	if start < 0 || end < start || end > len(b) {
		return b
	}
	return b[start:end]
}

func htmlOffset(b []byte, key string) int {
	i := bytes.Index(b, []byte(key))
	if i < 0 {
		return -1
	}
	line := b[i+len(key):]
	if j := bytes.IndexAny(line, "\r\n"); j >= 0 {
		line = line[:j]
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(line)))
	if err != nil {
		return -1
	}
	return n
}

// watchOwnership marks the clipboard superseded once another process
// overwrites what we wrote.
func (s *System) watchOwnership(overwritten <-chan struct{}) {
	if s.stopOwned != nil {
		s.stopOwned()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopOwned = cancel
	s.superseded.Store(false)
	go func() {
		select {
		case <-overwritten:
			s.superseded.Store(true)
		case <-ctx.Done():
		}
	}()
}

func (s *System) Enumerate() ([]FormatID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, &Error{Op: "enumerate", Err: ErrNotOpen}
	}
	var ids []FormatID
	if s.read(clipboard.FmtText) != nil {
		ids = append(ids, CFUnicodeText)
	}
	if s.read(clipboard.FmtImage) != nil {
		ids = append(ids, CFPNG)
	}
	return ids, nil
}

func (s *System) Get(id FormatID) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, false, &Error{Op: "get", ID: id, Err: ErrNotOpen}
	}
	switch id {
	case CFUnicodeText:
		text := s.read(clipboard.FmtText)
		if text == nil {
			return nil, false, nil
		}
		b, err := toUTF16(text)
		if err != nil {
			return nil, false, &Error{Op: "get", ID: id, Err: err}
		}
		return b, true, nil
	case CFPNG:
		img := s.read(clipboard.FmtImage)
		return img, img != nil, nil
	}
	return nil, false, nil
}

func (s *System) Set(id FormatID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return &Error{Op: "set", ID: id, Err: ErrNotOpen}
	}
	if !s.claimed {
		return &Error{Op: "set", ID: id, Err: ErrNotOwner}
	}
	if !slices.Contains(s.stagedOrder, id) {
		s.stagedOrder = append(s.stagedOrder, id)
	}
	s.staged[id] = bytes.Clone(data)
	return nil
}

func (s *System) RegisterViewer(v Viewer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopWatch != nil {
		s.stopWatch()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel

	textCh := s.watch(ctx, clipboard.FmtText)
	imgCh := s.watch(ctx, clipboard.FmtImage)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-textCh:
			case <-imgCh:
			}
			v(Change{Superseded: s.superseded.Swap(false)})
		}
	}()
	return nil
}

func (s *System) UnregisterViewer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	if s.stopOwned != nil {
		s.stopOwned()
		s.stopOwned = nil
	}
	return nil
}

func toUTF16(text []byte) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes(text)
	if err != nil {
		return nil, err
	}
	return append(b, 0, 0), nil
}

func fromUTF16(b []byte) ([]byte, error) {
	for len(b) >= 2 && b[len(b)-2] == 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-2]
	}
	return utf16le.NewDecoder().Bytes(b)
}
