package clipboard

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/native"
)

// Owner is told when contents it published are replaced, either by a later
// SetContents in this process or by another process claiming the clipboard.
type Owner interface {
	LostOwnership(c *Clipboard, contents format.Payload)
}

// OwnerFunc adapts a function to Owner.
type OwnerFunc func(c *Clipboard, contents format.Payload)

func (f OwnerFunc) LostOwnership(c *Clipboard, contents format.Payload) { f(c, contents) }

// PublishResult records which formats a SetContents call wrote.
type PublishResult struct {
	Written []native.FormatID
	Omitted []native.FormatID
}

// SetContents publishes p in every native format it can be rendered as.
//
// All translation happens here, on the caller's goroutine, while the owned
// session is open; nothing is left for the native layer to render later.
// Formats the payload cannot render are skipped and reported in Omitted.
// Any other error stops the loop, but the session is still released before
// the error is returned.
func (c *Clipboard) SetContents(p format.Payload, owner Owner) (PublishResult, error) {
	var (
		res     PublishResult
		claimed bool
	)
	fm := format.FormatsFor(p, c.table)
	if owner != nil {
		// Ownership loss is reported through the viewer chain.
		c.listenerMu.Lock()
		err := c.ensureRegisteredLocked()
		c.listenerMu.Unlock()
		if err != nil {
			return res, err
		}
	}

	err := c.With(true, func(s *Session) error {
		claimed = true
		for _, e := range fm {
			data, err := format.Encode(p, e.Flavor, e.ID)
			if errors.Is(err, format.ErrUnsupportedFormat) {
				slog.Debug("format skipped", "clipboard", c.name, "format", c.table.Name(e.ID), "err", err)
				res.Omitted = append(res.Omitted, e.ID)
				continue
			}
			if err != nil {
				return fmt.Errorf("translate %s to %s: %w", e.Flavor, c.table.Name(e.ID), err)
			}
			if err := s.set(e.ID, data); err != nil {
				return err
			}
			res.Written = append(res.Written, e.ID)
		}
		return nil
	})

	// Claiming cleared the native contents, so the previous owner has lost
	// them even if the loop failed part way.
	if claimed {
		if err != nil {
			c.replaceOwner(nil, nil)
		} else {
			c.replaceOwner(owner, p)
		}
	}
	if err != nil {
		return res, err
	}

	slog.Debug("clipboard published",
		"clipboard", c.name,
		"written", len(res.Written),
		"omitted", len(res.Omitted),
	)
	return res, nil
}

// Owner returns the current owner, or nil if this process does not own the
// clipboard contents.
func (c *Clipboard) Owner() Owner {
	c.ownerMu.Lock()
	defer c.ownerMu.Unlock()
	return c.owner
}

func (c *Clipboard) replaceOwner(owner Owner, contents format.Payload) {
	c.ownerMu.Lock()
	prev, prevContents := c.owner, c.content
	c.owner, c.content = owner, contents
	c.ownerMu.Unlock()

	if prev != nil && !sameOwner(prev, owner) {
		c.enqueue(notification{lost: &ownerLoss{owner: prev, contents: prevContents}})
	}
}

// sameOwner compares owners by identity. Owners of non-comparable types,
// such as OwnerFunc, never compare equal.
func sameOwner(a, b Owner) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
