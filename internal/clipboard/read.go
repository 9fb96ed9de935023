package clipboard

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/text/language"

	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/native"
)

// EnumerateFormats lists the formats on the clipboard right now. The result
// is a snapshot; other processes may change the clipboard once the session
// is released.
func (s *Session) EnumerateFormats() ([]native.FormatID, error) {
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	ids, err := s.c.nat.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate formats: %w", native.Wrap("enumerate", 0, err))
	}
	return ids, nil
}

// Fetch returns the bytes stored under id. ErrDataUnavailable means the
// format is gone, usually because another process replaced the contents
// since it was enumerated.
func (s *Session) Fetch(id native.FormatID) ([]byte, error) {
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	data, ok, err := s.c.nat.Get(id)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.c.table.Name(id), native.Wrap("get", id, err))
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataUnavailable, s.c.table.Name(id))
	}
	return data, nil
}

// LocaleTransferable carries the clipboard's locale bytes as a single
// LocaleFlavor payload. It is immutable.
type LocaleTransferable struct {
	data []byte
}

// Flavors returns format.LocaleFlavor only.
func (t *LocaleTransferable) Flavors() []format.Flavor {
	return []format.Flavor{format.LocaleFlavor}
}

// Supports reports whether f is the locale flavor.
func (t *LocaleTransferable) Supports(f format.Flavor) bool {
	return f == format.LocaleFlavor
}

// Data returns a copy of the raw locale bytes for the locale flavor and
// format.ErrUnsupportedFlavor for anything else.
func (t *LocaleTransferable) Data(f format.Flavor) ([]byte, error) {
	if !t.Supports(f) {
		return nil, fmt.Errorf("%w: %s", format.ErrUnsupportedFlavor, f)
	}
	return bytes.Clone(t.data), nil
}

// Tag decodes the locale bytes.
func (t *LocaleTransferable) Tag() (language.Tag, error) {
	v, err := format.Decode(native.CFLocale, t.data)
	if err != nil {
		return language.Und, err
	}
	return v.(language.Tag), nil
}

// BuildLocaleTransferable wraps the CFLocale data if formats lists it. It
// returns nil, nil when there is no locale, including when the locale
// vanished between enumeration and fetch.
func (s *Session) BuildLocaleTransferable(formats []native.FormatID) (*LocaleTransferable, error) {
	if !slices.Contains(formats, native.CFLocale) {
		return nil, nil
	}
	data, err := s.Fetch(native.CFLocale)
	if errors.Is(err, ErrDataUnavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &LocaleTransferable{data: data}, nil
}

// Snapshot is a point-in-time copy of the clipboard contents. It implements
// format.Payload, so it can be published again as is.
type Snapshot struct {
	formats []native.FormatID
	raw     map[native.FormatID][]byte
	flavors []format.Flavor
	byFlav  map[format.Flavor]native.FormatID
	locale  *LocaleTransferable
}

// Contents reads every format this process knows how to decode under one
// read-only session. Each flavor is read from the most preferred format the
// table lists for it. Formats that disappear mid-read are left out.
func (c *Clipboard) Contents() (*Snapshot, error) {
	snap := &Snapshot{
		raw:    make(map[native.FormatID][]byte),
		byFlav: make(map[format.Flavor]native.FormatID),
	}
	err := c.With(false, func(s *Session) error {
		ids, err := s.EnumerateFormats()
		if err != nil {
			return err
		}
		snap.formats = ids

		if snap.locale, err = s.BuildLocaleTransferable(ids); err != nil {
			return err
		}
		present := make(map[native.FormatID]bool, len(ids))
		for _, id := range ids {
			present[id] = true
		}
		seen := make(map[format.Flavor]bool)
		for _, id := range ids {
			f, ok := c.table.FlavorForFormat(id)
			if !ok || seen[f] {
				continue
			}
			seen[f] = true
			// Read the flavor from its most specific format, falling back
			// to the next one when a format vanishes.
			for _, cand := range c.table.FormatsForFlavor(f) {
				if !present[cand] {
					continue
				}
				if cand == native.CFLocale {
					if snap.locale == nil {
						continue
					}
					snap.raw[cand] = snap.locale.data
				} else {
					data, err := s.Fetch(cand)
					if errors.Is(err, ErrDataUnavailable) {
						slog.Debug("format vanished during read", "clipboard", c.name, "format", c.table.Name(cand))
						continue
					}
					if err != nil {
						return err
					}
					snap.raw[cand] = data
				}
				snap.byFlav[f] = cand
				snap.flavors = append(snap.flavors, f)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Formats returns every format that was on the clipboard, decodable or not.
func (s *Snapshot) Formats() []native.FormatID { return slices.Clone(s.formats) }

// Flavors returns the decodable flavors, in clipboard order.
func (s *Snapshot) Flavors() []format.Flavor { return slices.Clone(s.flavors) }

// Locale returns the clipboard locale, or nil if none was published.
func (s *Snapshot) Locale() *LocaleTransferable { return s.locale }

// Raw returns the native bytes captured for id.
func (s *Snapshot) Raw(id native.FormatID) ([]byte, bool) {
	b, ok := s.raw[id]
	return bytes.Clone(b), ok
}

// Data decodes the captured bytes for f. Malformed native data is reported
// as a *native.Error.
func (s *Snapshot) Data(f format.Flavor) ([]byte, error) {
	id, ok := s.byFlav[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", format.ErrUnsupportedFlavor, f)
	}
	return format.DecodeBytes(id, s.raw[id])
}

// Value decodes the captured bytes for f into a Go value (see format.Decode).
func (s *Snapshot) Value(f format.Flavor) (any, error) {
	id, ok := s.byFlav[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", format.ErrUnsupportedFlavor, f)
	}
	return format.Decode(id, s.raw[id])
}
