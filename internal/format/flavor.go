// Package format translates between in-process data representations
// (flavors) and native clipboard formats. Nothing here touches the clipboard;
// every function is safe to call without a session.
package format

import (
	"errors"
	"fmt"
	"mime"
	"slices"
	"strings"
)

var (
	// ErrUnsupportedFormat means a payload cannot be rendered as a given
	// native format. Publishers skip the format and carry on.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrUnsupportedFlavor means a flavor was requested that the data source
	// does not expose.
	ErrUnsupportedFlavor = errors.New("unsupported flavor")
)

// Flavor describes one representation of data, e.g. UTF-8 plain text.
type Flavor struct {
	MIME    string
	Charset string
}

var (
	TextFlavor   = Flavor{MIME: "text/plain", Charset: "utf-8"}
	HTMLFlavor   = Flavor{MIME: "text/html", Charset: "utf-8"}
	PNGFlavor    = Flavor{MIME: "image/png"}
	LocaleFlavor = Flavor{MIME: "application/x-locale"}
)

func (f Flavor) String() string {
	if f.Charset == "" {
		return f.MIME
	}
	return f.MIME + ";charset=" + f.Charset
}

// ParseFlavor parses a media type such as "text/plain; charset=UTF-8".
// Text types without a charset default to utf-8.
func ParseFlavor(s string) (Flavor, error) {
	mt, params, err := mime.ParseMediaType(s)
	if err != nil {
		return Flavor{}, fmt.Errorf("parse flavor %q: %w", s, err)
	}
	f := Flavor{MIME: mt, Charset: strings.ToLower(params["charset"])}
	if f.Charset == "" && strings.HasPrefix(mt, "text/") {
		f.Charset = "utf-8"
	}
	return f, nil
}

// Payload is a data source that can render itself in one or more flavors.
type Payload interface {
	// Flavors lists the supported flavors, most specific first.
	Flavors() []Flavor
	// Data renders the payload in flavor f.
	Data(f Flavor) ([]byte, error)
}

// Entry is one flavor of a static payload.
type Entry struct {
	Flavor Flavor
	Data   []byte
}

type staticPayload []Entry

// NewPayload returns a Payload serving fixed bytes per flavor, in the given order.
func NewPayload(entries ...Entry) Payload {
	return staticPayload(slices.Clone(entries))
}

// TextPayload returns a Payload offering s as UTF-8 plain text.
func TextPayload(s string) Payload {
	return NewPayload(Entry{Flavor: TextFlavor, Data: []byte(s)})
}

func (p staticPayload) Flavors() []Flavor {
	out := make([]Flavor, len(p))
	for i, e := range p {
		out[i] = e.Flavor
	}
	return out
}

func (p staticPayload) Data(f Flavor) ([]byte, error) {
	for _, e := range p {
		if e.Flavor == f {
			return slices.Clone(e.Data), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFlavor, f)
}
