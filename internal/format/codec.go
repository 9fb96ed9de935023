package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/png"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"

	"go.klb.dev/sysclip/internal/native"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Encode renders p's flavor f as native format id. It makes a single attempt;
// ErrUnsupportedFormat means the combination cannot be rendered and the caller
// should skip it. Any other error comes from the payload itself.
func Encode(p Payload, f Flavor, id native.FormatID) ([]byte, error) {
	data, err := p.Data(f)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFlavor) {
			return nil, fmt.Errorf("%w: %s as %d: %v", ErrUnsupportedFormat, f, id, err)
		}
		return nil, err
	}

	switch id {
	case native.CFUnicodeText, native.CFText:
		if f.MIME != "text/plain" {
			return nil, unsupported(f, id)
		}
		text, err := toUTF8(f, data)
		if err != nil {
			return nil, err
		}
		if id == native.CFText {
			return encodeANSI(text)
		}
		return encodeUnicode(text)

	case native.CFHTML:
		if f.MIME != "text/html" {
			return nil, unsupported(f, id)
		}
		frag, err := toUTF8(f, data)
		if err != nil {
			return nil, err
		}
		return encodeHTML(frag), nil

	case native.CFPNG:
		if f.MIME != "image/png" {
			return nil, unsupported(f, id)
		}
		if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%w: invalid png: %v", ErrUnsupportedFormat, err)
		}
		return data, nil

	case native.CFLocale:
		if f != LocaleFlavor {
			return nil, unsupported(f, id)
		}
		return encodeLocale(data)
	}

	// Formats outside the well-known set are carried verbatim.
	return data, nil
}

// Decode converts native bytes into a Go value: string for text and HTML
// formats, []byte for PNG and unknown formats, language.Tag for CFLocale.
// Malformed input is reported as a *native.Error.
func Decode(id native.FormatID, b []byte) (any, error) {
	switch id {
	case native.CFUnicodeText:
		s, err := decodeUnicode(b)
		if err != nil {
			return nil, &native.Error{Op: "decode", ID: id, Err: err}
		}
		return s, nil
	case native.CFText:
		s, err := charmap.Windows1252.NewDecoder().Bytes(trimNUL(b))
		if err != nil {
			return nil, &native.Error{Op: "decode", ID: id, Err: err}
		}
		return string(s), nil
	case native.CFHTML:
		frag, err := decodeHTML(b)
		if err != nil {
			return nil, &native.Error{Op: "decode", ID: id, Err: err}
		}
		return frag, nil
	case native.CFPNG:
		if _, err := png.DecodeConfig(bytes.NewReader(b)); err != nil {
			return nil, &native.Error{Op: "decode", ID: id, Err: err}
		}
		return bytes.Clone(b), nil
	case native.CFLocale:
		tag, err := decodeLocale(b)
		if err != nil {
			return nil, &native.Error{Op: "decode", ID: id, Err: err}
		}
		return tag, nil
	}
	return bytes.Clone(b), nil
}

// DecodeBytes is Decode flattened back to bytes in the format's flavor:
// UTF-8 for text, the fragment for HTML, the BCP 47 tag for CFLocale.
func DecodeBytes(id native.FormatID, b []byte) ([]byte, error) {
	v, err := Decode(id, b)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case string:
		return []byte(v), nil
	case language.Tag:
		return []byte(v.String()), nil
	case []byte:
		return v, nil
	}
	return nil, &native.Error{Op: "decode", ID: id, Err: fmt.Errorf("unexpected value %T", v)}
}

func unsupported(f Flavor, id native.FormatID) error {
	return fmt.Errorf("%w: %s cannot be rendered as %d", ErrUnsupportedFormat, f, id)
}

func toUTF8(f Flavor, data []byte) ([]byte, error) {
	if f.Charset == "" || f.Charset == "utf-8" {
		return data, nil
	}
	enc, err := htmlindex.Get(f.Charset)
	if err != nil {
		return nil, fmt.Errorf("%w: charset %q: %v", ErrUnsupportedFormat, f.Charset, err)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: charset %q: %v", ErrUnsupportedFormat, f.Charset, err)
	}
	return out, nil
}

func encodeUnicode(text []byte) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes(text)
	if err != nil {
		return nil, fmt.Errorf("%w: utf-16: %v", ErrUnsupportedFormat, err)
	}
	return append(b, 0, 0), nil
}

func decodeUnicode(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("odd length %d for utf-16 text", len(b))
	}
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// encodeANSI renders text in the Windows-1252 code page. Text that the code
// page cannot represent is left to CFUnicodeText.
func encodeANSI(text []byte) ([]byte, error) {
	b, err := charmap.Windows1252.NewEncoder().Bytes(text)
	if err != nil {
		return nil, fmt.Errorf("%w: not representable in windows-1252: %v", ErrUnsupportedFormat, err)
	}
	return append(b, 0), nil
}

func trimNUL(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

const (
	htmlHeader = "Version:0.9\r\nStartHTML:%010d\r\nEndHTML:%010d\r\nStartFragment:%010d\r\nEndFragment:%010d\r\n"
	htmlPrefix = "<html><body>\r\n<!--StartFragment-->"
	htmlSuffix = "<!--EndFragment-->\r\n</body></html>"
)

var htmlHeaderLen = len(fmt.Sprintf(htmlHeader, 0, 0, 0, 0))

// encodeHTML wraps an HTML fragment in the CF_HTML envelope. Offsets are
// byte positions from the start of the buffer.
func encodeHTML(frag []byte) []byte {
	startHTML := htmlHeaderLen
	startFrag := startHTML + len(htmlPrefix)
	endFrag := startFrag + len(frag)
	endHTML := endFrag + len(htmlSuffix)

	var buf bytes.Buffer
	buf.Grow(endHTML)
	fmt.Fprintf(&buf, htmlHeader, startHTML, endHTML, startFrag, endFrag)
	buf.WriteString(htmlPrefix)
	buf.Write(frag)
	buf.WriteString(htmlSuffix)
	return buf.Bytes()
}

func decodeHTML(b []byte) (string, error) {
	startFrag, endFrag := -1, -1
	for line := range strings.Lines(string(b)) {
		if strings.HasPrefix(line, "<") {
			break
		}
		key, val, ok := strings.Cut(strings.TrimRight(line, "\r\n"), ":")
		if !ok {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
			continue
		}
		switch key {
		case "StartFragment":
			startFrag = n
		case "EndFragment":
			endFrag = n
		}
	}
	if startFrag < 0 || endFrag < 0 {
		return "", errors.New("cf_html header missing fragment offsets")
	}
	if startFrag > endFrag || endFrag > len(b) {
		return "", fmt.Errorf("cf_html fragment [%d,%d) out of range for %d bytes", startFrag, endFrag, len(b))
	}
	return string(b[startFrag:endFrag]), nil
}

// lcids maps the locales we know how to publish to Windows locale ids.
var lcids = map[string]uint32{
	"en-US": 0x0409,
	"en-GB": 0x0809,
	"de-DE": 0x0407,
	"fr-FR": 0x040C,
	"es-ES": 0x0C0A,
	"it-IT": 0x0410,
	"pt-BR": 0x0416,
	"ru-RU": 0x0419,
	"ja-JP": 0x0411,
	"ko-KR": 0x0412,
	"zh-CN": 0x0804,
	"zh-TW": 0x0404,
}

// ParseLocale accepts BCP 47 tags as well as POSIX-style "en_US".
func ParseLocale(s string) (language.Tag, error) {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	return language.Parse(strings.ReplaceAll(s, "_", "-"))
}

func encodeLocale(data []byte) ([]byte, error) {
	tag, err := ParseLocale(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: locale %q: %v", ErrUnsupportedFormat, data, err)
	}
	lcid, ok := lcids[tag.String()]
	if !ok {
		return nil, fmt.Errorf("%w: no locale id for %s", ErrUnsupportedFormat, tag)
	}
	return binary.LittleEndian.AppendUint32(nil, lcid), nil
}

// decodeLocale reads a 4-byte LCID, falling back to a textual tag for
// clipboards that carry the locale name instead, including names that
// happen to be four bytes long.
func decodeLocale(b []byte) (language.Tag, error) {
	if len(b) == 4 {
		lcid := binary.LittleEndian.Uint32(b)
		for name, id := range lcids {
			if id == lcid {
				return language.MustParse(name), nil
			}
		}
	}
	tag, err := ParseLocale(string(b))
	if err != nil {
		if len(b) == 4 {
			return language.Und, fmt.Errorf("unknown locale id 0x%04X", binary.LittleEndian.Uint32(b))
		}
		return language.Und, fmt.Errorf("locale %q: %w", b, err)
	}
	return tag, nil
}
