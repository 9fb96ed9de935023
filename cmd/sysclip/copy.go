package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"go.klb.dev/sysclip/internal/format"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy stdin to the clipboard (like pbcopy)",
		Long: `Reads stdin and publishes it to the clipboard in every native format the
data can be rendered as.

  sysclip copy < notes.txt
  sysclip copy --mime image/png < screenshot.png
  sysclip copy --html < fragment.html   # HTML plus a plain-text copy`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runCopy(cmd, v) },
	}

	f := cmd.Flags()
	f.String("mime", "text/plain", "MIME type of the data on stdin")
	f.Bool("html", false, "stdin is an HTML fragment; publish it as text/html and as plain text")
	f.String("locale", "", `locale to publish with text, e.g. en_US ("auto" reads $LANG)`)
	addClipboardFlags(cmd)

	return cmd
}

func runCopy(cmd *cobra.Command, v *viper.Viper) error {
	setupLogging(v, slog.LevelWarn)

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	entries, err := copyEntries(data, v.GetString("mime"), v.GetBool("html"), v.GetString("locale"))
	if err != nil {
		return err
	}

	t, err := openTarget(v)
	if err != nil {
		return err
	}
	defer t.Close()
	slog.Debug("copying", "via", t.String(), "items", len(entries))

	ctx := cmd.Context()
	return retryFromViper(v).do(ctx, func() error { return t.Copy(ctx, entries) })
}

// copyEntries turns stdin into payload entries, most specific flavor first.
func copyEntries(data []byte, mime string, html bool, locale string) ([]format.Entry, error) {
	var entries []format.Entry
	if html {
		entries = append(entries,
			format.Entry{Flavor: format.HTMLFlavor, Data: data},
			format.Entry{Flavor: format.TextFlavor, Data: htmlText(data)},
		)
	} else {
		f, err := format.ParseFlavor(mime)
		if err != nil {
			return nil, err
		}
		entries = append(entries, format.Entry{Flavor: f, Data: data})
	}

	if locale == "auto" {
		locale = envLocale()
	}
	if locale != "" {
		tag, err := format.ParseLocale(locale)
		if err != nil {
			return nil, fmt.Errorf("locale %q: %w", locale, err)
		}
		entries = append(entries, format.Entry{Flavor: format.LocaleFlavor, Data: []byte(tag.String())})
	}
	return entries, nil
}

func envLocale() string {
	for _, k := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if s := os.Getenv(k); s != "" && !strings.EqualFold(s, "C") && !strings.EqualFold(s, "POSIX") {
			return s
		}
	}
	return ""
}

// htmlText renders the text content of an HTML fragment, with a line break
// after each block element. Script and style bodies are dropped.
func htmlText(data []byte) []byte {
	var (
		out  bytes.Buffer
		skip int
	)
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return bytes.TrimSpace(out.Bytes())
		case html.TextToken:
			if skip == 0 {
				out.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				skip++
			case atom.Br:
				out.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				if skip > 0 {
					skip--
				}
			case atom.P, atom.Div, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				out.WriteByte('\n')
			}
		}
	}
}
