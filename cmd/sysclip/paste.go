package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Print the clipboard to stdout (like pbpaste)",
		Long: `Reads the clipboard in the requested MIME type and writes it to stdout.

If the clipboard holds nothing in that type, nothing is printed (exit 0).
To retrieve an image:

  sysclip paste --mime image/png > screenshot.png`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runPaste(cmd, v) },
	}

	cmd.Flags().String("mime", "text/plain", "MIME type to output")
	addClipboardFlags(cmd)

	return cmd
}

func runPaste(cmd *cobra.Command, v *viper.Viper) error {
	setupLogging(v, slog.LevelWarn)

	t, err := openTarget(v)
	if err != nil {
		return err
	}
	defer t.Close()

	var (
		ctx   = cmd.Context()
		data  []byte
		found bool
	)
	err = retryFromViper(v).do(ctx, func() error {
		var err error
		data, found, err = t.Paste(ctx, v.GetString("mime"))
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		slog.Debug("requested type not on clipboard", "mime", v.GetString("mime"))
		return nil
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
