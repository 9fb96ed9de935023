package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/sysclip/internal/rpcservice"
)

func newFormatsCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "formats",
		Short:   "List the native formats on the clipboard",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runFormats(cmd, v) },
	}

	cmd.Flags().Bool("json", false, "output JSON")
	addClipboardFlags(cmd)

	return cmd
}

func runFormats(cmd *cobra.Command, v *viper.Viper) error {
	setupLogging(v, slog.LevelWarn)

	t, err := openTarget(v)
	if err != nil {
		return err
	}
	defer t.Close()

	ctx := cmd.Context()
	var infos []rpcservice.FormatInfo
	err = retryFromViper(v).do(ctx, func() error {
		var err error
		infos, err = t.Formats(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if v.GetBool("json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	printFormats(cmd.OutOrStdout(), infos)
	return nil
}

func printFormats(w io.Writer, infos []rpcservice.FormatInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "Clipboard is empty.")
		return
	}
	tw := tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\tNAME\tFLAVOR\n")
	_, _ = fmt.Fprintf(tw, "--\t----\t------\n")
	for _, fi := range infos {
		flavor := fi.Flavor
		if flavor == "" {
			flavor = "-"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", fi.ID, fi.Name, flavor)
	}
	_ = tw.Flush()
}
