package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/sysclip/internal/rpcservice"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a line whenever the set of formats on the clipboard changes",
		Long: `Prints the clipboard's native formats whenever another program changes
them. Changes that leave the set of formats unchanged are not reported.
Stops on SIGINT/SIGTERM.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runWatch(cmd, v) },
	}

	cmd.Flags().Bool("json", false, "output one JSON object per change")
	addClipboardFlags(cmd)

	return cmd
}

func runWatch(cmd *cobra.Command, v *viper.Viper) error {
	setupLogging(v, slog.LevelInfo)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t, err := openTarget(v)
	if err != nil {
		return err
	}
	defer t.Close()
	slog.Info("watching clipboard", "via", t.String())

	out := cmd.OutOrStdout()
	jsonOut := v.GetBool("json")
	enc := json.NewEncoder(out)
	return t.Watch(ctx, func(ch rpcservice.Change) {
		if jsonOut {
			_ = enc.Encode(ch)
			return
		}
		names := make([]string, len(ch.Formats))
		for i, fi := range ch.Formats {
			names[i] = fi.Name
		}
		fmt.Fprintf(out, "%s  %s\n", ch.At.Local().Format(time.TimeOnly), strings.Join(names, ", "))
	})
}
