// sysclip: mediated access to the system clipboard.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/sysclip/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sysclip",
		Short: "Read, write and watch the system clipboard",
		Long: `sysclip publishes data to the system clipboard in every native format it
can be rendered as, reads it back in the flavor you ask for, and reports
changes made by other programs.

Run "sysclip serve" to keep one process in charge of the clipboard; the other
commands then go through its local socket instead of opening the clipboard
themselves.

Config file search order (first found wins):
  /etc/sysclip/sysclip.toml
  $HOME/.config/sysclip/sysclip.toml
  path supplied via --config

All flags can be set via SYSCLIP_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newCopyCmd(),
		newPasteCmd(),
		newFormatsCmd(),
		newWatchCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sysclip %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed. An
// empty level means debug when interactive and def otherwise.
func resolveLogging(interactive bool, def slog.Level, formatStr, levelStr string) {
	if interactive {
		def = slog.LevelDebug
	}
	logging.Setup(logging.Options{
		Format: logging.ParseFormat(formatStr),
		Level:  logging.ParseLevel(levelStr, def),
	})
}
