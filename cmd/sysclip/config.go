package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var envReplacer = strings.NewReplacer("-", "_")

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and SYSCLIP_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → SYSCLIP_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("sysclip")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/sysclip/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sysclip"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("SYSCLIP")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addClipboardFlags adds the flags every clipboard-touching command shares.
func addClipboardFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend", backendSystem, "clipboard backend when no daemon is running: system|command|memory")
	f.Bool("direct", false, "never use a running daemon")
	f.String("token", "", "bearer token for the daemon")
	f.Int("retries", 5, "attempts while the clipboard is busy")
	f.Duration("retry-delay", 50*time.Millisecond, "wait between busy retries")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper, def slog.Level) {
	resolveLogging(v.GetBool("no-background"), def, v.GetString("log-format"), v.GetString("log-level"))
}
