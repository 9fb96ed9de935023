package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"go.klb.dev/sysclip/internal/ipc"
	"go.klb.dev/sysclip/internal/native"
	"go.klb.dev/sysclip/internal/rpcservice"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Own the clipboard and serve it to other sysclip commands",
		Long: `Opens the clipboard once and serves it over the local IPC socket, so that
copy, paste, formats and watch share one session lock instead of racing each
other for the native clipboard.

With --addr the same gRPC service is also served over TCP, alongside a small
HTTP API on the same port:

  GET /healthz      liveness
  GET /v1/formats   formats currently on the clipboard (JSON)

Config file search order:
  /etc/sysclip/sysclip.toml
  $HOME/.config/sysclip/sysclip.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → SYSCLIP_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("addr", "", "also listen on this TCP address, e.g. 127.0.0.1:8753")
	f.String("token", "", "bearer token required from clients (empty = no auth)")
	f.String("backend", backendSystem, "clipboard backend: system|command|memory")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	setupLogging(v, slog.LevelInfo)
	watchConfig(v)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openClipboard(v.GetString("backend"))
	if errors.Is(err, native.ErrUnavailable) {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		c, err = openClipboard(backendMemory)
	}
	if err != nil {
		return err
	}
	defer c.Close()

	addr := v.GetString("addr")
	token := v.GetString("token")
	slog.Info("sysclip serve starting",
		"version", Version,
		"backend", c.Name(),
		"addr", addr,
		"auth", token != "",
	)

	svc := rpcservice.New(c, token)
	srv := grpc.NewServer()
	svc.Register(srv)

	ipcLn, err := ipc.Listen()
	if err != nil {
		return err
	}
	slog.Info("IPC socket listening", "path", ipc.SocketPath())
	go func() {
		if err := srv.Serve(ipcLn); err != nil {
			slog.Warn("IPC listener stopped", "err", err)
		}
	}()

	var tcpLn net.Listener
	if addr != "" {
		tcpLn, err = net.Listen("tcp", addr)
		if err != nil {
			srv.Stop()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		slog.Info("listening", "addr", tcpLn.Addr())
		go func() {
			if err := rpcservice.ServeTCP(tcpLn, srv, svc.HTTPHandler()); err != nil {
				slog.Error("tcp listener stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")
	if tcpLn != nil {
		_ = tcpLn.Close()
	}
	srv.Stop()
	return nil
}

// watchConfig re-applies the logging settings when the config file in use
// changes. Listeners and the token are fixed for the life of the daemon.
func watchConfig(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		setupLogging(v, slog.LevelInfo)
		slog.Info("config reloaded", "file", e.Name)
	})
	v.WatchConfig()
}
