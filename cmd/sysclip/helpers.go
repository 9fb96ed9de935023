package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.klb.dev/sysclip/internal/clipboard"
	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/ipc"
	"go.klb.dev/sysclip/internal/native"
	"go.klb.dev/sysclip/internal/rpcservice"
)

const (
	backendSystem  = "system"
	backendCommand = "command"
	backendMemory  = "memory"
)

// openNative returns the native clipboard named by backend.
func openNative(backend string) (native.Clipboard, error) {
	switch backend {
	case backendSystem, "":
		s, err := native.NewSystem()
		if err != nil {
			return nil, err
		}
		return s, nil
	case backendCommand:
		c, err := native.NewCommand()
		if err != nil {
			return nil, err
		}
		return c, nil
	case backendMemory:
		return native.NewDesktop().Connect("sysclip"), nil
	}
	return nil, fmt.Errorf("unknown backend %q (want %s, %s or %s)", backend, backendSystem, backendCommand, backendMemory)
}

func openClipboard(backend string) (*clipboard.Clipboard, error) {
	nat, err := openNative(backend)
	if err != nil {
		return nil, err
	}
	slog.Debug("clipboard backend", "name", nat.Name())
	return clipboard.New(nat, clipboard.Config{Name: nat.Name()}), nil
}

// target is where a CLI command sends its request: a running daemon or the
// clipboard itself.
type target interface {
	Copy(ctx context.Context, entries []format.Entry) error
	Paste(ctx context.Context, mime string) ([]byte, bool, error)
	Formats(ctx context.Context) ([]rpcservice.FormatInfo, error)
	Watch(ctx context.Context, fn func(rpcservice.Change)) error
	String() string
	Close() error
}

// openTarget prefers the daemon on the IPC socket unless --direct is set.
func openTarget(v *viper.Viper) (target, error) {
	if !v.GetBool("direct") && ipc.IsRunning() {
		conn, err := grpc.NewClient(ipc.Target(),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithPerRPCCredentials(rpcservice.TokenCredentials(v.GetString("token"))),
		)
		if err == nil {
			return &remoteTarget{conn: conn, client: rpcservice.NewClient(conn)}, nil
		}
		slog.Warn("daemon socket present but unusable, using clipboard directly", "err", err)
	}
	c, err := openClipboard(v.GetString("backend"))
	if err != nil {
		return nil, err
	}
	return &localTarget{c: c}, nil
}

type remoteTarget struct {
	conn   *grpc.ClientConn
	client *rpcservice.Client
}

func (r *remoteTarget) Copy(ctx context.Context, entries []format.Entry) error {
	return r.client.Copy(ctx, entries)
}

func (r *remoteTarget) Paste(ctx context.Context, mime string) ([]byte, bool, error) {
	return r.client.Paste(ctx, mime)
}

func (r *remoteTarget) Formats(ctx context.Context) ([]rpcservice.FormatInfo, error) {
	return r.client.Formats(ctx)
}

func (r *remoteTarget) Watch(ctx context.Context, fn func(rpcservice.Change)) error {
	return r.client.Watch(ctx, fn)
}

func (r *remoteTarget) String() string { return "ipc (" + ipc.SocketPath() + ")" }
func (r *remoteTarget) Close() error   { return r.conn.Close() }

type localTarget struct {
	c *clipboard.Clipboard
}

func (l *localTarget) Copy(_ context.Context, entries []format.Entry) error {
	res, err := l.c.SetContents(format.NewPayload(entries...), nil)
	if err != nil {
		return err
	}
	if len(res.Written) == 0 {
		return fmt.Errorf("no native format can carry %d item(s)", len(entries))
	}
	return nil
}

func (l *localTarget) Paste(_ context.Context, mime string) ([]byte, bool, error) {
	f, err := format.ParseFlavor(mime)
	if err != nil {
		return nil, false, err
	}
	snap, err := l.c.Contents()
	if err != nil {
		return nil, false, err
	}
	data, err := snap.Data(f)
	if errors.Is(err, format.ErrUnsupportedFlavor) {
		return nil, false, nil
	}
	return data, err == nil, err
}

func (l *localTarget) Formats(_ context.Context) ([]rpcservice.FormatInfo, error) {
	var ids []native.FormatID
	err := l.c.With(false, func(s *clipboard.Session) error {
		var err error
		ids, err = s.EnumerateFormats()
		return err
	})
	if err != nil {
		return nil, err
	}
	return rpcservice.Describe(l.c.Table(), ids), nil
}

func (l *localTarget) Watch(ctx context.Context, fn func(rpcservice.Change)) error {
	ch := make(chan []native.FormatID, 16)
	id, err := l.c.AddFlavorListener(func(formats []native.FormatID) {
		select {
		case ch <- formats:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer l.c.RemoveFlavorListener(id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ids := <-ch:
			fn(rpcservice.Change{Formats: rpcservice.Describe(l.c.Table(), ids), At: time.Now()})
		}
	}
}

func (l *localTarget) String() string { return "direct (" + l.c.Name() + ")" }
func (l *localTarget) Close() error   { return l.c.Close() }

// retryPolicy retries calls that failed because the clipboard was
// momentarily held, either in this process, by the daemon, or natively.
type retryPolicy struct {
	attempts int
	delay    time.Duration
}

func retryFromViper(v *viper.Viper) retryPolicy {
	return retryPolicy{attempts: max(1, v.GetInt("retries")), delay: v.GetDuration("retry-delay")}
}

func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !isBusy(err) || attempt >= p.attempts {
			return err
		}
		slog.Debug("clipboard busy, retrying", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay):
		}
	}
}

func isBusy(err error) bool {
	return errors.Is(err, clipboard.ErrResourceBusy) ||
		errors.Is(err, native.ErrOpenedElsewhere) ||
		rpcservice.IsBusy(err)
}
