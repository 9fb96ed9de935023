// Package ipc locates and opens the local socket a running "sysclip serve"
// daemon listens on. The daemon serves the same gRPC service over it as over
// TCP; CLI commands look for it and fall back to the clipboard directly.
package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"
)

// EnvSocket overrides the socket path.
const EnvSocket = "SYSCLIP_SOCKET"

const dialTimeout = 500 * time.Millisecond

// SocketPath returns the IPC socket path: $SYSCLIP_SOCKET if set, else
// $XDG_RUNTIME_DIR/sysclip.sock on Unix, else a file under the temp dir.
func SocketPath() string {
	if s := os.Getenv(EnvSocket); s != "" {
		return s
	}
	return socketPath()
}

// Target returns the gRPC dial target for the socket.
func Target() string {
	return "unix://" + SocketPath()
}

// IsRunning reports whether something accepts connections on the socket.
func IsRunning() bool {
	c, err := net.DialTimeout("unix", SocketPath(), dialTimeout)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen removes a stale socket left by a crashed daemon and listens on the
// socket path. It refuses to replace a socket another daemon still serves.
func Listen() (net.Listener, error) {
	path := SocketPath()
	if IsRunning() {
		return nil, fmt.Errorf("ipc: %s already in use", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ipc: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", path, err)
	}
	restrict(path)
	return ln, nil
}

// Dial connects to the socket.
func Dial() (net.Conn, error) {
	return net.DialTimeout("unix", SocketPath(), dialTimeout)
}
