//go:build !windows

package ipc

import (
	"os"
	"path/filepath"
	"strconv"
)

func socketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sysclip.sock")
	}
	return filepath.Join(os.TempDir(), "sysclip-"+strconv.Itoa(os.Getuid())+".sock")
}

// restrict limits the socket to its owner.
func restrict(path string) {
	_ = os.Chmod(path, 0o600)
}
