package net

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

func GetEphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, fmt.Errorf("resolving localhost:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// TempUnixSocketPath returns a socket path inside a fresh directory under the system temp dir, along with a func that removes the directory.
// Unix socket paths are limited to ~108 bytes, which test temp dirs named after long test names can exceed, so this keeps the path short.
func TempUnixSocketPath(name string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "xs")
	if err != nil {
		return "", nil, fmt.Errorf("creating socket dir: %w", err)
	}
	return filepath.Join(dir, name), func() { os.RemoveAll(dir) }, nil
}
