//go:build windows

package transport

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/windows"
)

// setSocketOptions sets SO_REUSEADDR, the only coexistence option
// Windows offers. Windows SO_REUSEADDR permits multiple processes to
// bind the same port, unlike POSIX's TIME_WAIT-only semantics — this is
// Windows's equivalent of SO_REUSEPORT, which the platform lacks.
func setSocketOptions(fd uintptr) error {
	if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}
	return nil
}

// getKernelVersion is not meaningful on Windows.
func getKernelVersion() string {
	return ""
}

// PlatformControl is the net.ListenConfig.Control function UDPv4Transport
// uses to apply Windows socket options during bind.
func PlatformControl(_, _ string, c syscall.RawConn) error {
	var sockoptErr error
	err := c.Control(func(fd uintptr) {
		sockoptErr = setSocketOptions(fd)
	})
	if err != nil {
		return fmt.Errorf("raw conn control failed: %w", err)
	}
	return sockoptErr
}
