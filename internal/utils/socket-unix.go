//go:build !windows

package utils

import (
	"syscall"
)

// Receive-heavy single stream: only the read side needs a larger window.
func setSocketOptions(fd uintptr) {
	syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, 2*DefaultBufferSize)
}
