// ABOUTME: Listener socket options on unix: address reuse and keepalive
// ABOUTME: Applied from the ListenConfig control hook before bind
//go:build unix

package server

import (
	"syscall"
)

// setSocketOptions lets a restarted server rebind while old connections
// linger in TIME_WAIT. Accepted sockets inherit SO_KEEPALIVE so a vanished
// peer eventually surfaces as a read error instead of an endless idle poll.
func setSocketOptions(fd uintptr) error {
	if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)
}
