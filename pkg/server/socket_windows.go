// ABOUTME: Listener socket options on windows: address reuse and keepalive
// ABOUTME: Applied from the ListenConfig control hook before bind
//go:build windows

package server

import (
	"syscall"
)

// setSocketOptions mirrors the unix variant; fd is a socket handle here
func setSocketOptions(fd uintptr) error {
	h := syscall.Handle(fd)
	if err := syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)
}
