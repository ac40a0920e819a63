//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package mqttclient

import "syscall"

// socketControl is a no-op where the traffic class cannot be set portably.
func socketControl(int) func(network, address string, c syscall.RawConn) error {
	return nil
}
