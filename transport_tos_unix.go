//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package mqttclient

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl sets the IP traffic class on TCP sockets before connect.
// A negative class leaves the socket untouched.
func socketControl(trafficClass int) func(network, address string, c syscall.RawConn) error {
	if trafficClass < 0 {
		return nil
	}

	return func(network, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if strings.HasSuffix(network, "6") {
				sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, trafficClass)
				return
			}
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, trafficClass)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
