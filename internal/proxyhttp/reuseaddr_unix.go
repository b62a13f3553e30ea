//go:build unix

package proxyhttp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR on the listening socket so a restart of
// the proxy does not have to wait out the TIME_WAIT state of the previous
// process's listener (mirrors the intent of SO_REUSEPORT handling in the
// accept-loop idiom this package's listener is modeled on).
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
