//go:build !unix

package proxyhttp

import "syscall"

// reuseAddrControl is a no-op on non-Unix platforms; Windows' default socket
// reuse semantics differ enough that mirroring SO_REUSEADDR would change
// behavior rather than merely relax a TIME_WAIT wait, so this build leaves
// net.ListenConfig's defaults untouched.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
