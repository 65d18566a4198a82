//go:build linux

package tcp

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// getSockBuf reads the effective SO_RCVBUF/SO_SNDBUF from the kernel.
// The standard library can set these buffers but not read them back,
// which the receive-buffer sizing check needs.
func getSockBuf(c net.Conn, name string) (interface{}, bool) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, false
	}

	opt := unix.SO_RCVBUF
	if name == "sndbuf" {
		opt = unix.SO_SNDBUF
	}

	var (
		val  int
		gerr error
	)
	if err = raw.Control(func(fd uintptr) {
		val, gerr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, opt)
	}); err != nil || gerr != nil {
		return nil, false
	}
	return val, true
}
