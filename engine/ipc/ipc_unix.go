//go:build !windows

package ipc

import (
	"net"
	"os"

	"github.com/monosocket/monosocket/engine"
	"github.com/monosocket/monosocket/errs"
)

func dial(remote string, f engine.Flags) (net.Conn, error) {
	d := net.Dialer{Timeout: f.Duration("conntimeo", defaultConnTimeout)}
	return d.Dial("unix", remote)
}

func bind(local string, f engine.Flags) (net.Listener, error) {
	// remove a stale socket file left behind by a dead peer
	if stat, err := os.Stat(local); err == nil {
		if stat.Mode()&os.ModeSocket == 0 {
			return nil, errs.ErrBadAddr
		}
		if err = os.Remove(local); err != nil {
			return nil, err
		}
	}
	return net.Listen("unix", local)
}
