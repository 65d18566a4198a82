//go:build !linux

package tcp

import "net"

func getSockBuf(c net.Conn, name string) (interface{}, bool) {
	return nil, false
}
