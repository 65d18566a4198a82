//go:build windows

package ipc

import (
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/monosocket/monosocket/engine"
)

func dial(remote string, f engine.Flags) (net.Conn, error) {
	timeout := f.Duration("conntimeo", defaultConnTimeout)
	return winio.DialPipe(`\\.\pipe\`+remote, &timeout)
}

func bind(local string, f engine.Flags) (net.Listener, error) {
	config := &winio.PipeConfig{
		InputBufferSize:  int32(f.Int("rcvbuf", 0)),
		OutputBufferSize: int32(f.Int("sndbuf", 0)),
		MessageMode:      false,
	}
	return winio.ListenPipe(`\\.\pipe\`+local, config)
}
