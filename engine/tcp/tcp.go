// Package tcp implements the TCP engine. To enable it simply import it.
package tcp

import (
	"net"
	"strings"
	"time"

	"github.com/monosocket/monosocket/engine"
	"github.com/monosocket/monosocket/errs"
)

const (
	// Engine is an engine.Engine for TCP.
	Engine = tcpEngine("tcp")

	defaultConnTimeout = 3 * time.Second
)

type tcpEngine string

func init() {
	engine.Register(Engine)
}

func (e tcpEngine) Scheme() string {
	return string(e)
}

func (e tcpEngine) Open() (engine.Handle, error) {
	return engine.NewStream(engine.StreamConfig{
		Scheme:     string(e),
		Dial:       dial,
		Bind:       bind,
		Rendezvous: true,
		Apply:      apply,
		Query:      query,
	}), nil
}

func dial(remote string, f engine.Flags) (net.Conn, error) {
	if _, err := net.ResolveTCPAddr("tcp", remote); err != nil {
		return nil, errs.ErrBadAddr
	}

	d := net.Dialer{Timeout: f.Duration("conntimeo", defaultConnTimeout)}
	c, err := d.Dial("tcp", remote)
	if err != nil {
		return nil, err
	}
	if err = configure(c.(*net.TCPConn), f); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func bind(local string, f engine.Flags) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", strings.TrimPrefix(local, "*"))
	if err != nil {
		return nil, errs.ErrBadAddr
	}
	return net.ListenTCP("tcp", addr)
}

func configure(c *net.TCPConn, f engine.Flags) error {
	if err := c.SetNoDelay(true); err != nil {
		return err
	}
	if v := f.Int("rcvbuf", 0); v > 0 {
		if err := c.SetReadBuffer(v); err != nil {
			return err
		}
	}
	if v := f.Int("sndbuf", 0); v > 0 {
		if err := c.SetWriteBuffer(v); err != nil {
			return err
		}
	}
	return nil
}

func apply(c net.Conn, name string, val interface{}) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	n, ok := val.(int)
	if !ok {
		return nil
	}
	switch name {
	case "rcvbuf":
		return tc.SetReadBuffer(n)
	case "sndbuf":
		return tc.SetWriteBuffer(n)
	}
	return nil
}

func query(c net.Conn, name string) (interface{}, bool) {
	switch name {
	case "rcvbuf", "sndbuf":
		return getSockBuf(c, name)
	}
	return nil, false
}
