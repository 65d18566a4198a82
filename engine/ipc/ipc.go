// Package ipc implements the inter-process engine, on top of UNIX domain
// sockets or Windows named pipes. To enable it simply import it.
package ipc

import (
	"time"

	"github.com/monosocket/monosocket/engine"
)

const (
	// Engine is an engine.Engine for IPC.
	Engine = ipcEngine("ipc")

	defaultConnTimeout = 3 * time.Second
)

type ipcEngine string

func init() {
	engine.Register(Engine)
}

func (e ipcEngine) Scheme() string {
	return string(e)
}

func (e ipcEngine) Open() (engine.Handle, error) {
	return engine.NewStream(engine.StreamConfig{
		Scheme: string(e),
		Dial:   dial,
		Bind:   bind,
		// a pipe path cannot be dialed and bound by the same peer
		Rendezvous: false,
	}), nil
}
