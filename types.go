// Package monosocket provides a single-connection socket abstraction
// over an opaque transport engine. One socket owns exactly one engine
// handle, opens it in caller, listener or rendezvous mode, serializes
// outgoing payloads as fixed-size chunks through a background delivery
// task, and recovers from failure by recreating the handle and reopening.
package monosocket

import (
	"context"

	"github.com/monosocket/monosocket/descriptor"
	"github.com/monosocket/monosocket/engine"
)

// ChunkSize is the largest payload fragment prepared for one engine
// transmission. Larger payloads are split into ordered chunks of this
// size; the final chunk of a payload may be shorter.
const ChunkSize = 1316

type (
	// Socket is a single network connection in one of three roles.
	Socket interface {
		// Open establishes the connection described by d. The socket's
		// handle must be valid; engine-level failures close the handle
		// and surface as errs.ErrIllegalState errors.
		Open(d *descriptor.Descriptor) error

		// Send accepts payload for delivery. The payload is split into
		// ordered chunks which the delivery task transmits FIFO.
		// Success means enqueued, not delivered; the socket assumes
		// ownership of the payload until every chunk is transmitted.
		Send(payload []byte) error

		// Recv receives one message into b.
		Recv(b []byte) (n int, err error)

		// Reconnect tears the connection down, allocates a fresh
		// handle and reopens from uri. It is best-effort recovery:
		// failures are logged, never returned.
		Reconnect(uri string)

		// Start starts the delivery task on an established connection.
		// Start and Stop are idempotent.
		Start()
		// Stop cancels the delivery task and drops undelivered chunks.
		Stop()

		// Status queries the engine's view of the connection. It never
		// fails; an invalid handle reports StatusNonExist.
		Status() Status

		// StatusUpdates emits status snapshots on a fixed poll interval
		// until the status becomes closed or ctx is done. It is purely
		// observational. Each call is an independent subscription.
		StatusUpdates(ctx context.Context) <-chan Status

		Close() error
	}
)

// Status is a socket connection status.
type Status int

// statuses
const (
	StatusUnknown Status = iota
	StatusInit
	StatusOpened
	StatusListening
	StatusConnecting
	StatusConnected
	StatusBroken
	StatusClosing
	StatusClosed
	StatusNonExist
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusOpened:
		return "opened"
	case StatusListening:
		return "listening"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusBroken:
		return "broken"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusNonExist:
		return "nonexist"
	}
	return "unknown"
}

// statusOf maps the engine's raw state code to a Status. Unrecognized
// codes map to StatusUnknown, so the query can never fail.
func statusOf(st engine.State) Status {
	switch st {
	case engine.StateInit:
		return StatusInit
	case engine.StateOpened:
		return StatusOpened
	case engine.StateListening:
		return StatusListening
	case engine.StateConnecting:
		return StatusConnecting
	case engine.StateConnected:
		return StatusConnected
	case engine.StateBroken:
		return StatusBroken
	case engine.StateClosing:
		return StatusClosing
	case engine.StateClosed:
		return StatusClosed
	case engine.StateNonExist:
		return StatusNonExist
	}
	return StatusUnknown
}
