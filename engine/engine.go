// Package engine defines the capability boundary to the transport
// engine: the opaque socket-lifecycle primitives a socket drives. The
// socket's state machine and queueing never reach past this surface, so
// they can run against any engine, including in-memory test doubles.
package engine

import "sync"

// State is the engine's raw socket state code.
type State int

// raw socket states
const (
	StateInit State = iota + 1
	StateOpened
	StateListening
	StateConnecting
	StateConnected
	StateBroken
	StateClosing
	StateClosed
	StateNonExist
)

// engine error codes, major*1000+minor
const (
	CodeNone         = 0
	CodeConnSetup    = 1000
	CodeConnRejected = 1002
	CodeConnLost     = 2001
	CodeResourceFail = 3001
	CodeInvalidOp    = 5001
	CodeInvalidFlag  = 5002
	CodeFlagPhase    = 5003
	CodeMsgTooLarge  = 5004
)

type (
	// Engine creates native socket handles for one address scheme.
	Engine interface {
		Scheme() string
		Open() (Handle, error)
	}

	// Handle is one native socket bound to the engine. Exactly one
	// connection lives behind a handle; once it fails or closes the
	// handle is spent and a new one must be allocated.
	//
	// Connect, Bind, Listen, Rendezvous, Send and Recv block; the
	// engine's own timeout behavior applies. State and LastError never
	// block and may be called concurrently with everything else.
	Handle interface {
		Connect(remote string) error
		Bind(local string) error
		Listen(backlog int) error
		Rendezvous(remote, local string) error

		Send(b []byte) error
		Recv(b []byte) (n int, err error)

		SetFlag(name string, val interface{}) error
		GetFlag(name string) (val interface{}, ok bool)

		State() State
		LastError() (code int, msg string)

		Close() error
	}
)

var (
	lock    sync.RWMutex
	engines = map[string]Engine{}
)

// Register registers the engine globally, after which it is available to
// every socket. It overrides any engine registered for the same scheme.
func Register(e Engine) {
	lock.Lock()
	engines[e.Scheme()] = e
	lock.Unlock()
}

// Get looks up the engine for a scheme.
func Get(scheme string) Engine {
	lock.RLock()
	e := engines[scheme]
	lock.RUnlock()
	return e
}
