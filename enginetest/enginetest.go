// Package enginetest provides a scripted in-memory engine for testing
// socket behavior without a live transport. Failure injection is
// per-primitive and state transitions mirror a well-behaved engine.
package enginetest

import (
	"sync"
	"time"

	"github.com/monosocket/monosocket/engine"
)

type (
	// Engine is a fake engine.Engine. Every Open records the handle it
	// produced so tests can reach the handles a socket allocated.
	Engine struct {
		// OpenErr makes Open fail when set.
		OpenErr error

		mu      sync.Mutex
		handles []*Handle
	}

	// Handle is a fake engine.Handle with controllable behavior.
	Handle struct {
		// failure injection, set before use
		ConnectErr    error
		BindErr       error
		ListenErr     error
		RendezvousErr error
		RecvErr       error
		FailFlags     map[string]error
		// SendErrAt makes the nth Send fail (1-based); 0 never fails.
		SendErrAt int
		// BlockSend, when set, parks every Send until the channel is
		// closed or the handle is closed out from under it.
		BlockSend chan struct{}

		mu       sync.Mutex
		state    engine.State
		calls    []string
		sent     [][]byte
		flags    map[string]interface{}
		recvq    [][]byte
		sends    int
		lastCode int
		lastMsg  string
		closed   bool
		closedq  chan struct{}
	}
)

// NewEngine creates a fake engine.
func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) Scheme() string {
	return "test"
}

func (e *Engine) Open() (engine.Handle, error) {
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	h := NewHandle()
	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.mu.Unlock()
	return h, nil
}

// Handles returns every handle this engine has produced, oldest first.
func (e *Engine) Handles() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Handle(nil), e.handles...)
}

// Handle returns the most recently produced handle.
func (e *Engine) Handle() *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.handles) == 0 {
		return nil
	}
	return e.handles[len(e.handles)-1]
}

// NewHandle creates a fake handle in the init state.
func NewHandle() *Handle {
	return &Handle{
		state:   engine.StateInit,
		flags:   make(map[string]interface{}),
		closedq: make(chan struct{}),
	}
}

func (h *Handle) record(call string) {
	h.calls = append(h.calls, call)
}

func (h *Handle) fail(code int, err error) error {
	h.lastCode = code
	h.lastMsg = err.Error()
	return err
}

func (h *Handle) Connect(remote string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("connect")
	if h.ConnectErr != nil {
		h.state = engine.StateBroken
		return h.fail(engine.CodeConnSetup, h.ConnectErr)
	}
	h.state = engine.StateConnected
	return nil
}

func (h *Handle) Bind(local string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("bind")
	if h.BindErr != nil {
		h.state = engine.StateBroken
		return h.fail(engine.CodeResourceFail, h.BindErr)
	}
	h.state = engine.StateOpened
	return nil
}

func (h *Handle) Listen(backlog int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("listen")
	if h.ListenErr != nil {
		h.state = engine.StateBroken
		return h.fail(engine.CodeResourceFail, h.ListenErr)
	}
	h.state = engine.StateListening
	return nil
}

func (h *Handle) Rendezvous(remote, local string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("rendezvous")
	if h.RendezvousErr != nil {
		h.state = engine.StateBroken
		return h.fail(engine.CodeConnSetup, h.RendezvousErr)
	}
	h.state = engine.StateConnected
	return nil
}

func (h *Handle) Send(b []byte) error {
	h.mu.Lock()
	h.record("send")
	h.sends++
	block := h.BlockSend
	h.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-h.closedq:
			h.mu.Lock()
			defer h.mu.Unlock()
			h.state = engine.StateBroken
			return h.fail(engine.CodeConnLost, errConnLost)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.fail(engine.CodeConnLost, errConnLost)
	}
	if h.SendErrAt > 0 && h.sends >= h.SendErrAt {
		h.state = engine.StateBroken
		return h.fail(engine.CodeConnLost, errConnLost)
	}
	c := make([]byte, len(b))
	copy(c, b)
	h.sent = append(h.sent, c)
	return nil
}

func (h *Handle) Recv(b []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("recv")
	if h.RecvErr != nil {
		h.state = engine.StateBroken
		return 0, h.fail(engine.CodeConnLost, h.RecvErr)
	}
	if len(h.recvq) == 0 {
		return 0, nil
	}
	msg := h.recvq[0]
	h.recvq = h.recvq[1:]
	return copy(b, msg), nil
}

// Feed queues a message for Recv.
func (h *Handle) Feed(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recvq = append(h.recvq, msg)
}

func (h *Handle) SetFlag(name string, val interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("setflag:" + name)
	if err := h.FailFlags[name]; err != nil {
		return h.fail(engine.CodeInvalidFlag, err)
	}
	h.flags[name] = val
	return nil
}

func (h *Handle) GetFlag(name string) (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.flags[name]
	return v, ok
}

func (h *Handle) State() engine.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return engine.StateClosed
	}
	return h.state
}

func (h *Handle) LastError() (int, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastCode, h.lastMsg
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("close")
	if !h.closed {
		h.closed = true
		close(h.closedq)
	}
	h.state = engine.StateClosed
	return nil
}

// Calls returns the primitive invocations recorded so far.
func (h *Handle) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// Sent returns every chunk transmitted so far.
func (h *Handle) Sent() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.sent...)
}

// Flag returns a stored flag value.
func (h *Handle) Flag(name string) (interface{}, bool) {
	return h.GetFlag(name)
}

// Closed reports whether the handle was closed.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// WaitSent blocks until at least n chunks were transmitted or the
// timeout elapses, and reports whether the count was reached.
func (h *Handle) WaitSent(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		h.mu.Lock()
		sent := len(h.sent)
		h.mu.Unlock()
		if sent >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errConnLost = testErr("connection was lost")
