package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/monosocket/monosocket/errs"
)

type (
	// Flags is a snapshot of the flag values set on a handle, passed to
	// the dial/bind hooks so they can honor pre-connect flags.
	Flags map[string]interface{}

	// StreamDialer establishes the outgoing connection for a stream engine.
	StreamDialer func(remote string, f Flags) (net.Conn, error)

	// StreamBinder binds the local endpoint for a stream engine.
	StreamBinder func(local string, f Flags) (net.Listener, error)

	// FlagApplier applies a flag to an established connection.
	FlagApplier func(c net.Conn, name string, val interface{}) error

	// FlagQuery reads a flag's effective value from an established
	// connection.
	FlagQuery func(c net.Conn, name string) (val interface{}, ok bool)

	// StreamConfig configures a StreamHandle for one concrete engine.
	StreamConfig struct {
		Scheme     string
		Dial       StreamDialer
		Bind       StreamBinder
		Rendezvous bool
		Apply      FlagApplier
		Query      FlagQuery
	}

	// StreamHandle implements Handle on top of a message-framed
	// net.Conn. Each message is sent as a 32-bit size (network byte
	// order) followed by the message itself. It backs the tcp, ipc and
	// ws engines.
	StreamHandle struct {
		cfg StreamConfig

		sync.Mutex
		state    State
		conn     net.Conn
		lst      net.Listener
		flags    Flags
		lastCode int
		lastMsg  string
		closed   bool
	}
)

// flag phases
const (
	flagPre = iota
	flagPost
	flagAny
)

// Flags a stream handle understands. The unlisted engine vocabulary
// (latency, fc, ...) has no stream equivalent and is rejected, which is
// what surfaces misconfiguration to the socket's option phases.
var streamFlags = map[string]int{
	"conntimeo":   flagPre,
	"streamid":    flagPre,
	"payloadsize": flagPre,
	"rcvbuf":      flagAny,
	"sndbuf":      flagAny,
	"maxbw":       flagPost,
	"inputbw":     flagPost,
	"oheadbw":     flagPost,
}

// flag value helpers used by dial/bind hooks

func (f Flags) Int(name string, def int) int {
	if v, ok := f[name].(int); ok {
		return v
	}
	return def
}

func (f Flags) String(name string, def string) string {
	if v, ok := f[name].(string); ok {
		return v
	}
	return def
}

func (f Flags) Duration(name string, def time.Duration) time.Duration {
	switch v := f[name].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	}
	return def
}

// NewStream allocates a stream handle in the init state.
func NewStream(cfg StreamConfig) *StreamHandle {
	return &StreamHandle{
		cfg:   cfg,
		state: StateInit,
		flags: Flags{},
	}
}

// fail records the engine's last error. Callers must hold the lock.
func (h *StreamHandle) fail(code int, err error) error {
	h.lastCode = code
	h.lastMsg = err.Error()
	return err
}

func (h *StreamHandle) snapshotFlags() Flags {
	f := make(Flags, len(h.flags))
	for k, v := range h.flags {
		f[k] = v
	}
	return f
}

func (h *StreamHandle) debugf(action string, fields log.Fields) {
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "engine."+h.cfg.Scheme).
			WithFields(fields).
			Debug(action)
	}
}

// Connect dials the remote endpoint.
func (h *StreamHandle) Connect(remote string) error {
	h.Lock()
	if h.closed {
		h.Unlock()
		return h.fail(CodeInvalidOp, errs.ErrClosed)
	}
	if h.state != StateInit {
		h.Unlock()
		return h.fail(CodeInvalidOp, errs.ErrIllegalState)
	}
	h.state = StateConnecting
	f := h.snapshotFlags()
	h.Unlock()

	c, err := h.cfg.Dial(remote, f)

	h.Lock()
	defer h.Unlock()
	if h.closed {
		if c != nil {
			c.Close()
		}
		return h.fail(CodeInvalidOp, errs.ErrClosed)
	}
	if err != nil {
		h.state = StateBroken
		return h.fail(CodeConnSetup, err)
	}
	h.conn = c
	h.state = StateConnected
	h.debugf("connect", log.Fields{"remote": remote})
	return nil
}

// Bind binds the local endpoint.
func (h *StreamHandle) Bind(local string) error {
	h.Lock()
	if h.closed {
		h.Unlock()
		return h.fail(CodeInvalidOp, errs.ErrClosed)
	}
	if h.state != StateInit {
		h.Unlock()
		return h.fail(CodeInvalidOp, errs.ErrIllegalState)
	}
	f := h.snapshotFlags()
	h.Unlock()

	lst, err := h.cfg.Bind(local, f)

	h.Lock()
	defer h.Unlock()
	if h.closed {
		if lst != nil {
			lst.Close()
		}
		return h.fail(CodeInvalidOp, errs.ErrClosed)
	}
	if err != nil {
		h.state = StateBroken
		return h.fail(CodeResourceFail, err)
	}
	h.lst = lst
	h.state = StateOpened
	h.debugf("bind", log.Fields{"local": local})
	return nil
}

// Listen starts accepting. A stream handle holds a single connection, so
// whatever the backlog, one peer is accepted and the listener is closed.
func (h *StreamHandle) Listen(backlog int) error {
	h.Lock()
	defer h.Unlock()
	if h.state != StateOpened || h.lst == nil {
		return h.fail(CodeInvalidOp, errs.ErrIllegalState)
	}
	h.state = StateListening
	go h.accept(h.lst)
	h.debugf("listen", log.Fields{"backlog": backlog})
	return nil
}

func (h *StreamHandle) accept(lst net.Listener) {
	c, err := lst.Accept()

	h.Lock()
	defer h.Unlock()
	if h.closed || h.state != StateListening {
		if c != nil {
			c.Close()
		}
		return
	}
	if err != nil {
		h.state = StateBroken
		h.fail(CodeConnLost, err)
		return
	}
	h.conn = c
	h.state = StateConnected
	h.lst = nil
	lst.Close()
	h.debugf("accept", log.Fields{"remote": c.RemoteAddr().String()})
}

// Rendezvous establishes the connection symmetrically. Both peers call
// it simultaneously; the role split is deterministic so the peers agree
// on a single connection: the side with the smaller endpoint string
// dials (retrying until the peer's listener is up), the other accepts.
func (h *StreamHandle) Rendezvous(remote, local string) error {
	if !h.cfg.Rendezvous {
		h.Lock()
		defer h.Unlock()
		return h.fail(CodeInvalidOp, errs.ErrOperationNotSupported)
	}

	h.Lock()
	if h.state != StateInit {
		h.Unlock()
		return h.fail(CodeInvalidOp, errs.ErrIllegalState)
	}
	h.state = StateConnecting
	f := h.snapshotFlags()
	h.Unlock()

	timeout := f.Duration("conntimeo", 3*time.Second)

	var (
		c   net.Conn
		err error
	)
	if local < remote {
		c, err = h.rendezvousDial(remote, f, timeout)
	} else {
		c, err = h.rendezvousAccept(local, f, timeout)
	}

	h.Lock()
	defer h.Unlock()
	if h.closed {
		if c != nil {
			c.Close()
		}
		return h.fail(CodeInvalidOp, errs.ErrClosed)
	}
	if err != nil {
		h.state = StateBroken
		return h.fail(CodeConnSetup, err)
	}
	h.conn = c
	h.state = StateConnected
	h.debugf("rendezvous", log.Fields{"remote": remote, "local": local})
	return nil
}

func (h *StreamHandle) rendezvousDial(remote string, f Flags, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		c, err := h.cfg.Dial(remote, f)
		if err == nil {
			return c, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("rendezvous with %s timed out: %w", remote, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (h *StreamHandle) rendezvousAccept(local string, f Flags, timeout time.Duration) (net.Conn, error) {
	lst, err := h.cfg.Bind(local, f)
	if err != nil {
		return nil, err
	}
	defer lst.Close()

	done := make(chan net.Conn, 1)
	go func() {
		if c, aerr := lst.Accept(); aerr == nil {
			done <- c
		} else {
			close(done)
		}
	}()

	select {
	case c, ok := <-done:
		if !ok {
			return nil, fmt.Errorf("rendezvous accept on %s failed", local)
		}
		return c, nil
	case <-time.After(timeout):
		// a late accept still lands in the buffered channel; reap it
		go func() {
			if c, ok := <-done; ok && c != nil {
				c.Close()
			}
		}()
		return nil, fmt.Errorf("rendezvous on %s timed out", local)
	}
}

func (h *StreamHandle) connected() (net.Conn, error) {
	h.Lock()
	defer h.Unlock()
	if h.state != StateConnected || h.conn == nil {
		return nil, h.fail(CodeInvalidOp, errs.ErrNotConnected)
	}
	return h.conn, nil
}

func (h *StreamHandle) broken(code int, err error) error {
	h.Lock()
	defer h.Unlock()
	if !h.closed && h.state == StateConnected {
		h.state = StateBroken
	}
	return h.fail(code, err)
}

// Send transmits one message as a 32-bit size followed by the message.
func (h *StreamHandle) Send(b []byte) error {
	c, err := h.connected()
	if err != nil {
		return err
	}

	lbyte := make([]byte, 4)
	binary.BigEndian.PutUint32(lbyte, uint32(len(b)))
	buff := net.Buffers{lbyte, b}
	if _, err = buff.WriteTo(c); err != nil {
		return h.broken(CodeConnLost, err)
	}
	return nil
}

// Recv receives one message into b, which must be able to hold it.
func (h *StreamHandle) Recv(b []byte) (int, error) {
	c, err := h.connected()
	if err != nil {
		return 0, err
	}

	var sz uint32
	if err = binary.Read(c, binary.BigEndian, &sz); err != nil {
		return 0, h.broken(CodeConnLost, err)
	}
	if int(sz) > len(b) {
		// discard to keep the stream aligned
		io.CopyN(io.Discard, c, int64(sz))
		return 0, h.broken(CodeMsgTooLarge, errs.ErrMsgTooLong)
	}
	if _, err = io.ReadFull(c, b[:sz]); err != nil {
		return 0, h.broken(CodeConnLost, err)
	}
	return int(sz), nil
}

// SetFlag stores or applies a flag, enforcing its phase against the
// handle's current state.
func (h *StreamHandle) SetFlag(name string, val interface{}) error {
	h.Lock()
	defer h.Unlock()

	phase, ok := streamFlags[name]
	if !ok {
		return h.fail(CodeInvalidFlag, fmt.Errorf("unsupported flag %q", name))
	}
	established := h.state == StateConnected || h.state == StateListening
	switch phase {
	case flagPre:
		if established {
			return h.fail(CodeFlagPhase, fmt.Errorf("flag %q must be set before connecting", name))
		}
	case flagPost:
		if !established {
			return h.fail(CodeFlagPhase, fmt.Errorf("flag %q requires an established connection", name))
		}
	}

	if h.conn != nil && h.cfg.Apply != nil {
		if err := h.cfg.Apply(h.conn, name, val); err != nil {
			return h.fail(CodeInvalidFlag, err)
		}
	}
	h.flags[name] = val
	return nil
}

// GetFlag reads a flag. For flags backed by the live connection the
// effective value is queried from it; otherwise the stored value is
// returned.
func (h *StreamHandle) GetFlag(name string) (interface{}, bool) {
	h.Lock()
	defer h.Unlock()

	// read-only flags
	switch name {
	case "localaddr":
		if h.conn != nil {
			return h.conn.LocalAddr().String(), true
		}
		if h.lst != nil {
			return h.lst.Addr().String(), true
		}
		return nil, false
	}

	if h.conn != nil && h.cfg.Query != nil {
		if v, ok := h.cfg.Query(h.conn, name); ok {
			return v, true
		}
	}
	v, ok := h.flags[name]
	return v, ok
}

// State reports the raw socket state.
func (h *StreamHandle) State() State {
	h.Lock()
	defer h.Unlock()
	if h.closed {
		return StateClosed
	}
	return h.state
}

// LastError reports the engine's last error code and message.
func (h *StreamHandle) LastError() (int, string) {
	h.Lock()
	defer h.Unlock()
	return h.lastCode, h.lastMsg
}

// Close tears the handle down. The handle is spent afterwards.
func (h *StreamHandle) Close() error {
	h.Lock()
	if h.closed {
		h.Unlock()
		return errs.ErrClosed
	}
	h.closed = true
	h.state = StateClosed
	c := h.conn
	lst := h.lst
	h.conn = nil
	h.lst = nil
	h.Unlock()

	if lst != nil {
		lst.Close()
	}
	if c != nil {
		return c.Close()
	}
	return nil
}
