package monosocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/monosocket/monosocket/descriptor"
	"github.com/monosocket/monosocket/engine"
	"github.com/monosocket/monosocket/errs"
	"github.com/monosocket/monosocket/options"
)

// backlog for listener mode; a socket holds a single connection
const listenBacklog = 1

type socket struct {
	eng engine.Engine

	// opMu serializes lifecycle operations (Open/Reconnect/Start/Stop/
	// Close) so no two of them interleave. The state mutex below is only
	// held for brief mutations, keeping Status and Send responsive while
	// a blocking engine call is in flight.
	opMu sync.Mutex

	// base holds the constructor's option values; it is never mutated
	// after New.
	base options.OptionValues

	sync.Mutex
	hnd engine.Handle
	// knobs is base plus the current descriptor's Local values; rebuilt
	// on every open so reopens replace rather than accumulate.
	knobs   options.OptionValues
	running bool
	closed  bool
	sendq   *sendQueue
	stopq   chan struct{}
	donec   chan struct{}
}

// New creates a Socket bound to the engine e. The engine handle is
// allocated immediately.
func New(e engine.Engine, ovs ...*options.OptionValue) (Socket, error) {
	if e == nil {
		return nil, errs.ErrBadEngine
	}
	h, err := e.Open()
	if err != nil {
		return nil, err
	}

	s := &socket{
		eng:   e,
		hnd:   h,
		base:  options.OptionValues(ovs),
		knobs: options.OptionValues(ovs),
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "socket").
			WithField("engine", e.Scheme()).
			Debug("create")
	}
	return s, nil
}

// Open parses uri, picks the registered engine for its scheme, and
// returns an opened Socket.
func Open(uri string, ovs ...*options.OptionValue) (Socket, error) {
	d, err := descriptor.Parse(uri)
	if err != nil {
		return nil, err
	}
	e := engine.Get(d.Scheme)
	if e == nil {
		return nil, fmt.Errorf("%w: %q", errs.ErrBadEngine, d.Scheme)
	}

	s, err := New(e, ovs...)
	if err != nil {
		return nil, err
	}
	if err = s.Open(d); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *socket) Open(d *descriptor.Descriptor) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.open(d)
}

func (s *socket) open(d *descriptor.Descriptor) error {
	s.Lock()
	if s.closed {
		s.Unlock()
		return errs.ErrClosed
	}
	h := s.hnd
	// full slice expression so the append never writes into base
	s.knobs = append(s.base[:len(s.base):len(s.base)], localValues(d.Flags)...)
	s.Unlock()

	if h == nil {
		return &errs.IllegalStateError{Op: "open", Msg: "socket handle is not valid"}
	}

	if err := options.Configure(h, d.Flags, options.Pre); err != nil {
		return s.engineFailure(h, "open", err)
	}

	switch d.Mode {
	case descriptor.Caller:
		if d.Remote == "" {
			return missingEndpoint(d.Mode, "remote")
		}
		if err := h.Connect(d.Remote); err != nil {
			return s.engineFailure(h, "connect", err)
		}

	case descriptor.Listener:
		if d.Local == "" {
			return missingEndpoint(d.Mode, "local")
		}
		if err := h.Bind(d.Local); err != nil {
			return s.engineFailure(h, "bind", err)
		}
		if err := h.Listen(listenBacklog); err != nil {
			return s.engineFailure(h, "listen", err)
		}
		// post-connect flags are peer scoped and a listening socket has
		// no peer yet; they are skipped, not silently dropped
		if log.IsLevelEnabled(log.DebugLevel) {
			log.WithField("domain", "socket").
				WithField("local", d.Local).
				Debug("listening, post-connect flags deferred to the accepted peer")
		}
		return nil

	case descriptor.Rendezvous:
		if d.Remote == "" {
			return missingEndpoint(d.Mode, "remote")
		}
		if d.Local == "" {
			return missingEndpoint(d.Mode, "local")
		}
		if err := h.Rendezvous(d.Remote, d.Local); err != nil {
			return s.engineFailure(h, "rendezvous", err)
		}

	default:
		return fmt.Errorf("%w: %d", errs.ErrBadMode, d.Mode)
	}

	if err := options.Configure(h, d.Flags, options.Post); err != nil {
		return s.engineFailure(h, "open", err)
	}
	s.sizeRecvBuffer(h)
	s.startRun(h)

	log.WithField("domain", "socket").
		WithFields(log.Fields{"mode": d.Mode.String(), "remote": d.Remote}).
		Info("connected")
	return nil
}

func localValues(ovs options.OptionValues) options.OptionValues {
	var res options.OptionValues
	for _, ov := range ovs {
		if ov.Option.Restriction() == options.Local {
			res = append(res, ov)
		}
	}
	return res
}

func missingEndpoint(m descriptor.Mode, which string) error {
	return &errs.IllegalStateError{
		Op:  "open",
		Msg: fmt.Sprintf("%s mode requires a %s endpoint", m, which),
	}
}

// engineFailure maps an engine-level failure: the handle is spent, so it
// is closed and invalidated first, then the engine's last error code and
// message are folded into the returned error.
func (s *socket) engineFailure(h engine.Handle, op string, cause error) error {
	code, msg := h.LastError()
	s.invalidate(h)

	log.WithField("domain", "socket").
		WithFields(log.Fields{"op": op, "code": code, "engineError": msg}).
		WithError(cause).
		Error("engine failure")
	return &errs.IllegalStateError{Op: op, Code: code, Msg: msg, Cause: cause}
}

// invalidate closes h and forgets it if it is still the socket's current
// handle. The run loop, if any, is stopped; queued chunks are dropped.
func (s *socket) invalidate(h engine.Handle) {
	s.Lock()
	if s.hnd != h {
		s.Unlock()
		h.Close()
		return
	}
	s.stopRunLocked()
	s.hnd = nil
	s.Unlock()
	h.Close()
}

// sizeRecvBuffer grows the engine's receive buffer to cover the receive
// window. Best effort: engines without a sizable buffer just refuse.
func (s *socket) sizeRecvBuffer(h engine.Handle) {
	s.Lock()
	window := Options.WindowSize.ValueFrom(s.knobs)
	s.Unlock()
	want := window * ChunkSize

	name := options.Flag.RcvBuf.Name()
	if v, ok := h.GetFlag(name); ok {
		if cur, ok := v.(int); ok && cur >= want {
			return
		}
	}
	if err := h.SetFlag(name, want); err != nil {
		if log.IsLevelEnabled(log.DebugLevel) {
			log.WithField("domain", "socket").
				WithField("want", want).
				WithError(err).
				Debug("cannot grow receive buffer")
		}
		return
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "socket").
			WithField("rcvbuf", want).
			Debug("receive buffer grown")
	}
}

// startRun starts the delivery task. One task runs per active
// connection; a second start is a no-op.
func (s *socket) startRun(h engine.Handle) {
	s.Lock()
	defer s.Unlock()
	if s.running || s.closed {
		return
	}
	s.sendq = newSendQueue(Options.SendQueueLimit.ValueFrom(s.knobs))
	s.stopq = make(chan struct{})
	s.donec = make(chan struct{})
	s.running = true
	go s.run(h, s.sendq, s.stopq, s.donec)
}

// stopRunLocked flips the socket out of the running state and wakes the
// delivery task. Callers must hold the state mutex; join on the returned
// channel after releasing it.
func (s *socket) stopRunLocked() (donec chan struct{}) {
	donec = s.donec
	if !s.running {
		return
	}
	s.running = false
	close(s.stopq)
	if s.sendq != nil {
		s.sendq.drain()
	}
	return
}

// run is the delivery task: it drains the send queue strictly FIFO and
// transmits each chunk. A transmit failure is fatal to the handle and
// stops the run loop; chunks still queued are discarded.
func (s *socket) run(h engine.Handle, q *sendQueue, stopq chan struct{}, donec chan struct{}) {
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "socket").Debug("delivery start")
	}
	defer close(donec)

	for {
		chunk, ok := q.pop(stopq)
		if !ok {
			break
		}
		if err := h.Send(chunk); err != nil {
			code, msg := h.LastError()
			log.WithField("domain", "socket").
				WithFields(log.Fields{"code": code, "engineError": msg}).
				WithError(err).
				Error("transmit failed, stopping run loop")
			s.invalidate(h)
			break
		}
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "socket").Debug("delivery stopped")
	}
}

func (s *socket) Send(payload []byte) error {
	if s.Status() != StatusConnected {
		return errs.ErrNotConnected
	}

	s.Lock()
	defer s.Unlock()
	if !s.running {
		return errs.ErrNotConnected
	}
	return s.sendq.pushAll(chunks(payload))
}

// chunks splits payload into ordered fragments of at most ChunkSize
// bytes. The fragments alias payload; they are not copies.
func chunks(payload []byte) [][]byte {
	n := (len(payload) + ChunkSize - 1) / ChunkSize
	res := make([][]byte, 0, n)
	for off := 0; off < len(payload); off += ChunkSize {
		end := off + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		res = append(res, payload[off:end])
	}
	return res
}

func (s *socket) Recv(b []byte) (int, error) {
	s.Lock()
	h := s.hnd
	s.Unlock()
	if h == nil || statusOf(h.State()) != StatusConnected {
		return 0, errs.ErrNotConnected
	}

	n, err := h.Recv(b)
	if err != nil {
		return 0, s.engineFailure(h, "recv", err)
	}
	return n, nil
}

// Reconnect is best-effort recovery: it never surfaces failure. The old
// handle is destroyed, a fresh one allocated, and the connection is
// reopened from uri.
func (s *socket) Reconnect(uri string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	lg := log.WithField("domain", "socket").WithField("uri", uri)

	s.Lock()
	if s.closed {
		s.Unlock()
		lg.Warn("reconnect on closed socket")
		return
	}
	donec := s.stopRunLocked()
	h := s.hnd
	s.hnd = nil
	s.Unlock()
	// close before joining: a delivery task parked in a blocking Send
	// only comes back once the handle is torn down under it
	if h != nil {
		h.Close()
	}
	if donec != nil {
		<-donec
	}

	nh, err := s.eng.Open()
	if err != nil {
		lg.WithError(err).Error("reconnect: engine refused a new handle")
		return
	}
	s.Lock()
	s.hnd = nh
	s.Unlock()

	d, err := descriptor.Parse(uri)
	if err != nil {
		lg.WithError(err).Error("reconnect: bad uri")
		return
	}
	if err = s.open(d); err != nil {
		lg.WithError(err).Error("reconnect failed")
		return
	}
	lg.Info("reconnected")
}

func (s *socket) Start() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.Lock()
	h := s.hnd
	s.Unlock()
	if h == nil || statusOf(h.State()) != StatusConnected {
		return
	}
	s.startRun(h)
}

func (s *socket) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stop()
}

func (s *socket) stop() {
	s.Lock()
	donec := s.stopRunLocked()
	s.Unlock()
	if donec != nil {
		<-donec
	}
}

func (s *socket) Status() Status {
	s.Lock()
	h := s.hnd
	s.Unlock()
	if h == nil {
		return StatusNonExist
	}
	return statusOf(h.State())
}

func (s *socket) StatusUpdates(ctx context.Context) <-chan Status {
	s.Lock()
	interval := Options.StatusPollInterval.ValueFrom(s.knobs)
	s.Unlock()

	ch := make(chan Status, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			st := s.Status()
			select {
			case ch <- st:
			case <-ctx.Done():
				return
			}
			if st == StatusClosed || st == StatusNonExist {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (s *socket) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.Lock()
	if s.closed {
		s.Unlock()
		return errs.ErrClosed
	}
	s.closed = true
	donec := s.stopRunLocked()
	h := s.hnd
	s.hnd = nil
	s.Unlock()

	// close before joining: a delivery task parked in a blocking Send
	// only comes back once the handle is torn down under it
	if h != nil {
		h.Close()
	}
	if donec != nil {
		<-donec
	}
	return nil
}
