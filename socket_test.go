package monosocket

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/monosocket/monosocket/descriptor"
	"github.com/monosocket/monosocket/engine"
	"github.com/monosocket/monosocket/enginetest"
	"github.com/monosocket/monosocket/errs"
	"github.com/monosocket/monosocket/options"
)

func newTestSocket(t *testing.T, ovs ...*options.OptionValue) (Socket, *enginetest.Engine) {
	t.Helper()
	e := enginetest.NewEngine()
	s, err := New(e, ovs...)
	if err != nil {
		t.Fatalf("New error: %s", err)
	}
	return s, e
}

func callerDesc(remote string) *descriptor.Descriptor {
	return &descriptor.Descriptor{Scheme: "test", Mode: descriptor.Caller, Remote: remote}
}

func waitStatus(t *testing.T, s Socket, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Status() != want {
		if time.Now().After(deadline) {
			t.Fatalf("status: got %s, want %s", s.Status(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func hasCall(calls []string, name string) bool {
	for _, c := range calls {
		if c == name {
			return true
		}
	}
	return false
}

func TestOpenMissingEndpoint(t *testing.T) {
	cases := []struct {
		name string
		desc *descriptor.Descriptor
	}{
		{"callerWithoutRemote", &descriptor.Descriptor{Mode: descriptor.Caller}},
		{"listenerWithoutLocal", &descriptor.Descriptor{Mode: descriptor.Listener}},
		{"rendezvousWithoutRemote", &descriptor.Descriptor{Mode: descriptor.Rendezvous, Local: "l:1"}},
		{"rendezvousWithoutLocal", &descriptor.Descriptor{Mode: descriptor.Rendezvous, Remote: "r:1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, e := newTestSocket(t)
			err := s.Open(tc.desc)
			if !errors.Is(err, errs.ErrIllegalState) {
				t.Errorf("Open: got %v, want ErrIllegalState", err)
			}
			calls := e.Handle().Calls()
			for _, p := range []string{"connect", "bind", "listen", "rendezvous"} {
				if hasCall(calls, p) {
					t.Errorf("Open invoked %q despite missing endpoint", p)
				}
			}
		})
	}
}

func TestOpenFlagPhases(t *testing.T) {
	s, e := newTestSocket(t)
	d := callerDesc("r:1")
	d.Flags = d.Flags.
		With(options.Flag.Latency, 120*time.Millisecond).
		With(options.Flag.MaxBW, 10_000_000)

	if err := s.Open(d); err != nil {
		t.Fatalf("Open error: %s", err)
	}

	calls := e.Handle().Calls()
	pre, conn, post := -1, -1, -1
	for i, c := range calls {
		switch c {
		case "setflag:latency":
			pre = i
		case "connect":
			conn = i
		case "setflag:maxbw":
			post = i
		}
	}
	if pre == -1 || conn == -1 || post == -1 {
		t.Fatalf("missing calls: %v", calls)
	}
	if !(pre < conn && conn < post) {
		t.Errorf("flag phases out of order: %v", calls)
	}
	if !hasCall(calls, "setflag:rcvbuf") {
		t.Errorf("receive buffer was not sized: %v", calls)
	}
}

func TestOpenPreFlagFailure(t *testing.T) {
	s, e := newTestSocket(t)
	h := e.Handle()
	h.FailFlags = map[string]error{
		"latency": errors.New("rejected"),
		"mss":     errors.New("rejected"),
	}

	d := callerDesc("r:1")
	d.Flags = d.Flags.
		With(options.Flag.Latency, 120*time.Millisecond).
		With(options.Flag.MSS, 1400).
		With(options.Flag.FlowWindow, 25600)

	err := s.Open(d)
	if !errors.Is(err, errs.ErrIllegalState) {
		t.Fatalf("Open: got %v, want ErrIllegalState", err)
	}
	var cfgErr *options.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Open: no ConfigError in %v", err)
	}
	if len(cfgErr.Names) != 2 {
		t.Errorf("failed names: got %v, want 2 names", cfgErr.Names)
	}
	for _, name := range cfgErr.Names {
		if name != "latency" && name != "mss" {
			t.Errorf("unexpected failed name %q", name)
		}
	}
	if !h.Closed() {
		t.Errorf("handle not closed after failed open")
	}
	if hasCall(h.Calls(), "connect") {
		t.Errorf("connect invoked after failed pre-connect configuration")
	}
}

func TestOpenConnectFailure(t *testing.T) {
	s, e := newTestSocket(t)
	h := e.Handle()
	h.ConnectErr = errors.New("peer rejected")

	err := s.Open(callerDesc("r:1"))
	if !errors.Is(err, errs.ErrIllegalState) {
		t.Fatalf("Open: got %v, want ErrIllegalState", err)
	}
	var ise *errs.IllegalStateError
	if !errors.As(err, &ise) {
		t.Fatalf("Open: no IllegalStateError in %v", err)
	}
	if ise.Code != engine.CodeConnSetup {
		t.Errorf("code: got %d, want %d", ise.Code, engine.CodeConnSetup)
	}
	if !h.Closed() {
		t.Errorf("handle not closed after failed connect")
	}
	if s.Status() != StatusNonExist {
		t.Errorf("status: got %s, want nonexist", s.Status())
	}
}

func TestListenerMode(t *testing.T) {
	s, e := newTestSocket(t)
	d := &descriptor.Descriptor{Mode: descriptor.Listener, Local: "0.0.0.0:9000"}
	d.Flags = d.Flags.With(options.Flag.MaxBW, 1_000_000)

	if err := s.Open(d); err != nil {
		t.Fatalf("Open error: %s", err)
	}
	calls := e.Handle().Calls()
	if !hasCall(calls, "bind") || !hasCall(calls, "listen") {
		t.Fatalf("listener mode calls: %v", calls)
	}
	// post-connect flags are skipped for listeners: no peer yet
	if hasCall(calls, "setflag:maxbw") {
		t.Errorf("post-connect flag applied in listener mode: %v", calls)
	}
	if s.Status() != StatusListening {
		t.Errorf("status: got %s, want listening", s.Status())
	}
	if err := s.Send([]byte("x")); !errors.Is(err, errs.ErrNotConnected) {
		t.Errorf("Send on listening socket: got %v, want ErrNotConnected", err)
	}
}

func TestSendNotConnected(t *testing.T) {
	s, e := newTestSocket(t)
	if err := s.Send(make([]byte, 10)); !errors.Is(err, errs.ErrNotConnected) {
		t.Errorf("Send: got %v, want ErrNotConnected", err)
	}
	if n := len(e.Handle().Sent()); n != 0 {
		t.Errorf("chunks transmitted on unopened socket: %d", n)
	}
}

func TestChunking(t *testing.T) {
	cases := []struct {
		name   string
		size   int
		chunks int
	}{
		{"empty", 0, 0},
		{"small", 1, 1},
		{"exactlyOne", ChunkSize, 1},
		{"onePlus", ChunkSize + 1, 2},
		{"exactlyThree", 3 * ChunkSize, 3},
		{"threePlus", 3*ChunkSize + 5, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := make([]byte, tc.size)
			for i := range payload {
				payload[i] = byte(i)
			}
			cs := chunks(payload)
			if len(cs) != tc.chunks {
				t.Fatalf("chunks: got %d, want %d", len(cs), tc.chunks)
			}
			var cat []byte
			for _, c := range cs {
				if len(c) > ChunkSize {
					t.Errorf("oversized chunk: %d", len(c))
				}
				cat = append(cat, c...)
			}
			if !bytes.Equal(cat, payload) {
				t.Errorf("concatenated chunks do not reproduce the payload")
			}
		})
	}
	// every chunk of an exact multiple is full sized
	for _, c := range chunks(make([]byte, 3*ChunkSize)) {
		if len(c) != ChunkSize {
			t.Errorf("partial chunk in exact multiple: %d", len(c))
		}
	}
}

func TestSendDelivery(t *testing.T) {
	s, e := newTestSocket(t)
	if err := s.Open(callerDesc("r:1")); err != nil {
		t.Fatalf("Open error: %s", err)
	}

	payload := make([]byte, 3*ChunkSize+5)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	if err := s.Send(payload); err != nil {
		t.Fatalf("Send error: %s", err)
	}

	h := e.Handle()
	if !h.WaitSent(4, 2*time.Second) {
		t.Fatalf("delivery incomplete: %d chunks", len(h.Sent()))
	}
	var cat []byte
	for _, c := range h.Sent() {
		cat = append(cat, c...)
	}
	if !bytes.Equal(cat, payload) {
		t.Errorf("delivered chunks do not reproduce the payload")
	}
}

func TestSendQueueFull(t *testing.T) {
	s, e := newTestSocket(t,
		&options.OptionValue{Option: Options.SendQueueLimit, Value: 2})
	if err := s.Open(callerDesc("r:1")); err != nil {
		t.Fatalf("Open error: %s", err)
	}

	// three chunks can never fit a two-chunk queue
	err := s.Send(make([]byte, 3*ChunkSize))
	if !errors.Is(err, errs.ErrQueueFull) {
		t.Fatalf("Send: got %v, want ErrQueueFull", err)
	}
	time.Sleep(10 * time.Millisecond)
	if n := len(e.Handle().Sent()); n != 0 {
		t.Errorf("partial enqueue: %d chunks transmitted", n)
	}

	if err = s.Send(make([]byte, 2*ChunkSize)); err != nil {
		t.Errorf("Send within limit error: %s", err)
	}
}

func TestTransmitFailureStopsRunLoop(t *testing.T) {
	s, e := newTestSocket(t)
	h := e.Handles()[0]
	h.SendErrAt = 2

	if err := s.Open(callerDesc("r:1")); err != nil {
		t.Fatalf("Open error: %s", err)
	}
	if err := s.Send(make([]byte, 3*ChunkSize)); err != nil {
		t.Fatalf("Send error: %s", err)
	}

	// the failed transmit tears the handle down
	waitStatus(t, s, StatusNonExist)
	if !h.Closed() {
		t.Errorf("handle not closed after transmit failure")
	}
	if n := len(h.Sent()); n != 1 {
		t.Errorf("chunks transmitted: got %d, want 1", n)
	}
	if err := s.Send([]byte("x")); !errors.Is(err, errs.ErrNotConnected) {
		t.Errorf("Send after failure: got %v, want ErrNotConnected", err)
	}
}

func TestCloseUnblocksStalledDelivery(t *testing.T) {
	open := func(t *testing.T) (Socket, *enginetest.Handle) {
		t.Helper()
		s, e := newTestSocket(t)
		h := e.Handle()
		h.BlockSend = make(chan struct{})
		if err := s.Open(callerDesc("r:1")); err != nil {
			t.Fatalf("Open error: %s", err)
		}
		if err := s.Send(make([]byte, 10)); err != nil {
			t.Fatalf("Send error: %s", err)
		}
		// wait until the delivery task is parked inside the engine send
		deadline := time.Now().Add(2 * time.Second)
		for !hasCall(h.Calls(), "send") {
			if time.Now().After(deadline) {
				t.Fatalf("delivery task never reached send")
			}
			time.Sleep(time.Millisecond)
		}
		return s, h
	}

	join := func(t *testing.T, name string, f func()) {
		t.Helper()
		done := make(chan struct{})
		go func() {
			f()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not return while delivery was stalled", name)
		}
	}

	t.Run("close", func(t *testing.T) {
		s, h := open(t)
		join(t, "Close", func() { s.Close() })
		if !h.Closed() {
			t.Errorf("handle not closed")
		}
	})
	t.Run("reconnect", func(t *testing.T) {
		s, h := open(t)
		join(t, "Reconnect", func() { s.Reconnect("test://r:2?mode=caller") })
		if !h.Closed() {
			t.Errorf("old handle not closed")
		}
		if s.Status() != StatusConnected {
			t.Errorf("status: got %s, want connected", s.Status())
		}
	})
}

func TestReopenReplacesLocalKnobs(t *testing.T) {
	s, _ := newTestSocket(t,
		&options.OptionValue{Option: Options.WindowSize, Value: 16})
	d := callerDesc("r:1")
	d.Flags = d.Flags.With(Options.SendQueueLimit, 4)
	if err := s.Open(d); err != nil {
		t.Fatalf("Open error: %s", err)
	}
	for i := 0; i < 5; i++ {
		s.Reconnect("test://r:1?mode=caller&sendqueuelimit=4")
	}

	sk := s.(*socket)
	sk.Lock()
	knobs := sk.knobs
	sk.Unlock()
	// constructor knob plus the current descriptor's one local value
	if len(knobs) != 2 {
		t.Errorf("knobs accumulated across reopens: %d values", len(knobs))
	}
	if got := Options.WindowSize.ValueFrom(knobs); got != 16 {
		t.Errorf("constructor knob lost: got %d, want 16", got)
	}
	if got := Options.SendQueueLimit.ValueFrom(knobs); got != 4 {
		t.Errorf("descriptor knob: got %d, want 4", got)
	}
}

func TestStatusUpdatesOnClosedSocket(t *testing.T) {
	s, _ := newTestSocket(t,
		&options.OptionValue{Option: Options.StatusPollInterval, Value: 5 * time.Millisecond})
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	count := 0
	for st := range s.StatusUpdates(ctx) {
		count++
		if st != StatusNonExist {
			t.Errorf("snapshot: got %s, want nonexist", st)
		}
	}
	if count > 1 {
		t.Errorf("closed socket polled %d times", count)
	}
	if ctx.Err() != nil {
		t.Errorf("subscription did not terminate by itself")
	}
}

func TestStatusUpdatesTerminatesOnClose(t *testing.T) {
	s, _ := newTestSocket(t,
		&options.OptionValue{Option: Options.StatusPollInterval, Value: 5 * time.Millisecond})
	if err := s.Open(callerDesc("r:1")); err != nil {
		t.Fatalf("Open error: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	updates := s.StatusUpdates(ctx)

	first := <-updates
	if first != StatusConnected {
		t.Errorf("first snapshot: got %s, want connected", first)
	}
	s.Close()
	for range updates {
	}
	if ctx.Err() != nil {
		t.Errorf("subscription did not terminate after close")
	}
}

func TestReconnectNeverRaises(t *testing.T) {
	t.Run("neverOpened", func(t *testing.T) {
		s, e := newTestSocket(t)
		s.Reconnect("test://r:1?mode=caller")
		if s.Status() != StatusConnected {
			t.Errorf("status: got %s, want connected", s.Status())
		}
		if len(e.Handles()) != 2 {
			t.Errorf("handles allocated: got %d, want 2", len(e.Handles()))
		}
	})
	t.Run("badURI", func(t *testing.T) {
		s, _ := newTestSocket(t)
		s.Reconnect("not a uri at all\x00")
	})
	t.Run("engineRefusesHandle", func(t *testing.T) {
		s, e := newTestSocket(t)
		e.OpenErr = errors.New("no more handles")
		s.Reconnect("test://r:1?mode=caller")
		if s.Status() != StatusNonExist {
			t.Errorf("status: got %s, want nonexist", s.Status())
		}
	})
	t.Run("openFails", func(t *testing.T) {
		s, e := newTestSocket(t)
		if err := s.Open(callerDesc("r:1")); err != nil {
			t.Fatalf("Open error: %s", err)
		}
		s.Reconnect("test://r:2?mode=caller")
		if len(e.Handles()) != 2 {
			t.Errorf("handles allocated: got %d, want 2", len(e.Handles()))
		}
		if !e.Handles()[0].Closed() {
			t.Errorf("old handle still open after reconnect")
		}
		if s.Status() != StatusConnected {
			t.Errorf("status: got %s, want connected", s.Status())
		}
	})
}

func TestStartStop(t *testing.T) {
	s, e := newTestSocket(t)
	if err := s.Open(callerDesc("r:1")); err != nil {
		t.Fatalf("Open error: %s", err)
	}

	s.Stop()
	s.Stop() // idempotent
	if err := s.Send([]byte("x")); !errors.Is(err, errs.ErrNotConnected) {
		t.Errorf("Send while stopped: got %v, want ErrNotConnected", err)
	}

	s.Start()
	s.Start() // idempotent
	if err := s.Send(make([]byte, 10)); err != nil {
		t.Fatalf("Send after restart error: %s", err)
	}
	if !e.Handle().WaitSent(1, 2*time.Second) {
		t.Errorf("chunk not delivered after restart")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s, e := newTestSocket(t)
	if err := s.Open(callerDesc("r:1")); err != nil {
		t.Fatalf("Open error: %s", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %s", err)
	}
	if err := s.Close(); !errors.Is(err, errs.ErrClosed) {
		t.Errorf("second Close: got %v, want ErrClosed", err)
	}
	if !e.Handle().Closed() {
		t.Errorf("handle not closed")
	}
	if err := s.Open(callerDesc("r:1")); !errors.Is(err, errs.ErrClosed) {
		t.Errorf("Open after Close: got %v, want ErrClosed", err)
	}
}

func TestRecv(t *testing.T) {
	s, e := newTestSocket(t)
	if err := s.Open(callerDesc("r:1")); err != nil {
		t.Fatalf("Open error: %s", err)
	}
	e.Handle().Feed([]byte("hello"))

	b := make([]byte, 64)
	n, err := s.Recv(b)
	if err != nil {
		t.Fatalf("Recv error: %s", err)
	}
	if string(b[:n]) != "hello" {
		t.Errorf("Recv: got %q, want %q", b[:n], "hello")
	}
}

func TestOpenURI(t *testing.T) {
	e := enginetest.NewEngine()
	engine.Register(e)

	s, err := Open("test://r:1?mode=caller&latency=120")
	if err != nil {
		t.Fatalf("Open error: %s", err)
	}
	defer s.Close()

	if s.Status() != StatusConnected {
		t.Errorf("status: got %s, want connected", s.Status())
	}
	if v, ok := e.Handle().Flag("latency"); !ok || v != 120*time.Millisecond {
		t.Errorf("latency flag: got %v, %v", v, ok)
	}
}
