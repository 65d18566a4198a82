// Package ws implements the websocket engine. To enable it simply
// import it. One websocket message carries one engine message, so the
// stream framing rides inside binary websocket messages.
package ws

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/monosocket/monosocket/engine"
	"github.com/monosocket/monosocket/errs"
)

const (
	// Engine is an engine.Engine for websocket.
	Engine = wsEngine("ws")

	defaultConnTimeout = 3 * time.Second

	subprotocol = "monosocket.binary"
)

type (
	wsEngine string

	// wsConn adapts a websocket connection to net.Conn.
	wsConn struct {
		*websocket.Conn
		r io.Reader
	}

	// wsListener upgrades incoming requests and hands the first one to
	// the stream handle's accept.
	wsListener struct {
		upgrader websocket.Upgrader
		htsvr    *http.Server
		listener net.Listener
		pending  chan *wsConn

		sync.Mutex
		closedq chan struct{}
	}
)

func init() {
	engine.Register(Engine)
}

func (e wsEngine) Scheme() string {
	return string(e)
}

func (e wsEngine) Open() (engine.Handle, error) {
	return engine.NewStream(engine.StreamConfig{
		Scheme: string(e),
		Dial:   dial,
		Bind:   bind,
		// a websocket handshake has fixed client/server roles
		Rendezvous: false,
	}), nil
}

// wsConn

func (c *wsConn) Read(b []byte) (n int, err error) {
	if c.r == nil {
		if _, c.r, err = c.Conn.NextReader(); err != nil {
			return
		}
	}
	n, err = c.r.Read(b)
	if err == io.EOF {
		c.r = nil
		if n == 0 {
			return c.Read(b)
		}
		err = nil
	}
	return
}

func (c *wsConn) Write(b []byte) (n int, err error) {
	err = c.Conn.WriteMessage(websocket.BinaryMessage, b)
	n = len(b)
	return
}

func (c *wsConn) SetDeadline(t time.Time) (err error) {
	if err = c.Conn.SetReadDeadline(t); err != nil {
		return
	}
	return c.Conn.SetWriteDeadline(t)
}

// dial

func dial(remote string, f engine.Flags) (net.Conn, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: f.Duration("conntimeo", defaultConnTimeout),
		ReadBufferSize:   f.Int("rcvbuf", 0),
		WriteBufferSize:  f.Int("sndbuf", 0),
		Subprotocols:     []string{subprotocol},
	}

	var header http.Header
	if id := f.String("streamid", ""); id != "" {
		header = http.Header{"X-Stream-Id": []string{id}}
	}

	ws, _, err := wd.Dial("ws://"+remote+"/", header)
	if err != nil {
		return nil, err
	}
	return &wsConn{Conn: ws}, nil
}

// bind

func bind(local string, f engine.Flags) (net.Listener, error) {
	l := &wsListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  f.Int("rcvbuf", 0),
			WriteBufferSize: f.Int("sndbuf", 0),
			Subprotocols:    []string{subprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pending: make(chan *wsConn, 1),
		closedq: make(chan struct{}),
	}

	lst, err := net.Listen("tcp", local)
	if err != nil {
		return nil, err
	}
	l.listener = lst
	l.htsvr = &http.Server{Handler: l}
	go l.htsvr.Serve(lst)
	return l, nil
}

func (l *wsListener) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	ws, err := l.upgrader.Upgrade(resp, req, nil)
	if err != nil {
		return
	}

	select {
	case l.pending <- &wsConn{Conn: ws}:
	default:
		ws.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.pending:
		return c, nil
	case <-l.closedq:
		return nil, errs.ErrClosed
	}
}

func (l *wsListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *wsListener) Close() error {
	l.Lock()
	select {
	case <-l.closedq:
		l.Unlock()
		return errs.ErrClosed
	default:
		close(l.closedq)
	}
	l.Unlock()

	l.htsvr.Close()
	l.listener.Close()

CLOSING:
	for {
		select {
		case c := <-l.pending:
			c.Close()
		default:
			break CLOSING
		}
	}
	return nil
}
