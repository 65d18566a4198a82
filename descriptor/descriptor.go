// Package descriptor parses connection URIs into the pieces a socket
// needs to open: engine scheme, connection mode, endpoints and engine
// flag values.
//
// The URI authority is the remote endpoint for caller and rendezvous
// modes, and the local endpoint for listener mode. Rendezvous mode takes
// its local endpoint from the "bind" query parameter:
//
//	tcp://192.0.2.10:9000?mode=caller&latency=120
//	tcp://0.0.0.0:9000?mode=listener
//	tcp://192.0.2.10:9000?mode=rendezvous&bind=0.0.0.0:9000
//
// Every other query parameter must name a registered option; its value is
// parsed with the option's type.
package descriptor

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/monosocket/monosocket/errs"
	"github.com/monosocket/monosocket/options"
)

// Mode is the connection establishment role.
type Mode int

// connection modes
const (
	// Caller actively initiates the connection, analogous to a client.
	Caller Mode = iota
	// Listener passively accepts one connection, analogous to a server.
	Listener
	// Rendezvous establishes the connection symmetrically, both peers
	// initiating simultaneously.
	Rendezvous
)

func (m Mode) String() string {
	switch m {
	case Caller:
		return "caller"
	case Listener:
		return "listener"
	case Rendezvous:
		return "rendezvous"
	}
	return "unknown"
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "caller":
		return Caller, nil
	case "listener":
		return Listener, nil
	case "rendezvous":
		return Rendezvous, nil
	}
	return Caller, errs.ErrBadMode
}

// Descriptor is a parsed connection URI.
type Descriptor struct {
	Scheme string
	Mode   Mode
	Remote string
	Local  string
	Flags  options.OptionValues
}

// Parse parses uri into a Descriptor. Endpoint presence is not validated
// here; the socket enforces which endpoints each mode requires when
// opening.
func Parse(uri string) (*Descriptor, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrBadAddr, uri)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme: %s", errs.ErrBadAddr, uri)
	}

	q := u.Query()
	mode, err := ParseMode(q.Get("mode"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, q.Get("mode"))
	}

	d := &Descriptor{
		Scheme: u.Scheme,
		Mode:   mode,
	}
	switch mode {
	case Listener:
		d.Local = u.Host
	default:
		d.Remote = u.Host
		d.Local = q.Get("bind")
	}

	// deterministic flag order
	names := make([]string, 0, len(q))
	for name := range q {
		if name == "mode" || name == "bind" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		opt := options.Lookup(name)
		if opt == nil {
			return nil, fmt.Errorf("%w: %q", options.ErrUnknownOption, name)
		}
		val, err := opt.Parse(q.Get(name))
		if err != nil {
			return nil, fmt.Errorf("%w: %q=%q", options.ErrInvalidOptionValue, name, q.Get(name))
		}
		d.Flags = d.Flags.With(opt, val)
	}

	return d, nil
}
