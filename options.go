package monosocket

import (
	"time"

	"github.com/monosocket/monosocket/options"
)

type socketOptions struct {
	// SendQueueLimit bounds the send queue, in chunks. Send fails with
	// errs.ErrQueueFull when a payload's chunks do not all fit.
	SendQueueLimit options.IntOption
	// StatusPollInterval is the interval between status snapshots
	// emitted by StatusUpdates.
	StatusPollInterval options.TimeDurationOption
	// WindowSize is the receive window, in chunks, the receive buffer
	// is grown to cover after connecting.
	WindowSize options.IntOption
}

// Options are the socket's own knobs. They are Local options: the
// engine never sees them.
var Options = socketOptions{
	SendQueueLimit:     options.NewIntOption("sendqueuelimit", options.Local, 8192),
	StatusPollInterval: options.NewTimeDurationOption("pollinterval", options.Local, 2*time.Second),
	WindowSize:         options.NewIntOption("windowsize", options.Local, 8192),
}
