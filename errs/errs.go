package errs

import "fmt"

// Err is a constant error string.
type Err string

func (e Err) Error() string {
	return string(e)
}

// errors
const (
	ErrClosed                = Err("socket is closed")
	ErrNotConnected          = Err("socket is not connected")
	ErrIllegalState          = Err("illegal socket state")
	ErrQueueFull             = Err("send queue is full")
	ErrBadMode               = Err("invalid or unsupported connection mode")
	ErrBadEngine             = Err("invalid or unsupported engine")
	ErrBadAddr               = Err("invalid address")
	ErrMsgTooLong            = Err("message is too long")
	ErrOperationNotSupported = Err("operation not supported")
)

// IllegalStateError reports an engine-level failure. It carries the
// engine's last error code and message so callers can tell rejection
// reasons apart without reaching into the engine themselves.
type IllegalStateError struct {
	Op    string
	Code  int
	Msg   string
	Cause error
}

func (e *IllegalStateError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Op, ErrIllegalState)
	if e.Code != 0 || e.Msg != "" {
		s = fmt.Sprintf("%s: [%d] %s", s, e.Code, e.Msg)
	}
	if e.Cause != nil {
		s = s + ": " + e.Cause.Error()
	}
	return s
}

// Is makes errors.Is(err, ErrIllegalState) match.
func (e *IllegalStateError) Is(target error) bool {
	return target == ErrIllegalState
}

func (e *IllegalStateError) Unwrap() error {
	return e.Cause
}
