// Package options defines the typed, phase-tagged option values a socket
// forwards to its transport engine. Every option carries a Restriction
// telling in which phase of the connection lifecycle it may be applied.
package options

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// Restriction is the phase in which an option may legally be applied.
type Restriction int

// restrictions
const (
	// Pre options must be applied before the connection is established.
	Pre Restriction = iota
	// Post options may only be applied on an established connection.
	Post
	// Local options configure the socket itself and are never forwarded
	// to the engine.
	Local
)

func (r Restriction) String() string {
	switch r {
	case Pre:
		return "pre"
	case Post:
		return "post"
	case Local:
		return "local"
	}
	return "unknown"
}

type (
	// Option is a named option item.
	Option interface {
		Name() string
		Restriction() Restriction
		Validate(val interface{}) error
		Parse(s string) (interface{}, error)
	}

	// OptionValue is an option value pair.
	OptionValue struct {
		Option Option
		Value  interface{}
	}

	// OptionValues is an ordered list of option value pairs.
	OptionValues []*OptionValue

	baseOption struct {
		name        string
		restriction Restriction
	}

	// BoolOption is an option with bool value.
	BoolOption interface {
		Option
		Value(val interface{}) bool
		ValueFrom(ovs OptionValues) bool
	}

	boolOption struct {
		baseOption
		def bool
	}

	// IntOption is an option with int value.
	IntOption interface {
		Option
		Value(val interface{}) int
		ValueFrom(ovs OptionValues) int
	}

	intOption struct {
		baseOption
		def int
	}

	// StringOption is an option with string value.
	StringOption interface {
		Option
		Value(val interface{}) string
		ValueFrom(ovs OptionValues) string
	}

	stringOption struct {
		baseOption
		def string
	}

	// TimeDurationOption is an option with time duration value.
	TimeDurationOption interface {
		Option
		Value(val interface{}) time.Duration
		ValueFrom(ovs OptionValues) time.Duration
	}

	timeDurationOption struct {
		baseOption
		def time.Duration
	}
)

// errors
var (
	ErrInvalidOptionValue = errors.New("invalid option value")
	ErrUnknownOption      = errors.New("invalid or unsupported option")
)

var (
	lock     sync.RWMutex
	registry = map[string]Option{}
)

func register(opt Option) {
	lock.Lock()
	registry[opt.Name()] = opt
	lock.Unlock()
}

// Lookup finds a registered option by name.
func Lookup(name string) Option {
	lock.RLock()
	opt := registry[name]
	lock.RUnlock()
	return opt
}

// Get finds opt's value in the list. The last occurrence wins, so values
// appended later override earlier ones.
func (ovs OptionValues) Get(opt Option) (val interface{}, ok bool) {
	for i := len(ovs) - 1; i >= 0; i-- {
		if ovs[i].Option == opt {
			return ovs[i].Value, true
		}
	}
	return nil, false
}

// With appends an option value pair.
func (ovs OptionValues) With(opt Option, val interface{}) OptionValues {
	return append(ovs, &OptionValue{Option: opt, Value: val})
}

func (o *baseOption) Name() string {
	return o.name
}

func (o *baseOption) Restriction() Restriction {
	return o.restriction
}

// NewBoolOption create a bool option
func NewBoolOption(name string, r Restriction, def bool) BoolOption {
	o := &boolOption{baseOption{name, r}, def}
	register(o)
	return o
}

func (o *boolOption) Validate(val interface{}) error {
	if _, ok := val.(bool); !ok {
		return ErrInvalidOptionValue
	}
	return nil
}

func (o *boolOption) Parse(s string) (interface{}, error) {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, ErrInvalidOptionValue
	}
	return v, nil
}

// Value get option's value, must ensure option value is not empty
func (o *boolOption) Value(val interface{}) bool {
	return val.(bool)
}

// ValueFrom get option's value in the list, falling back to the default.
func (o *boolOption) ValueFrom(ovs OptionValues) bool {
	if val, ok := ovs.Get(o); ok {
		return val.(bool)
	}
	return o.def
}

// NewIntOption create an int option
func NewIntOption(name string, r Restriction, def int) IntOption {
	o := &intOption{baseOption{name, r}, def}
	register(o)
	return o
}

func (o *intOption) Validate(val interface{}) error {
	if _, ok := val.(int); !ok {
		return ErrInvalidOptionValue
	}
	return nil
}

func (o *intOption) Parse(s string) (interface{}, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, ErrInvalidOptionValue
	}
	return v, nil
}

// Value get option's value, must ensure option value is not empty
func (o *intOption) Value(val interface{}) int {
	return val.(int)
}

// ValueFrom get option's value in the list, falling back to the default.
func (o *intOption) ValueFrom(ovs OptionValues) int {
	if val, ok := ovs.Get(o); ok {
		return val.(int)
	}
	return o.def
}

// NewStringOption create a string option
func NewStringOption(name string, r Restriction, def string) StringOption {
	o := &stringOption{baseOption{name, r}, def}
	register(o)
	return o
}

func (o *stringOption) Validate(val interface{}) error {
	if _, ok := val.(string); !ok {
		return ErrInvalidOptionValue
	}
	return nil
}

func (o *stringOption) Parse(s string) (interface{}, error) {
	return s, nil
}

// Value get option's value, must ensure option value is not empty
func (o *stringOption) Value(val interface{}) string {
	return val.(string)
}

// ValueFrom get option's value in the list, falling back to the default.
func (o *stringOption) ValueFrom(ovs OptionValues) string {
	if val, ok := ovs.Get(o); ok {
		return val.(string)
	}
	return o.def
}

// NewTimeDurationOption create a time duration option
func NewTimeDurationOption(name string, r Restriction, def time.Duration) TimeDurationOption {
	o := &timeDurationOption{baseOption{name, r}, def}
	register(o)
	return o
}

func (o *timeDurationOption) Validate(val interface{}) error {
	if _, ok := val.(time.Duration); !ok {
		return ErrInvalidOptionValue
	}
	return nil
}

// Parse accepts a time.ParseDuration string, or a bare integer which is
// taken as milliseconds.
func (o *timeDurationOption) Parse(s string) (interface{}, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return nil, ErrInvalidOptionValue
}

// Value get option's value, must ensure option value is not empty
func (o *timeDurationOption) Value(val interface{}) time.Duration {
	return val.(time.Duration)
}

// ValueFrom get option's value in the list, falling back to the default.
func (o *timeDurationOption) ValueFrom(ovs OptionValues) time.Duration {
	if val, ok := ovs.Get(o); ok {
		return val.(time.Duration)
	}
	return o.def
}
