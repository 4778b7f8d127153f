// Package fault classifies runtime errors into the kinds the frame loop
// knows how to react to. Whether an error stops the loop is decided by the
// component that raises it, not by the loop.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the error category.
type Kind int

const (
	KindEnvironment Kind = iota + 1 // no drawing surface / unsupported GPU API
	KindProtocol                    // frame layout cannot be verified or is out of range
	KindResource                    // GPU object creation or program compilation failed
	KindSimulation                  // the simulation reported a fault during its update
	KindTransport                   // module/asset fetch or instantiation failed
)

func (k Kind) String() string {
	switch k {
	case KindEnvironment:
		return "EnvironmentError"
	case KindProtocol:
		return "ProtocolError"
	case KindResource:
		return "ResourceError"
	case KindSimulation:
		return "SimulationError"
	case KindTransport:
		return "TransportError"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Error is a classified runtime error.
type Error struct {
	Kind  Kind
	Op    string
	Fatal bool
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Environment errors are always fatal; they only happen at startup.
func Environment(op string, err error) *Error {
	return &Error{Kind: KindEnvironment, Op: op, Fatal: true, Err: err}
}

// Protocol errors are always fatal and never retried.
func Protocol(op string, err error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Fatal: true, Err: err}
}

// Protocolf builds a Protocol error from a format string.
func Protocolf(op, format string, args ...any) *Error {
	return Protocol(op, fmt.Errorf(format, args...))
}

// Resource builds a Resource error. setup marks failures during the
// one-time default resource setup, which are fatal.
func Resource(op string, setup bool, err error) *Error {
	return &Error{Kind: KindResource, Op: op, Fatal: setup, Err: err}
}

// Simulation errors are counted by the frame loop; the loop escalates.
func Simulation(op string, err error) *Error {
	return &Error{Kind: KindSimulation, Op: op, Err: err}
}

// Transport builds a Transport error. Module reload failures are fatal,
// single asset reload failures are not.
func Transport(op string, fatal bool, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Fatal: fatal, Err: err}
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Is reports whether err carries a classified error of kind k.
func Is(err error, k Kind) bool {
	fe, ok := As(err)
	return ok && fe.Kind == k
}

// IsFatal reports whether err must stop the frame loop. Unclassified
// errors are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	fe, ok := As(err)
	if !ok {
		return true
	}
	return fe.Fatal
}
