package engine

import (
	"errors"
	"fmt"

	"github.com/jwiedeman/N64Soul/arena"
	"github.com/jwiedeman/N64Soul/rom"
)

type Kind int

const (
	MemoryError Kind = iota + 1
	RomReadError
	ComputationError
	MissingLayer
)

func (k Kind) String() string {
	switch k {
	case MemoryError:
		return "memory error"
	case RomReadError:
		return "rom read error"
	case ComputationError:
		return "computation error"
	case MissingLayer:
		return "missing layer"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the outcome of a failed inference call. Role names the tensor
// involved, when there is one.
type Error struct {
	Kind Kind
	Role string
	Op   string
	Err  error
}

var (
	ErrMemory       = &Error{Kind: MemoryError}
	ErrRomRead      = &Error{Kind: RomReadError}
	ErrComputation  = &Error{Kind: ComputationError}
	ErrMissingLayer = &Error{Kind: MissingLayer}
)

func (e *Error) Error() string {
	msg := "engine: " + e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Role != "" {
		msg += " " + e.Role
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Role when target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Role == "" || t.Role == e.Role)
}

func computation(op string, format string, args ...any) error {
	return &Error{Kind: ComputationError, Op: op, Err: fmt.Errorf(format, args...)}
}

func missing(role string) error {
	return &Error{Kind: MissingLayer, Role: role}
}

// classify tags err with the failure kind it belongs to. Errors that are
// already tagged pass through.
func classify(op, role string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	kind := ComputationError
	switch {
	case errors.Is(err, arena.ErrOutOfMemory), errors.Is(err, arena.ErrCheckpointDepth):
		kind = MemoryError
	case errors.Is(err, rom.ErrOutOfRange), errors.Is(err, rom.ErrTransfer), errors.Is(err, rom.ErrMisaligned):
		kind = RomReadError
	}

	return &Error{Kind: kind, Role: role, Op: op, Err: err}
}
