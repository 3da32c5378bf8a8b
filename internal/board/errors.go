package board

import "errors"

// Kind classifies a failure so callers can decide how to degrade.
type Kind string

const (
	// KindNetwork covers unreachable services, timeouts and non-2xx responses.
	KindNetwork Kind = "NetworkFailure"
	// KindParse covers responses that do not have an expected shape.
	KindParse Kind = "ParseFailure"
	// KindStore covers read/write failures of the accident config store.
	KindStore Kind = "StoreFailure"
	// KindConfigCorrupt covers malformed locally persisted JSON.
	KindConfigCorrupt Kind = "ConfigCorrupt"
	// KindValidation covers input rejected before any side effect.
	KindValidation Kind = "ValidationFailure"
)

// Error is a classified failure. Msg is safe to show to an operator;
// Err carries the underlying cause for logs.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Sentinels for errors.Is checks by kind.
var (
	ErrNetwork       = &Error{Kind: KindNetwork}
	ErrParse         = &Error{Kind: KindParse}
	ErrStore         = &Error{Kind: KindStore}
	ErrConfigCorrupt = &Error{Kind: KindConfigCorrupt}
	ErrValidation    = &Error{Kind: KindValidation}
)

// ErrInvalidRecord is returned when a record value is negative.
var ErrInvalidRecord = &Error{
	Kind: KindValidation,
	Op:   "set record",
	Msg:  "Der Rekord muss eine nicht-negative ganze Zahl sein",
}

// NewError builds a classified error.
func NewError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare kind sentinel (no Op, no Msg) against any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Msg == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// Message returns the operator-facing text of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

// KindOf returns the classification of err, or "" if it is not a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func storeError(op, msg string, err error) *Error {
	return NewError(KindStore, op, msg, err)
}
