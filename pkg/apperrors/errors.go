package apperrors

import (
	"errors"
	"strings"
)

var (
	ErrNoTables         = errors.New("store exposes no tables")
	ErrEmptyCompletion  = errors.New("completion was empty")
	ErrUnvalidatedQuery = errors.New("query has not passed validation")
	ErrQueryTimeout     = errors.New("query exceeded timeout")
	ErrUnknownQueryKind = errors.New("unknown query kind")
	ErrCircuitOpen      = errors.New("completion service circuit is open")
)

// Kind identifies which pipeline stage produced an error.
type Kind string

const (
	KindSchema     Kind = "SchemaError"
	KindGeneration Kind = "GenerationError"
	KindValidation Kind = "ValidationError"
	KindExecution  Kind = "ExecutionError"
)

// Sentinels for errors.Is matching against a Kind.
var (
	ErrSchema     = &Error{Kind: KindSchema}
	ErrGeneration = &Error{Kind: KindGeneration}
	ErrValidation = &Error{Kind: KindValidation}
	ErrExecution  = &Error{Kind: KindExecution}
)

// Error is the structured error returned to callers of the pipeline.
// Reasons are human-readable sentences written by this module; the underlying
// cause is kept for logging and errors.Is/As but never serialised.
type Error struct {
	Kind    Kind     `json:"kind"`
	Reasons []string `json:"reasons"`
	cause   error
}

// New builds an Error of the given kind.
func New(kind Kind, cause error, reasons ...string) *Error {
	return &Error{Kind: kind, Reasons: reasons, cause: cause}
}

func Schema(cause error, reasons ...string) *Error {
	return New(KindSchema, cause, reasons...)
}

func Generation(cause error, reasons ...string) *Error {
	return New(KindGeneration, cause, reasons...)
}

func Validation(reasons ...string) *Error {
	return New(KindValidation, nil, reasons...)
}

func Execution(cause error, reasons ...string) *Error {
	return New(KindExecution, cause, reasons...)
}

func (e *Error) Error() string {
	if len(e.Reasons) == 0 {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + strings.Join(e.Reasons, "; ")
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// As extracts an *Error from err, if there is one in its chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
