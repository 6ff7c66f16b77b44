// README: Error taxonomy shared by all modules; the HTTP layer maps Kind to status codes.
package errs

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindGateway
	KindSagaStep
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindGateway:
		return "gateway"
	case KindSagaStep:
		return "saga_step"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the failing operation (listener name for saga steps).
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.message(), e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.message())
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.message(), e.Err)
	default:
		return e.message()
	}
}

func (e *Error) message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Msg: msg}
}

// Gateway wraps a failure of an external collaborator (payment, routing, mail).
func Gateway(op string, err error) *Error {
	return &Error{Kind: KindGateway, Op: op, Msg: "gateway error", Err: err}
}

// SagaStep marks a fatal listener failure that happened after the triggering state was committed.
func SagaStep(event, listener string, err error) *Error {
	return &Error{Kind: KindSagaStep, Op: event + "/" + listener, Msg: "saga step failed", Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
