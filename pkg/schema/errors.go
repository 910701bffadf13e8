package schema

import "errors"

var (
	// ErrNotFound is returned when a record_id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrLocked is returned for any write to a read-only record.
	ErrLocked = errors.New("record is read-only")
	// ErrValidation marks malformed input: a bad patch, a bad row, a bad query.
	ErrValidation = errors.New("validation failed")
)

// Code is the transport-neutral name of an error kind.
type Code string

const (
	CodeValidation Code = "VALIDATION"
	CodeLocked     Code = "LOCKED"
	CodeNotFound   Code = "NOT_FOUND"
	CodeInternal   Code = "INTERNAL"
)

// ErrorCode classifies err. Unknown errors are INTERNAL.
func ErrorCode(err error) Code {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrLocked):
		return CodeLocked
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// CodeError returns the sentinel for a code, used when decoding remote replies.
func CodeError(code Code) error {
	switch code {
	case CodeNotFound:
		return ErrNotFound
	case CodeLocked:
		return ErrLocked
	case CodeValidation:
		return ErrValidation
	default:
		return nil
	}
}
