package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed payloads or requests.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPersistence wraps backend failures (store unavailable, driver errors).
	ErrPersistence = errors.New("persistence failure")

	// ErrDuplicate is returned by a direct Insert whose message id already exists.
	// InsertIfAbsent never returns it.
	ErrDuplicate = errors.New("duplicate message id")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// persistErr tags a backend error so callers can match ErrPersistence while keeping the cause.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
