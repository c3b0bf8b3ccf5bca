package service

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrReadOnly            = errors.New("read only")
	ErrNotFound            = errors.New("not found")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// State conflicts. Reported as bad requests.
var (
	ErrAlreadyRefunded   = errors.New("usage already refunded")
	ErrSameUser          = errors.New("cannot consolidate a user into itself")
	ErrWouldGoNegative   = errors.New("adjustment would make balance negative")
	ErrInvalidTransition = errors.New("invalid usage status transition")
)

var domainErrors = []error{
	ErrInvalidInput,
	ErrUnauthorized,
	ErrForbidden,
	ErrInsufficientCredits,
	ErrReadOnly,
	ErrNotFound,
	ErrStoreUnavailable,
	ErrAlreadyRefunded,
	ErrSameUser,
	ErrWouldGoNegative,
	ErrInvalidTransition,
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storeError passes domain errors and context cancellation through untouched
// and wraps everything else as ErrStoreUnavailable.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
