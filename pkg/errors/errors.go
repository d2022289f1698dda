package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the exchange engine wraps exactly one of them.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransient         = errors.New("transient failure, retry")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
)

var (
	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
	ErrItemNotFound     = fmt.Errorf("item %w", ErrNotFound)
	ErrExchangeNotFound = fmt.Errorf("exchange %w", ErrNotFound)

	ErrItemNotAvailable     = fmt.Errorf("%w: item is not available", ErrInvalidState)
	ErrItemNotApproved      = fmt.Errorf("%w: item is not approved", ErrInvalidState)
	ErrSameItem             = fmt.Errorf("%w: cannot offer the item being requested", ErrInvalidState)
	ErrItemInActiveExchange = fmt.Errorf("%w: item is referenced by an active exchange", ErrInvalidState)
	ErrIllegalTransition    = fmt.Errorf("%w: transition not allowed", ErrInvalidState)

	ErrOwnItem        = fmt.Errorf("%w: cannot request your own item", ErrForbidden)
	ErrNotItemOwner   = fmt.Errorf("%w: you can only offer your own items", ErrForbidden)
	ErrNotAuthorized  = fmt.Errorf("%w: not authorized", ErrForbidden)
	ErrItemReserved   = fmt.Errorf("%w: item already reserved", ErrConflict)
	ErrRequestReplay  = fmt.Errorf("%w: request already processed", ErrConflict)
	ErrNilItem        = fmt.Errorf("%w: item is nil", ErrInvalidInput)
	ErrNilExchange    = fmt.Errorf("%w: exchange is nil", ErrInvalidInput)
	ErrNegativeAmount = fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	ErrInvalidStatus  = fmt.Errorf("%w: unknown status", ErrInvalidInput)
)

var kinds = []error{
	ErrNotFound,
	ErrInvalidState,
	ErrForbidden,
	ErrConflict,
	ErrInsufficientFunds,
	ErrTransient,
	ErrInvalidInput,
	ErrInternal,
}

// Kind returns the error kind err wraps, or ErrInternal when it wraps none.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// IsTransient reports whether the operation that produced err may be retried as a whole.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
