package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable classification carried by every ledger error.
type ErrorKind string

const (
	KindNotFound               ErrorKind = "not_found"
	KindInvalidAmount          ErrorKind = "invalid_amount"
	KindInvalidTransfer        ErrorKind = "invalid_transfer"
	KindInsufficientFunds      ErrorKind = "insufficient_funds"
	KindStoreFailure           ErrorKind = "store_failure"
	KindAmbiguousAccountNumber ErrorKind = "ambiguous_account_number"
)

// Error is a ledger failure with a kind and a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the caller may safely repeat the operation.
func (e *Error) Retryable() bool {
	return e.Kind == KindStoreFailure
}

var (
	ErrAccountNotFound        = &Error{Kind: KindNotFound, Message: "account not found"}
	ErrInvalidAmount          = &Error{Kind: KindInvalidAmount, Message: "amount must be a positive number"}
	ErrSelfTransfer           = &Error{Kind: KindInvalidTransfer, Message: "source and destination accounts must differ"}
	ErrMissingAccountNumber   = &Error{Kind: KindInvalidTransfer, Message: "account number is required"}
	ErrInsufficientFunds      = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrStoreFailure           = &Error{Kind: KindStoreFailure, Message: "ledger store unavailable"}
	ErrAmbiguousAccountNumber = &Error{Kind: KindAmbiguousAccountNumber, Message: "could not assign a unique account number"}
)

// NewError builds an error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StoreFailure wraps a persistence error. The operation it interrupted left no partial writes.
func StoreFailure(err error) *Error {
	return &Error{Kind: KindStoreFailure, Message: ErrStoreFailure.Message, Err: err}
}

// KindOf classifies err. Errors that are not ledger errors count as store failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreFailure
}

// AsError returns err as a ledger error, wrapping unknown errors as store failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return StoreFailure(err)
}
