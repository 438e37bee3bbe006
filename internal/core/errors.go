package core

import (
	"errors"
	"fmt"
)

// Error kinds reported in action results.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindUnknownAction       Kind = "unknown_action"
	KindUnknownProduct      Kind = "unknown_product"
	KindUnknownCustomer     Kind = "unknown_customer"
	KindInsufficientStock   Kind = "insufficient_stock"
	KindDuplicateMessage    Kind = "duplicate_message_id"
	KindResolverTimeout     Kind = "resolver_timeout"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindInternal            Kind = "internal_error"
)

var (
	// ErrValidation is returned when action arguments fail schema or domain checks.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownAction is returned for action names missing from the registry.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownProduct is returned when a product reference matches nothing.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrUnknownCustomer is returned when a customer reference matches nothing.
	ErrUnknownCustomer = errors.New("unknown customer")

	// ErrInsufficientStock is returned when a change would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicateMessage is returned when a message id was already applied.
	ErrDuplicateMessage = errors.New("message already applied")

	// ErrResolverTimeout is returned when the intent resolver did not answer in time.
	ErrResolverTimeout = errors.New("intent resolver timed out")

	// ErrConcurrencyConflict is returned when entity locks could not be acquired in time.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ActionError wraps a taxonomy sentinel with the failing operation and a
// message that is safe to show to the sender.
type ActionError struct {
	Op     string
	Err    error
	Detail string
}

func (e *ActionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the wrapped sentinel.
func (e *ActionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newActionError(op string, sentinel error, format string, args ...any) *ActionError {
	return &ActionError{Op: op, Err: sentinel, Detail: fmt.Sprintf(format, args...)}
}

// NewValidationError reports a bad argument.
func NewValidationError(op, format string, args ...any) *ActionError {
	return newActionError(op, ErrValidation, format, args...)
}

// DuplicateError carries the receipt of the earlier application of a message id.
type DuplicateError struct {
	Receipt Receipt
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("message %s already applied as %s", e.Receipt.MessageID, e.Receipt.Action)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateMessage
}

// KindOf classifies err into the taxonomy. Anything unrecognised is internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUnknownAction):
		return KindUnknownAction
	case errors.Is(err, ErrUnknownProduct):
		return KindUnknownProduct
	case errors.Is(err, ErrUnknownCustomer):
		return KindUnknownCustomer
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrDuplicateMessage):
		return KindDuplicateMessage
	case errors.Is(err, ErrResolverTimeout):
		return KindResolverTimeout
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	default:
		return KindInternal
	}
}

// IsDomain reports whether err is a business or validation failure that should
// be explained to the sender rather than retried.
func IsDomain(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindUnknownAction, KindUnknownProduct, KindUnknownCustomer,
		KindInsufficientStock, KindDuplicateMessage:
		return true
	}
	return false
}

// UserMessage returns the part of err fit for a reply.
func UserMessage(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) && ae.Detail != "" {
		return ae.Detail
	}
	if IsDomain(err) {
		return err.Error()
	}
	return "something went wrong, please try again"
}
