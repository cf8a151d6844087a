// Package apperr defines the error taxonomy shared by the credit store, the
// purchase ledger and the reconciliation coordinator, and its mapping onto
// HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindForbidden
	KindInsufficientBalance
	KindInvalidCredential
	KindGatewayUnavailable
	KindGatewayRejected
	KindStorageTransient
)

var kindNames = map[Kind]string{
	KindInternal:            "internal",
	KindInvalid:             "invalid",
	KindNotFound:            "not_found",
	KindConflict:            "conflict",
	KindForbidden:           "forbidden",
	KindInsufficientBalance: "insufficient_balance",
	KindInvalidCredential:   "invalid_credential",
	KindGatewayUnavailable:  "gateway_unavailable",
	KindGatewayRejected:     "gateway_rejected",
	KindStorageTransient:    "storage_transient",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// HTTPStatus maps a kind onto the status code returned to API clients.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindInvalidCredential:
		return http.StatusUnauthorized
	case KindGatewayUnavailable, KindStorageTransient:
		return http.StatusServiceUnavailable
	case KindGatewayRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the failed operation as-is.
func (k Kind) Retryable() bool {
	return k == KindGatewayUnavailable || k == KindStorageTransient
}

// Error carries a Kind, the operation that failed, a message safe to show to
// API clients and the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a sentinel-style error with no cause. Compare with errors.Is.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap annotates err with a kind and operation. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf is Wrap with a client-safe message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal && e.Err != nil {
			if inner := KindOf(e.Err); inner != KindInternal {
				return inner
			}
		}
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the first client-safe message in err's chain, falling
// back to the kind name so internal causes never leak.
func PublicMessage(err error) string {
	kind := KindOf(err)
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		if e.Message != "" {
			return e.Message
		}
		err = e.Err
	}
	return kind.String()
}
