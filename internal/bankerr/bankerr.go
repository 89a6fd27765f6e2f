// Package bankerr defines the error kinds a bank node reports to its clients.
package bankerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Every failure that reaches the protocol boundary
// is rendered from its Kind, never from the underlying error text.
type Kind uint8

const (
	// Internal is the catch-all for unexpected backend failures.
	Internal Kind = iota
	MalformedCommand
	UnknownCommand
	InvalidAccountFormat
	InvalidAmountFormat
	AccountNotFound
	InsufficientFunds
	NonZeroBalance
	CapacityExhausted
	ProxyUnavailable
)

// String names the kind.
func (k Kind) String() string {
	switch k {
	case MalformedCommand:
		return "MalformedCommand"
	case UnknownCommand:
		return "UnknownCommand"
	case InvalidAccountFormat:
		return "InvalidAccountFormat"
	case InvalidAmountFormat:
		return "InvalidAmountFormat"
	case AccountNotFound:
		return "AccountNotFound"
	case InsufficientFunds:
		return "InsufficientFunds"
	case NonZeroBalance:
		return "NonZeroBalance"
	case CapacityExhausted:
		return "CapacityExhausted"
	case ProxyUnavailable:
		return "ProxyUnavailable"
	default:
		return "InternalError"
	}
}

// Message is the human-readable text sent to clients for the kind.
func (k Kind) Message() string {
	switch k {
	case MalformedCommand:
		return "Invalid command format."
	case UnknownCommand:
		return "Unknown command."
	case InvalidAccountFormat:
		return "Account number format is invalid."
	case InvalidAmountFormat:
		return "Amount format is invalid."
	case AccountNotFound:
		return "Account does not exist."
	case InsufficientFunds:
		return "Insufficient funds."
	case NonZeroBalance:
		return "Cannot remove an account that still holds funds."
	case CapacityExhausted:
		return "Cannot create a new account, the bank is full."
	case ProxyUnavailable:
		return "Remote bank is unreachable."
	default:
		return "Internal error, try again later."
	}
}

// Error is a classified failure with optional detail.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// New creates an Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap classifies err as kind, keeping it in the chain.
func Wrap(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain. Untyped
// errors are Internal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
