package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure for retry and state-machine
// decisions.
type ErrorKind int

const (
	// KindAuth means the credentials are bad. Fatal; retrying cannot help.
	KindAuth ErrorKind = iota
	// KindValidation means the request parameters were malformed. Fatal for
	// that call; the cycle is skipped and logged.
	KindValidation
	// KindInsufficientBalance is a business-rule violation on our side.
	KindInsufficientBalance
	// KindRateLimit is transient; the gateway retries with backoff.
	KindRateLimit
	// KindNetwork is transient; the gateway retries with backoff.
	KindNetwork
	// KindServer is a 5xx from the exchange; transient.
	KindServer
	// KindOrder means the order was not found or already filled/cancelled.
	// Treated as a race: the caller re-syncs from a fresh status query.
	KindOrder
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindOrder:
		return "order"
	}
	return "unknown"
}

// Error is the single error type every gateway implementation returns.
type Error struct {
	Kind ErrorKind
	Op   string // gateway operation, e.g. "place_limit_order"
	Code string // exchange-specific error code, if any
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("exchange %s: %s", e.Op, e.Kind)
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient reports whether the failure is worth retrying at the gateway
// layer. Anything else must surface immediately.
func Transient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindRateLimit, KindNetwork, KindServer:
		return true
	}
	return false
}

// IsKind reports whether err is an exchange error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
