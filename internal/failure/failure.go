// Package failure defines the error kinds produced while processing a photo
// and maps them onto the retryable/permanent classification used on the wire.
package failure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elihugi89/aistyler/pkg/schema"
)

type Kind string

const (
	InputUnavailable  Kind = "InputUnavailable"
	Unauthorized      Kind = "Unauthorized"
	RateLimited       Kind = "RateLimited"
	VendorError       Kind = "VendorError"
	DecodeFailure     Kind = "DecodeFailure"
	ConversionFailure Kind = "ConversionFailure"
	RetriesExhausted  Kind = "RetriesExhausted"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInputUnavailable = &Error{Kind: InputUnavailable}
	ErrUnauthorized     = &Error{Kind: Unauthorized}
	ErrRateLimited      = &Error{Kind: RateLimited}
	ErrVendor           = &Error{Kind: VendorError}
	ErrDecode           = &Error{Kind: DecodeFailure}
	ErrConversion       = &Error{Kind: ConversionFailure}
	ErrRetriesExhausted = &Error{Kind: RetriesExhausted}
)

// Error carries the kind plus whatever the vendor told us about the failure.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int
	Body       string
	RetryAfter time.Duration
	Attempts   int
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, msg, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports kind equality against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap always adds a new layer, so RetriesExhausted can wrap a RateLimited
// error and both kinds stay visible in the chain.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// KindOf returns the outermost kind in the chain, or "" for foreign errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

// Has reports whether any error in the chain is of the given kind.
func Has(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// RetryAfterOf returns the first vendor-suggested delay found in the chain.
func RetryAfterOf(err error) time.Duration {
	for err != nil {
		var typed *Error
		if !errors.As(err, &typed) {
			return 0
		}
		if typed.RetryAfter > 0 {
			return typed.RetryAfter
		}
		err = typed.Cause
	}
	return 0
}

// Classify decides whether the caller may retry the whole run later.
func Classify(err error) schema.FailureType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return schema.FailureTypeRetryable
	}

	switch KindOf(err) {
	case Unauthorized, DecodeFailure, ConversionFailure:
		return schema.FailureTypePermanent
	case InputUnavailable:
		return schema.FailureTypeValidation
	case VendorError:
		var typed *Error
		errors.As(err, &typed)
		if typed.StatusCode >= 400 && typed.StatusCode < 500 {
			return schema.FailureTypePermanent
		}
		return schema.FailureTypeRetryable
	case RetriesExhausted:
		if Has(err, RateLimited) {
			return schema.FailureTypeRetryable
		}
		var typed *Error
		errors.As(err, &typed)
		return Classify(typed.Cause)
	}

	return schema.FailureTypeRetryable
}
