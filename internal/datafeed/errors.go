package datafeed

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/tv_datafeed/internal/stream"
	"github.com/dgnsrekt/tv_datafeed/internal/upstream"
)

const (
	CodeValidation           = "VALIDATION"
	CodeSymbolNotFound       = "SYMBOL_NOT_FOUND"
	CodeUnknownNetwork       = "UNKNOWN_NETWORK"
	CodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	CodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamBadResponse  = "UPSTREAM_BAD_RESPONSE"
)

// MsgCannotResolve is the resolve failure message shown by the widget.
const MsgCannotResolve = "Cannot resolve symbol"

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// classify turns a lower-layer failure into a CodedError. msg is what the
// widget gets to see.
func classify(msg string, err error) error {
	var coded *CodedError
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, upstream.ErrBadResponse):
		return newError(CodeUpstreamBadResponse, msg, err)
	case errors.Is(err, stream.ErrNotFound):
		return newError(CodeSubscriptionNotFound, msg, err)
	default:
		return newError(CodeUpstreamUnavailable, msg, err)
	}
}

// Code returns err's code, or "" when err is not a CodedError.
func Code(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
