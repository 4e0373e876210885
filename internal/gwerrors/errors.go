// Package gwerrors defines the gateway's error taxonomy. Every kind the
// core raises carries a stable snake_case code, a human-readable message,
// and an optional details map, mirroring the coded-error pattern of
// internal/coop.Client's CoopError but generalized to the gateway's own
// kinds instead of Coop's sidecar error codes.
package gwerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, snake_case error kind.
type Code string

const (
	CodeValidation            Code = "validation"
	CodeNotFound              Code = "not_found"
	CodeConflict              Code = "conflict"
	CodeModelNotFound         Code = "model_not_found"
	CodeProviderUnavailable   Code = "provider_unavailable"
	CodeProviderAuthentication Code = "provider_authentication"
	CodeTokenLimitExceeded    Code = "token_limit_exceeded"
	CodeContextLengthExceeded Code = "context_length_exceeded"
	CodeGenerationFailed      Code = "generation_failed"
	CodeVRAMInsufficient      Code = "vram_insufficient"
	CodeGPUUnavailable        Code = "gpu_unavailable"
	CodeInfrastructureUnavailable Code = "infrastructure_unavailable"
	CodeTimeout               Code = "timeout"
	CodeNotSupported           Code = "not_supported"
	CodeInternal              Code = "internal"
)

// Error is the gateway's uniform error value. Components raise *Error
// directly; HTTP handlers map Code to a status via a fixed table.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that preserves err for errors.Is/As chains.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetails attaches a details map and returns the same *Error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Is lets errors.Is match on Code: errors.Is(err, gwerrors.New(CodeNotFound, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error, else "".
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}
