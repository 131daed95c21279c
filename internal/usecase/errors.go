package usecase

import (
	"errors"
	"fmt"

	"intake-agent/internal/provider"
	"intake-agent/internal/repository"
)

type ErrorCode string

const (
	ErrorInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrorNotFound       ErrorCode = "NOT_FOUND"
	ErrorUpstream       ErrorCode = "UPSTREAM_ERROR"
	ErrorProviderConfig ErrorCode = "PROVIDER_CONFIG"
	ErrorUnavailable    ErrorCode = "UNAVAILABLE"
	ErrorConflict       ErrorCode = "CONFLICT"
	ErrorStorage        ErrorCode = "STORAGE_ERROR"
	ErrorInternal       ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Hints returns operator hints carried by a wrapped provider error.
func (e *Error) Hints() []string {
	var pe *provider.Error
	if errors.As(e, &pe) {
		return pe.Hints()
	}
	return nil
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// storeError maps repository failures; reason names the failed step.
func storeError(reason string, err error) *Error {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(ErrorNotFound, "conversation_not_found", err)
	}
	if errors.Is(err, repository.ErrConflict) {
		return newError(ErrorConflict, "conversation_changed", err)
	}
	return newError(ErrorStorage, reason, err)
}

// providerError maps the provider failure taxonomy onto error codes.
func providerError(err error) *Error {
	var pe *provider.Error
	if !errors.As(err, &pe) {
		return newError(ErrorUnavailable, "provider_error", provider.Classify(err))
	}
	switch pe.Kind {
	case provider.ErrorConfig:
		return newError(ErrorProviderConfig, "provider_config_invalid", err)
	case provider.ErrorUpstream:
		return newError(ErrorUpstream, "provider_rejected", err)
	default:
		return newError(ErrorUnavailable, "provider_unreachable", err)
	}
}
