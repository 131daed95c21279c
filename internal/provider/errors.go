package provider

import (
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"intake-agent/internal/integrations/openai"
)

// ErrorKind classifies provider failures for callers and hint selection.
type ErrorKind string

const (
	ErrorConfig       ErrorKind = "config"
	ErrorConnectivity ErrorKind = "connectivity"
	ErrorUpstream     ErrorKind = "upstream"
)

// Error is the provider failure taxonomy. StatusCode and Body are set for
// upstream failures when the remote answered.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Hints returns operator-facing suggestions for resolving the failure.
func (e *Error) Hints() []string {
	switch e.Kind {
	case ErrorConfig:
		return ConfigHints()
	case ErrorUpstream:
		return []string{
			"The AI provider rejected the request; verify AI_MODEL supports chat completions.",
			"Check that AI_API_KEY is valid for the selected provider.",
			"Check /ai/diagnostics for configuration and connectivity.",
		}
	default:
		return []string{
			"Check network connectivity to the AI provider and the AI_API_BASE value.",
			"Increase AI_TIMEOUT_SECONDS if requests time out.",
			"Consider AI_PROVIDER=mock to validate the flow without external calls.",
		}
	}
}

// ConfigHints are returned for missing or invalid provider settings.
func ConfigHints() []string {
	return []string{
		"Ensure AI_PROVIDER is set to openai|azure_openai|litellm (or keep 'mock' for offline).",
		"Set AI_API_KEY (or AI_API_KEY_PARAM) for non-mock providers.",
		"Set AI_MODEL (model name or Azure deployment name).",
		"Set AI_API_BASE for Azure (https://<resource>.openai.azure.com) or LiteLLM.",
	}
}

// EmptyResponseHints are returned when the provider answered without text.
func EmptyResponseHints() []string {
	return []string{
		"If using a real provider, verify AI_MODEL supports chat completions.",
		"Consider using mock provider to validate flow without external calls.",
		"Check /ai/diagnostics for configuration and connectivity.",
	}
}

// Classify maps transport, HTTP and SDK errors onto *Error. Errors already
// classified are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var statusErr *openai.HTTPStatusError
	if errors.As(err, &statusErr) {
		return &Error{Kind: ErrorUpstream, StatusCode: statusErr.StatusCode, Body: statusErr.Body, Err: err}
	}
	var decodeErr *openai.DecodeError
	if errors.As(err, &decodeErr) {
		return &Error{Kind: ErrorUpstream, StatusCode: 200, Body: decodeErr.Body, Err: err}
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: ErrorUpstream, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: ErrorUpstream, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	// Timeouts, cancellations, DNS and dial failures all land here.
	return &Error{Kind: ErrorConnectivity, Err: err}
}
