package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ModelNotAvailableError is returned for identifiers outside the supported set.
type ModelNotAvailableError struct {
	Model string
}

func (e *ModelNotAvailableError) Error() string {
	return fmt.Sprintf("model %q is not available", e.Model)
}

func (e *ModelNotAvailableError) HTTPStatus() int { return http.StatusBadRequest }

// APIKeyMissingError is returned before any network call when a model needs a
// credential and none was supplied.
type APIKeyMissingError struct {
	Model ModelName
}

func (e *APIKeyMissingError) Error() string {
	return fmt.Sprintf("an API key is required for model %q", e.Model)
}

func (e *APIKeyMissingError) HTTPStatus() int { return http.StatusBadRequest }

// APIKeyInvalidError is the translation of a provider 401.
type APIKeyInvalidError struct {
	Model ModelName
}

func (e *APIKeyInvalidError) Error() string {
	return fmt.Sprintf("the API key for model %q was rejected by the provider", e.Model)
}

func (e *APIKeyInvalidError) HTTPStatus() int { return http.StatusBadRequest }

// BadRequestReceivedError is the translation of a provider 400.
type BadRequestReceivedError struct {
	Model  ModelName
	Detail string
}

func (e *BadRequestReceivedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("model %q rejected the request: %s", e.Model, e.Detail)
	}
	return fmt.Sprintf("model %q rejected the request", e.Model)
}

func (e *BadRequestReceivedError) HTTPStatus() int { return http.StatusUnprocessableEntity }

// ProviderError carries the HTTP status a backend observed. Backends wrap
// their SDK errors in it so the gateway can translate without knowing SDKs.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// translate maps 401/400 onto typed errors and leaves everything else alone.
func translate(model ModelName, err error) error {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.StatusCode {
	case http.StatusUnauthorized:
		return &APIKeyInvalidError{Model: model}
	case http.StatusBadRequest:
		return &BadRequestReceivedError{Model: model, Detail: errDetail(pe.Err)}
	default:
		return err
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 300 {
		msg = msg[:300] + "...(truncated)"
	}
	return msg
}
