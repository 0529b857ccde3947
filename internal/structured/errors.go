package structured

import (
	"fmt"
	"net/http"
)

// InvalidJSONOutputError means the model answered, but not with the JSON the
// operation expects. Parse and shape failures both end up here.
type InvalidJSONOutputError struct {
	Reason string
}

func (e *InvalidJSONOutputError) Error() string {
	if e.Reason == "" {
		return "the model output is not valid JSON"
	}
	return "the model output is not valid JSON: " + e.Reason
}

func (e *InvalidJSONOutputError) HTTPStatus() int { return http.StatusUnprocessableEntity }

// BadSchemaError rejects a caller supplied JSON schema before any model call.
type BadSchemaError struct {
	Err error
}

func (e *BadSchemaError) Error() string {
	return fmt.Sprintf("invalid JSON schema: %v", e.Err)
}

func (e *BadSchemaError) Unwrap() error { return e.Err }

func (e *BadSchemaError) HTTPStatus() int { return http.StatusBadRequest }
