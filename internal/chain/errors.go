package chain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoChunks is returned when a refine run is started without any input.
var ErrNoChunks = errors.New("refine: no chunks to process")

// TemplateFormatError means a template and its variables disagree. It is
// always raised before a prompt reaches a model.
type TemplateFormatError struct {
	Missing    []string // required by the template, absent from the values
	Undeclared []string // referenced in the template text but not declared
	Unused     []string // declared but never referenced
	Reason     string
}

func (e *TemplateFormatError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing values for "+strings.Join(e.Missing, ", "))
	}
	if len(e.Undeclared) > 0 {
		parts = append(parts, "undeclared variables "+strings.Join(e.Undeclared, ", "))
	}
	if len(e.Unused) > 0 {
		parts = append(parts, "declared but unused variables "+strings.Join(e.Unused, ", "))
	}
	return "template format: " + strings.Join(parts, "; ")
}

func (e *TemplateFormatError) HTTPStatus() int { return http.StatusBadRequest }

// ReservedChainValuesError is raised when a caller tries to set a value the
// refine chain manages itself.
type ReservedChainValuesError struct {
	Keys []string
}

func (e *ReservedChainValuesError) Error() string {
	return fmt.Sprintf("chain values %s are reserved and set by the refine chain", strings.Join(e.Keys, ", "))
}

func (e *ReservedChainValuesError) HTTPStatus() int { return http.StatusInternalServerError }

// RefinePromptInputVariablesError names the template that lacks a variable the
// refine chain needs to bind.
type RefinePromptInputVariablesError struct {
	Template string
	Variable string
}

func (e *RefinePromptInputVariablesError) Error() string {
	return fmt.Sprintf("%s prompt must declare the %q input variable", e.Template, e.Variable)
}

func (e *RefinePromptInputVariablesError) HTTPStatus() int { return http.StatusInternalServerError }

// InvalidRefineParamsError rejects chunking settings that cannot make progress.
type InvalidRefineParamsError struct {
	ChunkSize int
	Overlap   int
}

func (e *InvalidRefineParamsError) Error() string {
	return fmt.Sprintf("invalid refine params: chunkSize=%d overlap=%d (need chunkSize > 0 and 0 <= overlap < chunkSize)",
		e.ChunkSize, e.Overlap)
}

func (e *InvalidRefineParamsError) HTTPStatus() int { return http.StatusBadRequest }
