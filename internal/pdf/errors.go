package pdf

import (
	"fmt"
	"net/http"
)

// Error is an input document problem. Callers match the sentinels below with
// errors.Is.
type Error string

func (e Error) Error() string { return string(e) }

func (e Error) HTTPStatus() int { return http.StatusUnprocessableEntity }

const (
	ErrNotParsed   Error = "the PDF file could not be parsed; it may not contain plain text or information in text format"
	ErrSize        Error = "the PDF file is larger than 5MB"
	ErrExtension   Error = "the PDF file extension is not .pdf"
	ErrMagicNumber Error = "the file is not a PDF document"
)

// FetchError reports a URL that answered with a non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) HTTPStatus() int { return http.StatusBadRequest }
