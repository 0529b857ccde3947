package pdf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/common"
)

// Loader downloads PDF documents by URL.
type Loader struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

type LoaderOption func(*Loader)

// WithHTTPClient replaces the client used for downloads.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) {
		if c != nil {
			l.client = c
		}
	}
}

func NewLoader(cfg common.PDFConfig, logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l := &Loader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
	if l.maxBytes <= 0 {
		l.maxBytes = constants.MaxPDFBytes
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// CheckURL accepts http(s) URLs whose path ends in .pdf (any case). It never
// touches the network.
func CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &common.RequestError{Message: fmt.Sprintf("invalid document URL %q", raw)}
	}
	if constants.NormalizeExt(path.Ext(u.Path)) != constants.PDFExtension {
		return nil, ErrExtension
	}
	return u, nil
}

// LoadFromURL fetches a PDF. The extension is checked before any request is
// made; size and magic number are checked on the response.
func (l *Loader) LoadFromURL(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := CheckURL(rawURL)
	if err != nil {
		return nil, err
	}

	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf")

	l.logger.Info("pdf.fetch.request", "req_id", reqID, "host", u.Host)
	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Error("pdf.fetch.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			l.logger.Warn("pdf.fetch.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		return nil, &FetchError{URL: u.Redacted(), StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > l.maxBytes {
		return nil, ErrSize
	}

	// read one byte past the limit so an oversized body without a
	// Content-Length header is still caught
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if err := validate(data, l.maxBytes); err != nil {
		l.logger.Warn("pdf.fetch.rejected", "req_id", reqID, "bytes", len(data), "error", err)
		return nil, err
	}

	l.logger.Info("pdf.fetch.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}
