package pdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/common"
)

// Parser converts PDF bytes to normalized plain text with pdftotext.
type Parser struct {
	bin      string
	maxBytes int64
	runner   Runner
	logger   *slog.Logger
}

type ParserOption func(*Parser)

// WithRunner replaces the process runner, mostly for tests.
func WithRunner(r Runner) ParserOption {
	return func(p *Parser) { p.runner = r }
}

func NewParser(cfg common.PDFConfig, logger *slog.Logger, opts ...ParserOption) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{
		bin:      cfg.Pdftotext,
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
	if p.bin == "" {
		p.bin = "pdftotext"
	}
	if p.maxBytes <= 0 {
		p.maxBytes = constants.MaxPDFBytes
	}
	p.runner = execRunner{logger: logger}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Validate checks an uploaded document: size ceiling first, then the %PDF
// magic number.
func (p *Parser) Validate(data []byte) error {
	return validate(data, p.maxBytes)
}

// MaxBytes is the largest document Validate accepts.
func (p *Parser) MaxBytes() int64 { return p.maxBytes }

func validate(data []byte, maxBytes int64) error {
	if int64(len(data)) > maxBytes {
		return ErrSize
	}
	if !bytes.HasPrefix(data, constants.PDFMagic) {
		return ErrMagicNumber
	}
	return nil
}

// Parse extracts layout-preserving text from data. A document without any
// extractable text (a scanned image, for instance) fails with ErrNotParsed.
func (p *Parser) Parse(ctx context.Context, data []byte) (string, error) {
	start := time.Now()

	f, err := os.CreateTemp("", "invoiceiq-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil {
			p.logger.Warn("pdf.parse.temp_cleanup_error", "path", path, "error", err)
		}
	}()
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := p.runner.Run(ctx, p.bin, "-layout", "-enc", "UTF-8", "-eol", "unix", "-q", path, "-")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn("pdf.parse.converter_error", "error", err, "stderr", truncate(string(errb), 512))
		return "", fmt.Errorf("%w: %v", ErrNotParsed, err)
	}

	raw := string(out)
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "")
	}
	// form feeds separate pages; a document made only of them has no text
	if strings.TrimSpace(strings.ReplaceAll(raw, "\f", "")) == "" {
		p.logger.Warn("pdf.parse.empty", "bytes", len(data))
		return "", ErrNotParsed
	}

	text := Normalize(raw)
	p.logger.Info("pdf.parse.ok",
		"bytes", len(data),
		"pages", 1+strings.Count(raw, "\f"),
		"chars", utf8.RuneCountInString(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}
