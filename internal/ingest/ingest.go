// Package ingest turns PDF documents into stored extractions, deduplicated by
// content hash.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
	"github.com/DracoR22/InvoiceIQ/internal/pdf"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
)

// Result is the per-document ingest outcome.
type Result struct {
	SourcePath   string             `json:"source_path,omitempty"`
	Extraction   *entity.Extraction `json:"extraction,omitempty"`
	Deduplicated bool               `json:"deduplicated"`
	HashHex      string             `json:"hash,omitempty"`
	Err          string             `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32 `json:"scanned"`
	Matched      uint32 `json:"matched"`
	Succeeded    uint32 `json:"succeeded"`
	Deduplicated uint32 `json:"deduplicated"`
	Failed       uint32 `json:"failed"`
}

type Ingestor struct {
	parser *pdf.Parser
	repo   repository.ExtractionRepository
	logger *slog.Logger
}

func NewIngestor(parser *pdf.Parser, repo repository.ExtractionRepository, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{parser: parser, repo: repo, logger: logger}
}

// Ingest stores data as a new TO_RECOGNIZE extraction. When a document with
// the same bytes was ingested before, the existing record is returned instead
// and nothing is parsed.
func (i *Ingestor) Ingest(ctx context.Context, filename string, data []byte) (Result, error) {
	filename = strings.TrimSpace(filename)
	if err := common.NewValidator().
		Field("filename", filename, common.Required, common.MaxLength(255)).
		Field("data", data, common.Required).
		Err(); err != nil {
		return Result{}, err
	}
	if !AllowedExt(filepath.Ext(filename)) {
		return Result{}, pdf.ErrExtension
	}
	if err := i.parser.Validate(data); err != nil {
		return Result{}, err
	}

	sum := sha256.Sum256(data)
	out := Result{HashHex: hex.EncodeToString(sum[:])}

	existing, err := i.repo.FindByHash(ctx, out.HashHex)
	switch {
	case err == nil:
		i.logger.Info("ingest.deduplicated", "id", existing.ID, "filename", filename, "hash", out.HashHex)
		out.Extraction = existing
		out.Deduplicated = true
		return out, nil
	case !errors.Is(err, common.ErrNotFound):
		return Result{}, err
	}

	text, err := i.parser.Parse(ctx, data)
	if err != nil {
		return Result{}, err
	}
	e := &entity.Extraction{Filename: filename, Text: text, ContentHash: out.HashHex}
	if err := i.repo.Create(ctx, e); err != nil {
		return Result{}, err
	}
	i.logger.Info("ingest.created", "id", e.ID, "filename", filename, "text_len", len(text))
	out.Extraction = e
	return out, nil
}

// IngestPath reads a single file from disk and ingests it under its base name.
func (i *Ingestor) IngestPath(ctx context.Context, path string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{SourcePath: path}, fmt.Errorf("abs path: %w", err)
	}
	if !AllowedExt(filepath.Ext(abs)) {
		return Result{SourcePath: abs}, pdf.ErrExtension
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Result{SourcePath: abs}, fmt.Errorf("stat: %w", err)
	}
	if info.Size() > i.parser.MaxBytes() {
		return Result{SourcePath: abs}, pdf.ErrSize
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{SourcePath: abs}, fmt.Errorf("read: %w", err)
	}

	out, err := i.Ingest(ctx, filepath.Base(abs), data)
	out.SourcePath = abs
	return out, err
}
