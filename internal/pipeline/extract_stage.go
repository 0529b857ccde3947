package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/chain"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
	"github.com/DracoR22/InvoiceIQ/internal/structured"
)

// ExtractStage turns the stored text into JSON shaped by the category schema.
type ExtractStage struct {
	Repo       repository.ExtractionRepository
	Structured *structured.Service
	Refine     chain.RefineParams
	Logger     *slog.Logger
}

func NewExtractStage(repo repository.ExtractionRepository, svc *structured.Service, logger *slog.Logger) *ExtractStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractStage{Repo: repo, Structured: svc, Refine: chain.DefaultRefineParams, Logger: logger}
}

// Run moves e from TO_EXTRACT to TO_VERIFY. Text longer than one chunk goes
// through the refine chain.
func (s *ExtractStage) Run(ctx context.Context, e *entity.Extraction, opts structured.Options) error {
	schema, err := structured.CategorySchema(e.Category)
	if err != nil {
		return err
	}

	var res *structured.ExtractionResult
	refine := utf8.RuneCountInString(e.Text) > s.Refine.ChunkSize
	if refine {
		params := s.Refine
		res, err = s.Structured.ExtractWithSchemaAndRefine(ctx, opts, e.Text, schema, &params)
	} else {
		res, err = s.Structured.ExtractWithSchema(ctx, opts, e.Text, schema)
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", e.Category, err)
	}

	doc, err := json.Marshal(res.JSON)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	model := string(opts.Model.Name)
	if err := s.Repo.AdvanceWithJSON(ctx, e.ID, constants.StatusToExtract, constants.StatusToVerify, doc, model); err != nil {
		return err
	}
	e.JSON = doc
	e.Model = model
	e.Status = constants.StatusToVerify
	s.Logger.Info("extract.ok", "id", e.ID, "category", e.Category, "refine", refine, "json_len", len(doc))
	return nil
}
