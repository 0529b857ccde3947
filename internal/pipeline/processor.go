package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
	"github.com/DracoR22/InvoiceIQ/internal/structured"
)

// Processor coordinates recognition then extraction for a stored document.
type Processor struct {
	Logger    *slog.Logger
	Repo      repository.ExtractionRepository
	Recognize *RecognizeStage
	Extract   *ExtractStage
	// Model is used when a caller does not pick one.
	Model llm.ModelRef
}

func NewProcessor(logger *slog.Logger, repo repository.ExtractionRepository, svc *structured.Service, model llm.ModelRef) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Logger:    logger,
		Repo:      repo,
		Recognize: NewRecognizeStage(repo, svc, logger),
		Extract:   NewExtractStage(repo, svc, logger),
		Model:     model,
	}
}

// Process runs the default model over id.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) (*entity.Extraction, error) {
	return p.ProcessWithModel(ctx, id, p.Model)
}

// ProcessWithModel advances id until it waits for verification. Records
// already in TO_VERIFY or PROCESSED are returned unchanged.
func (p *Processor) ProcessWithModel(ctx context.Context, id uuid.UUID, model llm.ModelRef) (*entity.Extraction, error) {
	start := time.Now()
	e, err := p.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	opts := structured.Options{Model: model}

	if e.Status == constants.StatusToRecognize {
		if err := p.Recognize.Run(ctx, e, opts); err != nil {
			p.Logger.Error("processor.recognize.failed", "id", id, "err", err)
			return nil, err
		}
	}
	if e.Status == constants.StatusToExtract {
		if err := p.Extract.Run(ctx, e, opts); err != nil {
			p.Logger.Error("processor.extract.failed", "id", id, "err", err)
			return nil, err
		}
	}

	p.Logger.Info("processor.ok",
		"id", id,
		"status", e.Status,
		"category", e.Category,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return p.Repo.Get(ctx, id)
}

// Verify stores the user-checked JSON for id and marks it processed. The
// document must match the category schema.
func (p *Processor) Verify(ctx context.Context, id uuid.UUID, doc json.RawMessage) (*entity.Extraction, error) {
	e, err := p.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != constants.StatusToVerify {
		return nil, common.NewAppError("STATUS_CONFLICT",
			fmt.Sprintf("extraction %s is %s, expected %s", id, e.Status, constants.StatusToVerify), common.ErrConflict)
	}

	var decoded any
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return nil, common.NewAppError("INVALID_JSON", "json is not a valid document", common.ErrInvalidInput)
	}
	if err := structured.ValidateCategory(e.Category, decoded); err != nil {
		p.Logger.Warn("processor.verify.rejected", "id", id, "category", e.Category, "err", err)
		return nil, common.NewAppError("SCHEMA_MISMATCH", err.Error(), common.ErrValidation)
	}

	if err := p.Repo.AdvanceWithJSON(ctx, id, constants.StatusToVerify, constants.StatusProcessed, doc, e.Model); err != nil {
		return nil, err
	}
	p.Logger.Info("processor.verify.ok", "id", id, "category", e.Category)
	return p.Repo.Get(ctx, id)
}
