package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
	"github.com/DracoR22/InvoiceIQ/internal/structured"
)

// UnrecognizedError is returned when a document is none of the known
// categories. The extraction stays in TO_RECOGNIZE.
type UnrecognizedError struct {
	Label      string
	Confidence float64
}

func (e *UnrecognizedError) Error() string {
	return fmt.Sprintf("document not recognized (classified as %q, confidence %.2f)", e.Label, e.Confidence)
}

func (e *UnrecognizedError) HTTPStatus() int { return http.StatusUnprocessableEntity }

// Is lets callers match with errors.Is(err, ErrUnrecognized).
func (e *UnrecognizedError) Is(target error) bool { return target == ErrUnrecognized }

var ErrUnrecognized = &UnrecognizedError{}

// RecognizeStage classifies the stored text and records the category.
type RecognizeStage struct {
	Repo       repository.ExtractionRepository
	Structured *structured.Service
	Logger     *slog.Logger
}

func NewRecognizeStage(repo repository.ExtractionRepository, svc *structured.Service, logger *slog.Logger) *RecognizeStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecognizeStage{Repo: repo, Structured: svc, Logger: logger}
}

// Run moves e from TO_RECOGNIZE to TO_EXTRACT.
func (s *RecognizeStage) Run(ctx context.Context, e *entity.Extraction, opts structured.Options) error {
	res, err := s.Structured.ClassifyText(ctx, opts, e.Text, constants.AsStringSlice())
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	category, ok := constants.Canonicalize(res.Classification)
	if !ok {
		s.Logger.Warn("recognize.unrecognized", "id", e.ID, "label", res.Classification, "confidence", res.Confidence)
		return &UnrecognizedError{Label: res.Classification, Confidence: res.Confidence}
	}

	if err := s.Repo.UpdateCategory(ctx, e.ID, category); err != nil {
		return err
	}
	if err := s.Repo.UpdateStatus(ctx, e.ID, constants.StatusToRecognize, constants.StatusToExtract); err != nil {
		return err
	}
	e.Category = category
	e.Status = constants.StatusToExtract
	s.Logger.Info("recognize.ok", "id", e.ID, "category", category, "confidence", res.Confidence)
	return nil
}
