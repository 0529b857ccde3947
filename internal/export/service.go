package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
)

const sheet = "Extractions"

var headers = []string{
	"ID",
	"Filename",
	"Category",
	"Date",
	"Total",
	"Currency",
	"Model",
	"Verified At",
	"JSON",
}

// Service produces XLSX workbooks of verified extractions.
type Service struct {
	repo   repository.ExtractionRepository
	logger *slog.Logger
}

func NewService(repo repository.ExtractionRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ExportXLSX returns a workbook (as bytes) with one row per PROCESSED
// extraction, newest first. An empty category exports every category.
func (s *Service) ExportXLSX(ctx context.Context, category constants.Category) ([]byte, error) {
	start := time.Now()

	recs, err := s.repo.List(ctx, repository.ListFilter{Status: constants.StatusProcessed, Category: category})
	if err != nil {
		return nil, fmt.Errorf("query extractions: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	// rename the default sheet rather than leave an empty "Sheet1" behind
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	row := 2
	for _, e := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		sum := summarize(e)

		write(1, e.ID.String())
		write(2, e.Filename)
		write(3, string(e.Category))
		write(4, sum.date)
		if sum.hasTotal {
			write(5, sum.total)
		}
		write(6, sum.currency)
		write(7, e.Model)
		write(8, e.UpdatedAt.UTC().Format(time.RFC3339))
		write(9, truncate(string(e.JSON), 32000))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // id
	_ = f.SetColWidth(sheet, "B", "B", 28) // filename
	_ = f.SetColWidth(sheet, "C", "C", 22) // category
	_ = f.SetColWidth(sheet, "D", "D", 12) // date
	_ = f.SetColWidth(sheet, "E", "F", 12) // total, currency
	_ = f.SetColWidth(sheet, "G", "H", 22)
	_ = f.SetColWidth(sheet, "I", "I", 80) // json

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"category", category,
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

type summary struct {
	date     string
	total    float64
	hasTotal bool
	currency string
}

// summarize pulls the common columns out of a category document. Receipts
// carry "total"; invoices and statements carry "total_amount_due".
func summarize(e *entity.Extraction) summary {
	var doc map[string]any
	if err := json.Unmarshal(e.JSON, &doc); err != nil {
		return summary{}
	}
	var s summary
	s.date, _ = doc["date"].(string)
	s.currency, _ = doc["currency"].(string)
	key := "total_amount_due"
	if e.Category == constants.Receipts {
		key = "total"
	}
	s.total, s.hasTotal = doc[key].(float64)
	return s
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
