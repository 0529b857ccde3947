package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newRepo(t *testing.T) repository.ExtractionRepository {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, common.DatabaseConfig{
		Driver: repository.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "export.db"),
	}, quiet)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := repository.Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return repository.NewExtractionRepository(db, quiet)
}

// seed stores a document and walks it to status.
func seed(t *testing.T, repo repository.ExtractionRepository, name string, cat constants.Category, doc string, status constants.ExtractionStatus) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	e := &entity.Extraction{Filename: name, Text: "text"}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateCategory(ctx, e.ID, cat); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateJSON(ctx, e.ID, json.RawMessage(doc), "gpt-4"); err != nil {
		t.Fatal(err)
	}
	steps := []constants.ExtractionStatus{constants.StatusToRecognize, constants.StatusToExtract, constants.StatusToVerify, constants.StatusProcessed}
	for i := 0; i+1 < len(steps) && steps[i] != status; i++ {
		if err := repo.UpdateStatus(ctx, e.ID, steps[i], steps[i+1]); err != nil {
			t.Fatal(err)
		}
	}
	return e.ID
}

func TestExportXLSX(t *testing.T) {
	repo := newRepo(t)
	receipt := seed(t, repo, "coffee.pdf", constants.Receipts,
		`{"date":"2024-04-02","total":12.5,"currency":"EUR","items":[]}`, constants.StatusProcessed)
	seed(t, repo, "acme.pdf", constants.Invoices,
		`{"date":"2024-04-03","total_amount_due":300,"currency":"USD","items":[]}`, constants.StatusProcessed)
	seed(t, repo, "pending.pdf", constants.Receipts, `{"total":1,"items":[]}`, constants.StatusToVerify)

	svc := NewService(repo, quiet)

	t.Run("all categories", func(t *testing.T) {
		rows := readRows(t, svc, "")
		if len(rows) != 3 {
			t.Fatalf("rows = %d, want header + 2", len(rows))
		}
		if rows[0][0] != "ID" || rows[0][4] != "Total" {
			t.Errorf("header = %v", rows[0])
		}
		// newest first
		if rows[1][1] != "acme.pdf" || rows[1][4] != "300" || rows[1][5] != "USD" {
			t.Errorf("invoice row = %v", rows[1])
		}
		if rows[2][0] != receipt.String() || rows[2][3] != "2024-04-02" || rows[2][4] != "12.5" {
			t.Errorf("receipt row = %v", rows[2])
		}
	})

	t.Run("one category", func(t *testing.T) {
		rows := readRows(t, svc, constants.Invoices)
		if len(rows) != 2 || rows[1][2] != string(constants.Invoices) {
			t.Fatalf("rows = %v", rows)
		}
	})

	t.Run("nothing processed", func(t *testing.T) {
		rows := readRows(t, svc, constants.CreditCardStatements)
		if len(rows) != 1 {
			t.Fatalf("rows = %v, want header only", rows)
		}
	})
}

func readRows(t *testing.T, svc *Service, cat constants.Category) [][]string {
	t.Helper()
	data, err := svc.ExportXLSX(context.Background(), cat)
	if err != nil {
		t.Fatalf("ExportXLSX() error = %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	if name := f.GetSheetName(0); name != sheet {
		t.Errorf("sheet = %q, want %q", name, sheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestSummarizeIgnoresBrokenJSON(t *testing.T) {
	got := summarize(&entity.Extraction{Category: constants.Receipts, JSON: json.RawMessage("nope")})
	if got != (summary{}) {
		t.Errorf("summarize() = %+v, want zero", got)
	}
}
