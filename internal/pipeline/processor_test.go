package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/chain"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
	"github.com/DracoR22/InvoiceIQ/internal/structured"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeModel answers classification prompts with label and everything else
// with answer.
type fakeModel struct {
	label  string
	answer string
	calls  atomic.Int32
}

func (f *fakeModel) complete(_ context.Context, req llm.Request) (string, error) {
	f.calls.Add(1)
	if strings.Contains(req.Prompt, "document classification application") {
		return `{"classification": "` + f.label + `", "confidence": 0.93}`, nil
	}
	return f.answer, nil
}

func newTestProcessor(t *testing.T, fm *fakeModel) (*Processor, repository.ExtractionRepository) {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, common.DatabaseConfig{
		Driver: repository.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "pipeline.db"),
	}, quiet)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := repository.Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := repository.NewExtractionRepository(db, quiet)

	factory := func(string) (llm.Backend, error) { return llm.BackendFunc(fm.complete), nil }
	gw := llm.NewGateway(
		map[llm.Provider]llm.BackendFactory{llm.ProviderOpenAI: factory},
		llm.WithMaxRetries(0),
		llm.WithCache(llm.NewMemoryCache(time.Minute, 16)),
		llm.WithLogger(quiet),
	)
	svc, err := structured.NewService(gw, structured.WithLogger(quiet))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	model := llm.ModelRef{Name: llm.GPT35Turbo, APIKey: "sk-test"}
	return NewProcessor(quiet, repo, svc, model), repo
}

func createDoc(t *testing.T, repo repository.ExtractionRepository, text string) uuid.UUID {
	t.Helper()
	e := &entity.Extraction{Filename: "doc.pdf", Text: text}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return e.ID
}

const receiptAnswer = `{"from": "Corner Shop", "total": 12.5, "items": [{"description": "coffee", "amount": 12.5}]}`

func TestProcessReachesVerification(t *testing.T) {
	fm := &fakeModel{label: "Receipts", answer: receiptAnswer}
	p, repo := newTestProcessor(t, fm)
	id := createDoc(t, repo, "Corner Shop\ncoffee 12.50\nTOTAL 12.50")

	got, err := p.Process(context.Background(), id)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.Status != constants.StatusToVerify {
		t.Errorf("Status = %s, want %s", got.Status, constants.StatusToVerify)
	}
	if got.Category != constants.Receipts {
		t.Errorf("Category = %q, want %q", got.Category, constants.Receipts)
	}
	if got.Model != string(llm.GPT35Turbo) {
		t.Errorf("Model = %q", got.Model)
	}
	var doc map[string]any
	if err := json.Unmarshal(got.JSON, &doc); err != nil {
		t.Fatalf("stored json: %v", err)
	}
	if doc["total"] != 12.5 {
		t.Errorf("total = %v, want 12.5", doc["total"])
	}
	if n := fm.calls.Load(); n != 2 {
		t.Errorf("model calls = %d, want 2", n)
	}

	// Nothing left to do for a record awaiting verification.
	if _, err := p.Process(context.Background(), id); err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if n := fm.calls.Load(); n != 2 {
		t.Errorf("model calls after second Process = %d, want 2", n)
	}
}

func TestProcessUnrecognized(t *testing.T) {
	fm := &fakeModel{label: "poem", answer: receiptAnswer}
	p, repo := newTestProcessor(t, fm)
	id := createDoc(t, repo, "Roses are red")

	_, err := p.Process(context.Background(), id)
	if !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("Process() error = %v, want ErrUnrecognized", err)
	}
	if got := common.HTTPStatus(err); got != http.StatusUnprocessableEntity {
		t.Errorf("HTTPStatus = %d, want 422", got)
	}
	e, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != constants.StatusToRecognize || e.Category != "" {
		t.Errorf("record = %s/%q, want untouched", e.Status, e.Category)
	}
	if n := fm.calls.Load(); n != 1 {
		t.Errorf("model calls = %d, want 1", n)
	}
}

func TestProcessRefinesLongText(t *testing.T) {
	fm := &fakeModel{label: "receipts", answer: receiptAnswer}
	p, repo := newTestProcessor(t, fm)
	p.Extract.Refine = chain.RefineParams{ChunkSize: 40, Overlap: 0}
	text := "coffee 12.50 muffin 3.20 tea 2.10\n\n" +
		"bagel 4.00 juice 3.75 water 1.00\n\n" +
		"salad 9.90 soup 6.40 bread 2.20\n\n" +
		"TOTAL 45.05 paid by card"
	id := createDoc(t, repo, text)

	got, err := p.Process(context.Background(), id)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.Status != constants.StatusToVerify {
		t.Errorf("Status = %s", got.Status)
	}
	// one classification plus one call per chunk
	if n := fm.calls.Load(); n != 5 {
		t.Errorf("model calls = %d, want 5", n)
	}
}

func TestProcessMissingRecord(t *testing.T) {
	p, _ := newTestProcessor(t, &fakeModel{})
	_, err := p.Process(context.Background(), uuid.New())
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Process() error = %v, want not found", err)
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{label: "receipts", answer: receiptAnswer}
	p, repo := newTestProcessor(t, fm)
	id := createDoc(t, repo, "TOTAL 12.50")

	if _, err := p.Verify(ctx, id, json.RawMessage(`{"total": 1, "items": []}`)); common.HTTPStatus(err) != http.StatusConflict {
		t.Fatalf("Verify() before processing error = %v, want conflict", err)
	}
	if _, err := p.Process(ctx, id); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		doc  string
	}{
		{name: "not json", doc: `{"total":`},
		{name: "wrong type", doc: `{"total": "twelve", "items": []}`},
		{name: "missing required", doc: `{"from": "Corner Shop"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Verify(ctx, id, json.RawMessage(tt.doc))
			if got := common.HTTPStatus(err); got != http.StatusBadRequest {
				t.Fatalf("Verify() error = %v (status %d), want 400", err, got)
			}
		})
	}

	got, err := p.Verify(ctx, id, json.RawMessage(`{"total": 13, "items": []}`))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Status != constants.StatusProcessed {
		t.Errorf("Status = %s, want PROCESSED", got.Status)
	}
	if !strings.Contains(string(got.JSON), "13") {
		t.Errorf("JSON = %s, want corrected document", got.JSON)
	}
	if got.Model != string(llm.GPT35Turbo) {
		t.Errorf("Model = %q, want kept", got.Model)
	}
}

func TestConcurrentVerifyKeepsWinner(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{label: "receipts", answer: receiptAnswer}
	p, repo := newTestProcessor(t, fm)
	id := createDoc(t, repo, "TOTAL 12.50")
	if _, err := p.Process(ctx, id); err != nil {
		t.Fatal(err)
	}

	docs := []string{`{"total": 20, "items": []}`, `{"total": 30, "items": []}`}
	type outcome struct {
		doc string
		err error
	}
	results := make(chan outcome, len(docs))
	var wg sync.WaitGroup
	for _, doc := range docs {
		wg.Add(1)
		go func(doc string) {
			defer wg.Done()
			_, err := p.Verify(ctx, id, json.RawMessage(doc))
			results <- outcome{doc: doc, err: err}
		}(doc)
	}
	wg.Wait()
	close(results)

	var winner string
	conflicts := 0
	for r := range results {
		switch {
		case r.err == nil:
			winner = r.doc
		case common.HTTPStatus(r.err) == http.StatusConflict:
			conflicts++
		default:
			t.Errorf("Verify(%s) error = %v", r.doc, r.err)
		}
	}
	if winner == "" || conflicts != 1 {
		t.Fatalf("winner %q, %d conflicts; want one of each", winner, conflicts)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	var stored, want any
	_ = json.Unmarshal(got.JSON, &stored)
	_ = json.Unmarshal([]byte(winner), &want)
	if got.Status != constants.StatusProcessed || !reflect.DeepEqual(stored, want) {
		t.Errorf("stored %s (%s), want winner %s", got.JSON, got.Status, winner)
	}
}
