package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DracoR22/InvoiceIQ/internal/async"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "app.db")
	cfg.LLM.OpenAIAPIKey = "sk-test"
	return cfg
}

func TestNewBuildsEverything(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })

	if a.Repo == nil || a.Structured == nil || a.Ingestor == nil || a.Processor == nil || a.Exporter == nil {
		t.Fatalf("New() left components unset: %+v", a)
	}
	if a.DefaultModel != llm.GPT35Turbo {
		t.Errorf("DefaultModel = %s", a.DefaultModel)
	}
	if a.Creds[llm.ProviderOpenAI] != "sk-test" {
		t.Errorf("Creds = %v", a.Creds)
	}
	// migrations ran
	if _, err := a.Repo.List(ctx, repository.ListFilter{}); err != nil {
		t.Errorf("List() after New() error = %v", err)
	}

	q, err := a.NewQueue(context.Background())
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	if _, ok := q.(*async.ProcessorQueue); !ok {
		t.Errorf("NewQueue() = %T, want *async.ProcessorQueue", q)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	q.Shutdown(shutdownCtx)

	srv := a.ExtractionServer(q)
	if srv.Ingestor != a.Ingestor || srv.Queue != q {
		t.Error("ExtractionServer() is not wired to the app")
	}
}

func TestNewRejectsUnknownModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.DefaultModel = "llama-2"
	_, err := New(context.Background(), cfg, nil)
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("New() error = %v, want invalid input", err)
	}
}

func TestNewQueueRejectsUnknownBackend(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	a.Config.Queue.Backend = "kafka"
	if _, err := a.NewQueue(context.Background()); err == nil {
		t.Error("NewQueue() accepted kafka")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", true)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("log output = %q", out)
	}

	buf.Reset()
	NewLogger(&buf, "nonsense", false).Info("info is default")
	if !strings.Contains(buf.String(), "info is default") {
		t.Errorf("text log output = %q", buf.String())
	}
}
