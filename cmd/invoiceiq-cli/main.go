package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/DracoR22/InvoiceIQ/internal/app"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
)

// env is populated by the root command before any subcommand runs.
type env struct {
	cfg    *common.Config
	logger *slog.Logger

	configPath string
	logLevel   string
	model      string
	apiKey     string
	debug      bool
	strict     bool
}

func main() {
	e := &env{}
	root := &cobra.Command{
		Use:           "invoiceiq",
		Short:         "Turn PDF receipts, invoices and statements into structured JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&e.configPath, "config", os.Getenv("CONFIG_PATH"), "YAML config file")
	pf.StringVar(&e.logLevel, "log-level", "", "debug, info, warn or error (default from config)")
	pf.StringVar(&e.model, "model", "", "model name (default from config)")
	pf.StringVar(&e.apiKey, "api-key", "", "provider API key (default from environment)")
	pf.BoolVar(&e.debug, "debug", false, "include the chain/LLM debug report")
	pf.BoolVar(&e.strict, "strict", false, "validate extracted JSON against the schema")

	root.AddCommand(
		newPDFCmd(e),
		newExtractCmd(e),
		newAnalyzeCmd(e),
		newClassifyCmd(e),
		newGenerateCmd(e),
		newIngestCmd(e),
		newProcessCmd(e),
		newListCmd(e),
		newExportCmd(e),
		newMigrateCmd(e),
		newHealthCmd(e),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *env) load() error {
	_ = godotenv.Load()
	cfg, err := common.LoadConfig(e.configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if e.logLevel != "" {
		level = e.logLevel
	}
	// stdout carries command output
	e.logger = app.NewLogger(os.Stderr, level, true)
	slog.SetDefault(e.logger)
	e.cfg = cfg
	return nil
}

// modelRef resolves --model and --api-key against the configured defaults.
func (e *env) modelRef() (llm.ModelRef, error) {
	name := e.model
	if name == "" {
		name = e.cfg.LLM.DefaultModel
	}
	ref, err := llm.NewModelRef(name, e.apiKey)
	if err != nil {
		return llm.ModelRef{}, err
	}
	if strings.TrimSpace(ref.APIKey) == "" {
		ref.APIKey = app.Credentials(e.cfg.LLM)[ref.Name.Provider()]
	}
	return ref, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readText returns the contents of path, or stdin for "-".
func readText(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
