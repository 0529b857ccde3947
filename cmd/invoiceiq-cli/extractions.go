package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/app"
	"github.com/DracoR22/InvoiceIQ/internal/async"
	"github.com/DracoR22/InvoiceIQ/internal/ingest"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
)

func (e *env) app(ctx context.Context) (*app.App, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(ctx, e.cfg, e.logger)
}

func newIngestCmd(e *env) *cobra.Command {
	var watch, process, includeHidden bool
	cmd := &cobra.Command{
		Use:   "ingest <file|dir>",
		Short: "Store PDFs as extractions, skipping documents already ingested",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var queue async.Queue
			if process {
				if queue, err = a.NewQueue(ctx); err != nil {
					return err
				}
				defer func() {
					// let queued documents finish even after an interrupt
					shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Queue.ProcessTimeout)
					defer cancel()
					queue.Shutdown(shutdownCtx)
				}()
			}
			handle := func(r ingest.Result) {
				if err := printJSON(cmd.OutOrStdout(), r); err != nil {
					e.logger.Warn("print error", "error", err)
				}
				if queue == nil || r.Extraction == nil || r.Extraction.Status == constants.StatusProcessed {
					return
				}
				if err := queue.Enqueue(ctx, async.Job{ExtractionID: r.Extraction.ID, SubmittedAt: time.Now().UTC()}); err != nil {
					e.logger.Warn("enqueue failed", "id", r.Extraction.ID, "error", err)
				}
			}

			root := args[0]
			info, err := os.Stat(root)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				if watch {
					return errors.New("--watch needs a directory")
				}
				r, err := a.Ingestor.IngestPath(ctx, root)
				if err != nil {
					return err
				}
				handle(r)
				return nil
			}

			if watch {
				err := a.Ingestor.Watch(ctx, ingest.WatchConfig{
					Roots:       []string{root},
					InitialScan: true,
					Debounce:    500 * time.Millisecond,
				}, handle)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			results, stats, err := a.Ingestor.IngestDirectory(ctx, root, !includeHidden)
			for _, r := range results {
				handle(r)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&watch, "watch", false, "keep watching the directory for new PDFs")
	f.BoolVar(&process, "process", false, "recognize and extract every ingested document in the background")
	f.BoolVar(&includeHidden, "include-hidden", false, "descend into hidden files and directories")
	return cmd
}

func newProcessCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "process <id>",
		Short: "Recognize and extract a stored document up to verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			ref, err := e.modelRef()
			if err != nil {
				return err
			}
			a, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.Processor.ProcessWithModel(cmd.Context(), id, ref)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newListCmd(e *env) *cobra.Command {
	var (
		status, category string
		limit            int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored extractions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repository.ListFilter{Status: constants.ExtractionStatus(status), Limit: limit}
			if status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			if category != "" {
				cat, ok := constants.Canonicalize(category)
				if !ok {
					return fmt.Errorf("unknown category %q", category)
				}
				f.Category = cat
			}
			a, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.Repo.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "TO_RECOGNIZE, TO_EXTRACT, TO_VERIFY or PROCESSED")
	f.StringVar(&category, "category", "", "document category")
	f.IntVar(&limit, "limit", 50, "maximum rows (0 for all)")
	return cmd
}

func newExportCmd(e *env) *cobra.Command {
	var category, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write processed extractions to an XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cat constants.Category
			if category != "" {
				c, ok := constants.Canonicalize(category)
				if !ok {
					return fmt.Errorf("unknown category %q", category)
				}
				cat = c
			}
			if out == "" {
				out = "extractions"
				if cat != "" {
					out += "-" + cat.Slug()
				}
				out += "-" + time.Now().UTC().Format("20060102") + ".xlsx"
			}
			a, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			data, err := a.Exporter.ExportXLSX(cmd.Context(), cat)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			e.logger.Info("export written", "path", out, "bytes", len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default extractions[-category]-YYYYMMDD.xlsx)")
	return cmd
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if e.cfg.Database.DSN == "" {
				return errors.New("DB_URL is required")
			}
			db, err := repository.Open(ctx, e.cfg.Database, e.logger)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := repository.Migrate(ctx, db); err != nil {
				return err
			}
			e.logger.Info("migrations applied", "driver", e.cfg.Database.Driver)
			return nil
		},
	}
}

func newHealthCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the database and count extractions per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := repository.Open(ctx, e.cfg.Database, e.logger)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.HealthCheck(ctx); err != nil {
				return fmt.Errorf("database health: %w", err)
			}
			repo := repository.NewExtractionRepository(db, e.logger)
			counts := map[constants.ExtractionStatus]int{}
			for _, st := range []constants.ExtractionStatus{
				constants.StatusToRecognize, constants.StatusToExtract, constants.StatusToVerify, constants.StatusProcessed,
			} {
				rows, err := repo.List(ctx, repository.ListFilter{Status: st})
				if err != nil {
					return err
				}
				counts[st] = len(rows)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"database": "ok", "extractions": counts})
		},
	}
}
