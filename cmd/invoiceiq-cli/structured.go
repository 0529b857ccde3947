package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/app"
	"github.com/DracoR22/InvoiceIQ/internal/chain"
	"github.com/DracoR22/InvoiceIQ/internal/pdf"
	"github.com/DracoR22/InvoiceIQ/internal/structured"
)

// structuredService builds the gateway and service without touching the
// database.
func (e *env) structuredService(ctx context.Context) (*structured.Service, structured.Options, func(), error) {
	ref, err := e.modelRef()
	if err != nil {
		return nil, structured.Options{}, nil, err
	}
	gw, closeCache, err := app.NewGateway(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, structured.Options{}, nil, err
	}
	svc, err := structured.NewService(gw,
		structured.WithLogger(e.logger),
		structured.WithRequestTimeout(e.cfg.LLM.RequestTimeout),
	)
	if err != nil {
		_ = closeCache()
		return nil, structured.Options{}, nil, err
	}
	cleanup := func() {
		if err := closeCache(); err != nil {
			e.logger.Warn("cache close error", "error", err)
		}
	}
	return svc, structured.Options{Model: ref, Debug: e.debug, Strict: e.strict}, cleanup, nil
}

// documentText reads the --file input. PDFs go through pdftotext; anything
// else is taken as plain text.
func (e *env) documentText(cmd *cobra.Command, path string) (string, error) {
	if path == "" {
		return "", errors.New("--file is required (use - for stdin)")
	}
	if path != "-" && constants.NormalizeExt(filepath.Ext(path)) == constants.PDFExtension {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		parser := pdf.NewParser(e.cfg.PDF, e.logger)
		if err := parser.Validate(data); err != nil {
			return "", err
		}
		return parser.Parse(cmd.Context(), data)
	}
	return readText(cmd, path)
}

func newExtractCmd(e *env) *cobra.Command {
	var (
		file, schemaPath, exampleIn, exampleOut string
		refine                                  bool
		params                                  = chain.DefaultRefineParams
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract JSON from a document with a schema or a worked example",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (schemaPath == "") == (exampleIn == "" || exampleOut == "") {
				return errors.New("pass either --schema or both --example-input and --example-output")
			}
			text, err := e.documentText(cmd, file)
			if err != nil {
				return err
			}
			svc, opts, cleanup, err := e.structuredService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			var res *structured.ExtractionResult
			switch {
			case schemaPath != "":
				schema, err := readText(cmd, schemaPath)
				if err != nil {
					return err
				}
				if refine {
					res, err = svc.ExtractWithSchemaAndRefine(cmd.Context(), opts, text, schema, &params)
				} else {
					res, err = svc.ExtractWithSchema(cmd.Context(), opts, text, schema)
				}
				if err != nil {
					return err
				}
			default:
				in, err := readText(cmd, exampleIn)
				if err != nil {
					return err
				}
				out, err := readText(cmd, exampleOut)
				if err != nil {
					return err
				}
				res, err = svc.ExtractWithExample(cmd.Context(), opts, text, structured.Example{Input: in, Output: out})
				if err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "document (.pdf or text, - for stdin)")
	f.StringVar(&schemaPath, "schema", "", "JSON schema file")
	f.StringVar(&exampleIn, "example-input", "", "example input text file")
	f.StringVar(&exampleOut, "example-output", "", "example output JSON file")
	f.BoolVar(&refine, "refine", false, "split long documents and refine chunk by chunk")
	f.IntVar(&params.ChunkSize, "chunk-size", params.ChunkSize, "refine chunk size in characters")
	f.IntVar(&params.Overlap, "overlap", params.Overlap, "refine chunk overlap in characters")
	return cmd
}

func newAnalyzeCmd(e *env) *cobra.Command {
	var file, outputPath, schemaPath string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Check an extracted JSON against its source text and suggest corrections",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := e.documentText(cmd, file)
			if err != nil {
				return err
			}
			output, err := readText(cmd, outputPath)
			if err != nil {
				return err
			}
			schema, err := readText(cmd, schemaPath)
			if err != nil {
				return err
			}
			svc, opts, cleanup, err := e.structuredService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			res, err := svc.AnalyzeJSONOutput(cmd.Context(), opts, output, text, schema)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "original document (.pdf or text)")
	f.StringVar(&outputPath, "output", "", "extracted JSON file")
	f.StringVar(&schemaPath, "schema", "", "JSON schema file")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func newClassifyCmd(e *env) *cobra.Command {
	var (
		file       string
		categories []string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a document into one of the given categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := e.documentText(cmd, file)
			if err != nil {
				return err
			}
			if len(categories) == 0 {
				categories = constants.AsStringSlice()
			}
			svc, opts, cleanup, err := e.structuredService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			res, err := svc.ClassifyText(cmd.Context(), opts, text, categories)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "document (.pdf or text, - for stdin)")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "candidate categories (default: the document categories)")
	return cmd
}

func newGenerateCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Send a free-form prompt to the model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prompt string
			switch {
			case len(args) == 1:
				prompt = args[0]
			case file != "":
				var err error
				if prompt, err = readText(cmd, file); err != nil {
					return err
				}
			}
			if strings.TrimSpace(prompt) == "" {
				return errors.New("a prompt argument or --file is required")
			}
			svc, opts, cleanup, err := e.structuredService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			res, err := svc.HandleGenericPrompt(cmd.Context(), opts, prompt)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the prompt from a file (- for stdin)")
	return cmd
}
