package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/pdf"
)

func newPDFCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "pdf <file|url>",
		Short: "Print the text of a PDF file or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			parser := pdf.NewParser(e.cfg.PDF, e.logger)

			var (
				data []byte
				err  error
			)
			if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
				data, err = pdf.NewLoader(e.cfg.PDF, e.logger).LoadFromURL(cmd.Context(), src)
			} else {
				if constants.NormalizeExt(filepath.Ext(src)) != constants.PDFExtension {
					return pdf.ErrExtension
				}
				data, err = os.ReadFile(src)
				if err == nil {
					err = parser.Validate(data)
				}
			}
			if err != nil {
				return err
			}
			text, err := parser.Parse(cmd.Context(), data)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]string{"source": src, "content": text})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print {source, content} as JSON")
	return cmd
}
