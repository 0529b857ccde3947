package ingest

import (
	"path/filepath"
	"strings"

	"github.com/DracoR22/InvoiceIQ/constants"
)

// AllowedExt reports whether ext (with or without the dot) names a PDF.
func AllowedExt(ext string) bool {
	return constants.NormalizeExt(ext) == constants.PDFExtension
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return base != "." && base != ".." && strings.HasPrefix(base, ".")
}
