package constants

import "strings"

// PDFExtension is the only accepted document extension.
const PDFExtension = "pdf"

// MaxPDFBytes is the upload and download ceiling (5 MB).
const MaxPDFBytes = 5 * 1024 * 1024

// PDFMagic is the "%PDF" signature every PDF starts with.
var PDFMagic = []byte{0x25, 0x50, 0x44, 0x46}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
