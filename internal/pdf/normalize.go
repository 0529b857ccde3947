package pdf

import (
	"regexp"
	"strings"
)

var reWideSpace = regexp.MustCompile(`\s{3,}`)

// Normalize cleans pdftotext output: every line is trimmed, runs of blank
// lines become one blank line and runs of three or more whitespace characters
// inside a line become exactly three spaces. Normalize(Normalize(s)) equals
// Normalize(s).
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	prevBlank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		blank := line == ""
		if blank && prevBlank {
			continue
		}
		prevBlank = blank
		out = append(out, reWideSpace.ReplaceAllString(line, "   "))
	}
	return strings.Join(out, "\n")
}
