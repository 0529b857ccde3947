package chain

import (
	"strings"
	"unicode/utf8"
)

// RefineParams controls how a document is chunked for a refine run.
type RefineParams struct {
	ChunkSize int `json:"chunkSize" yaml:"chunk_size"`
	Overlap   int `json:"overlap" yaml:"overlap"`
}

// DefaultRefineParams matches the sizes the prompts were tuned for.
var DefaultRefineParams = RefineParams{ChunkSize: 2000, Overlap: 100}

func (p RefineParams) Validate() error {
	if p.ChunkSize <= 0 || p.Overlap < 0 || p.Overlap >= p.ChunkSize {
		return &InvalidRefineParamsError{ChunkSize: p.ChunkSize, Overlap: p.Overlap}
	}
	return nil
}

// Chunk is one slice of a document. Index is its position in the source.
type Chunk struct {
	Content string `json:"content"`
	Index   int    `json:"index"`
}

var separators = []string{"\n\n", "\n", " ", ""}

// Split partitions document into ordered, overlapping chunks of at most
// ChunkSize characters, breaking on paragraphs first, then lines, then words.
// A single piece with no separator that is longer than ChunkSize is the only
// case where a chunk exceeds the limit.
func Split(document string, params RefineParams) ([]Chunk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(document) == "" {
		return nil, nil
	}
	if runeLen(document) <= params.ChunkSize {
		return []Chunk{{Content: document, Index: 0}}, nil
	}

	s := splitter{size: params.ChunkSize, overlap: params.Overlap}
	texts := s.split(document, separators)
	chunks := make([]Chunk, 0, len(texts))
	for _, t := range texts {
		chunks = append(chunks, Chunk{Content: t, Index: len(chunks)})
	}
	return chunks, nil
}

type splitter struct {
	size    int
	overlap int
}

func (s splitter) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var rest []string
	for i, candidate := range seps {
		if candidate == "" {
			sep = candidate
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitOn(text, sep) {
		if runeLen(piece) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, sep)...)
	}
	return out
}

// merge packs pieces into chunks, carrying up to s.overlap characters of the
// previous chunk into the next one.
func (s splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		docs    []string
		current []string
		total   int
	)
	joinCost := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}
	for _, p := range pieces {
		l := runeLen(p)
		if total+l+joinCost() > s.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+l+joinCost() > s.size && total > 0) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func splitOn(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(text, sep)
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
