package rag

import (
	"strings"
	"unicode/utf8"
)

// SplitterConfig controls passage size.
type SplitterConfig struct {
	// ChunkSize is the target passage length in runes. Default: 500
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the number of runes carried over from the previous
	// passage. Default: 50
	ChunkOverlap int `yaml:"chunk_overlap"`
}

var splitSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

// Splitter breaks long text into passages, preferring paragraph breaks, then
// lines, then sentences, then words.
type Splitter struct {
	size    int
	overlap int
}

// DefaultSplitterConfig returns 500-rune passages with a 50-rune overlap.
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{ChunkSize: 500, ChunkOverlap: 50}
}

// NewSplitter creates a splitter. A zero config means the defaults; the
// overlap is clamped below the size.
func NewSplitter(cfg SplitterConfig) *Splitter {
	if cfg == (SplitterConfig{}) {
		cfg = DefaultSplitterConfig()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultSplitterConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	return &Splitter{size: cfg.ChunkSize, overlap: cfg.ChunkOverlap}
}

// Split returns the passages of text. Blank input yields nil.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= s.size {
		return []string{text}
	}

	pieces := s.split(text, splitSeparators)
	if s.overlap == 0 || len(pieces) < 2 {
		return pieces
	}
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		out[i] = strings.TrimSpace(tailRunes(pieces[i-1], s.overlap) + " " + pieces[i])
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= s.size {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	sep := ""
	rest := separators
	for i, candidate := range separators {
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}
	if sep == "" {
		return hardWrap(text, s.size)
	}

	parts := strings.Split(text, sep)
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if t := strings.TrimSpace(current.String()); t != "" {
			out = append(out, t)
		}
		current.Reset()
	}

	for i, part := range parts {
		piece := part
		if i < len(parts)-1 {
			piece += sep
		}
		pieceLen := utf8.RuneCountInString(piece)
		if pieceLen > s.size {
			flush()
			out = append(out, s.split(piece, rest)...)
			continue
		}
		if utf8.RuneCountInString(current.String())+pieceLen > s.size {
			flush()
		}
		current.WriteString(piece)
	}
	flush()
	return out
}

func hardWrap(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if t := strings.TrimSpace(string(runes[start:end])); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
