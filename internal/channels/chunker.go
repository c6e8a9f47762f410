package channels

import (
	"strings"
	"unicode"
)

// TelegramMaxMessageLength is Telegram's limit on message text, in characters.
const TelegramMaxMessageLength = 4096

// MessageChunker splits long messages into transport-sized pieces.
// Sizes are counted in runes, so multi-byte text is never cut mid-character.
// It breaks on paragraph boundaries, then lines, sentences and words, and
// keeps fenced code blocks together when a break before them exists.
type MessageChunker struct {
	// MaxSize is the maximum chunk size in runes.
	MaxSize int

	// PreserveCodeBlocks avoids breaking inside ``` fences when possible.
	PreserveCodeBlocks bool
}

// NewMessageChunker creates a chunker with the given max size.
func NewMessageChunker(maxSize int) *MessageChunker {
	if maxSize <= 0 {
		maxSize = TelegramMaxMessageLength
	}
	return &MessageChunker{
		MaxSize:            maxSize,
		PreserveCodeBlocks: true,
	}
}

// Chunk splits text into pieces of at most MaxSize runes. Break points are
// tried in this order:
//  1. Paragraph breaks (double newlines)
//  2. Single newlines
//  3. Sentence endings (. ! ?)
//  4. Word boundaries
//  5. Hard break at MaxSize
func (c *MessageChunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.MaxSize {
		return []string{text}
	}

	var chunks []string
	for len(runes) > c.MaxSize {
		breakIdx := c.findBreakPoint(runes)
		if breakIdx <= 0 {
			breakIdx = c.MaxSize
		}
		if chunk := strings.TrimRightFunc(string(runes[:breakIdx]), unicode.IsSpace); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = trimLeftSpace(runes[breakIdx:])
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// findBreakPoint returns the rune index to break at.
func (c *MessageChunker) findBreakPoint(runes []rune) int {
	window := runes[:c.MaxSize]

	limit := len(window)
	if c.PreserveCodeBlocks {
		if start, open := openFenceStart(window); open && start > 0 {
			limit = start
		}
	}
	scope := window[:limit]

	if idx := lastIndex(scope, []rune("\n\n")); idx > 0 {
		return idx + 1
	}
	if idx := lastIndex(scope, []rune("\n")); idx > 0 {
		return idx + 1
	}
	best := -1
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := lastIndex(scope, []rune(ending)); idx > best {
			best = idx
		}
	}
	if best > 0 {
		return best + 1
	}
	if limit == len(window) && len(runes) > c.MaxSize && unicode.IsSpace(runes[c.MaxSize]) {
		return c.MaxSize
	}
	for i := len(scope) - 1; i > 0; i-- {
		if unicode.IsSpace(scope[i]) {
			return i
		}
	}
	return c.MaxSize
}

// openFenceStart reports whether window ends inside a ``` fence and where
// that fence opened.
func openFenceStart(window []rune) (int, bool) {
	open := false
	start := 0
	lineStart := 0
	for i := 0; i <= len(window); i++ {
		if i < len(window) && window[i] != '\n' {
			continue
		}
		line := strings.TrimSpace(string(window[lineStart:i]))
		if strings.HasPrefix(line, "```") {
			if !open {
				start = lineStart
			}
			open = !open
		}
		lineStart = i + 1
	}
	return start, open
}

func lastIndex(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func trimLeftSpace(runes []rune) []rune {
	for len(runes) > 0 && unicode.IsSpace(runes[0]) {
		runes = runes[1:]
	}
	return runes
}

// SplitMessage splits text into chunks of at most maxLength runes.
func SplitMessage(text string, maxLength int) []string {
	return NewMessageChunker(maxLength).Chunk(text)
}
