package service

import (
	"fmt"
	"strings"
	"unicode"
)

// ChunkConfig bounds the chunks produced for one document. Sizes are in
// tokens as reported by the service's TokenCounter.
type ChunkConfig struct {
	MaxTokens     int
	OverlapTokens int
	// MaxChunks rejects documents that need more chunks. Zero means no limit.
	MaxChunks int
}

// DefaultChunkConfig keeps chunks well inside the 8k token input of the
// OpenAI and Gemini embedding models.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxTokens:     512,
		OverlapTokens: 64,
		MaxChunks:     2000,
	}
}

// Validate checks that the bounds can be satisfied together
func (c ChunkConfig) Validate() error {
	if c.MaxTokens < 1 {
		return fmt.Errorf("chunk max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxTokens {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.MaxTokens, c.OverlapTokens)
	}
	if c.MaxChunks < 0 {
		return fmt.Errorf("chunk limit must not be negative, got %d", c.MaxChunks)
	}
	return nil
}

// segment is a piece of a paragraph that fits in one chunk on its own.
// opens marks the first segment of a paragraph.
type segment struct {
	text   string
	tokens int
	opens  bool
}

type chunker struct {
	tokens TokenCounter
	cfg    ChunkConfig
}

// split cuts text into chunks aligned to paragraphs. Paragraphs longer than
// MaxTokens are cut at sentence ends, and sentences at word boundaries.
// Consecutive chunks share up to OverlapTokens of trailing segments.
// A single word longer than MaxTokens becomes its own chunk.
func (c chunker) split(text string) []string {
	var chunks []string
	var window []segment
	used := 0

	for _, seg := range c.segments(text) {
		if len(window) > 0 && used+seg.tokens > c.cfg.MaxTokens {
			chunks = append(chunks, joinSegments(window))
			window = c.overlap(window, seg.tokens)
			used = 0
			for _, s := range window {
				used += s.tokens
			}
		}
		window = append(window, seg)
		used += seg.tokens
	}
	if len(window) > 0 {
		chunks = append(chunks, joinSegments(window))
	}
	return chunks
}

// overlap returns the trailing segments of window to repeat at the start of
// the next chunk, leaving room for a following segment of next tokens.
func (c chunker) overlap(window []segment, next int) []segment {
	budget := min(c.cfg.OverlapTokens, c.cfg.MaxTokens-next)
	start := len(window)
	used := 0
	for start > 0 && used+window[start-1].tokens <= budget {
		start--
		used += window[start].tokens
	}
	carried := make([]segment, len(window)-start)
	copy(carried, window[start:])
	return carried
}

func (c chunker) segments(text string) []segment {
	var out []segment
	for _, para := range paragraphs(text) {
		if n := c.tokens.Count(para); n <= c.cfg.MaxTokens {
			out = append(out, segment{text: para, tokens: n, opens: true})
			continue
		}
		first := len(out)
		for _, sentence := range sentences(para) {
			if n := c.tokens.Count(sentence); n <= c.cfg.MaxTokens {
				out = append(out, segment{text: sentence, tokens: n})
				continue
			}
			out = append(out, c.wordRuns(sentence)...)
		}
		if len(out) > first {
			out[first].opens = true
		}
	}
	return out
}

func (c chunker) wordRuns(sentence string) []segment {
	var out []segment
	var run []string
	used := 0
	for _, word := range strings.Fields(sentence) {
		n := c.tokens.Count(word)
		if len(run) > 0 && used+n > c.cfg.MaxTokens {
			out = append(out, segment{text: strings.Join(run, " "), tokens: used})
			run, used = nil, 0
		}
		run = append(run, word)
		used += n
	}
	if len(run) > 0 {
		out = append(out, segment{text: strings.Join(run, " "), tokens: used})
	}
	return out
}

func joinSegments(segs []segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			if s.opens {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(s.text)
	}
	return b.String()
}

// paragraphs splits text on blank lines and drops empty paragraphs
func paragraphs(text string) []string {
	var out []string
	var lines []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(lines, "\n")); p != "" {
			out = append(out, p)
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return out
}

// sentences splits a paragraph after '.', '!' or '?' followed by whitespace
func sentences(para string) []string {
	var out []string
	runes := []rune(para)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if strings.ContainsRune(".!?", runes[i]) && unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// runeEstimate approximates four characters per token when no tokenizer is
// configured.
type runeEstimate struct{}

func (runeEstimate) Count(text string) int {
	return (len([]rune(text)) + 3) / 4
}
