package domain

import "time"

// KnowledgeChunk is one ordinal slice of a document produced by an embedding run.
type KnowledgeChunk struct {
	ID          string
	DocumentID  string
	OrgID       string
	Generation  int64
	ChunkIndex  int
	Content     string
	TokenLength int
	Embedding   []float32 // nil when the worker reports text only
	CreatedAt   time.Time
}

// ProducedChunk is the worker-reported shape of a chunk.
type ProducedChunk struct {
	Index       int       `json:"index"`
	Content     string    `json:"content"`
	TokenLength int       `json:"tokenLength"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// ValidateChunkSet checks that indices are exactly 0..n-1 and every chunk has
// content. Order of the input does not matter.
func ValidateChunkSet(chunks []ProducedChunk) error {
	seen := make([]bool, len(chunks))
	for _, c := range chunks {
		if c.Index < 0 || c.Index >= len(chunks) {
			return Validation("chunk index %d out of range for %d chunks", c.Index, len(chunks))
		}
		if seen[c.Index] {
			return Validation("duplicate chunk index %d", c.Index)
		}
		seen[c.Index] = true
		if c.Content == "" {
			return Validation("chunk %d has no content", c.Index)
		}
		if c.TokenLength < 0 {
			return Validation("chunk %d has negative token length", c.Index)
		}
	}
	return nil
}
