package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_Split(t *testing.T) {
	tests := []struct {
		name string
		cfg  ChunkConfig
		text string
		want []string
	}{
		{
			name: "blank text",
			cfg:  ChunkConfig{MaxTokens: 5},
			text: " \n\n \t",
			want: nil,
		},
		{
			name: "short text is one chunk",
			cfg:  ChunkConfig{MaxTokens: 5},
			text: "  solar roofs  ",
			want: []string{"solar roofs"},
		},
		{
			name: "paragraphs are packed until full",
			cfg:  ChunkConfig{MaxTokens: 5},
			text: "a b c\n\nd e\n\nf g h i",
			want: []string{"a b c\n\nd e", "f g h i"},
		},
		{
			name: "trailing paragraph is repeated as overlap",
			cfg:  ChunkConfig{MaxTokens: 5, OverlapTokens: 2},
			text: "a b\n\nc d\n\ne f g",
			want: []string{"a b\n\nc d", "c d\n\ne f g"},
		},
		{
			name: "long paragraph is cut at sentence ends",
			cfg:  ChunkConfig{MaxTokens: 4},
			text: "One two three. Four five six. Seven eight.",
			want: []string{"One two three.", "Four five six.", "Seven eight."},
		},
		{
			name: "long sentence is cut at words",
			cfg:  ChunkConfig{MaxTokens: 3},
			text: "a b c d e f g",
			want: []string{"a b c", "d e f", "g"},
		},
		{
			name: "windows lines are normalized",
			cfg:  ChunkConfig{MaxTokens: 2},
			text: "a b\r\n\r\nc",
			want: []string{"a b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := chunker{tokens: wordCounter{}, cfg: tt.cfg}
			assert.Equal(t, tt.want, c.split(tt.text))
		})
	}
}

func TestChunker_Split_RespectsMaxTokens(t *testing.T) {
	var paras []string
	for i := 0; i < 30; i++ {
		paras = append(paras, strings.Repeat("heat pump install. ", i%7+1))
	}
	text := strings.Join(paras, "\n\n")
	c := chunker{tokens: wordCounter{}, cfg: ChunkConfig{MaxTokens: 12, OverlapTokens: 4}}

	chunks := c.split(text)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, wordCounter{}.Count(chunk), 12, chunk)
	}
}

func TestChunkConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChunkConfig
		wantErr bool
	}{
		{"defaults", DefaultChunkConfig(), false},
		{"no overlap", ChunkConfig{MaxTokens: 1}, false},
		{"zero max tokens", ChunkConfig{}, true},
		{"overlap fills chunk", ChunkConfig{MaxTokens: 8, OverlapTokens: 8}, true},
		{"negative overlap", ChunkConfig{MaxTokens: 8, OverlapTokens: -1}, true},
		{"negative limit", ChunkConfig{MaxTokens: 8, MaxChunks: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRuneEstimate(t *testing.T) {
	assert.Equal(t, 0, runeEstimate{}.Count(""))
	assert.Equal(t, 1, runeEstimate{}.Count("abc"))
	assert.Equal(t, 2, runeEstimate{}.Count("wärme"))
}
