package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/cloo-solutions/outreach/internal/domain"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// TokenCounter reports the token length of a chunk
type TokenCounter interface {
	Count(text string) int
}

// TextExtractor converts an uploaded file to plain text
type TextExtractor interface {
	Extract(ctx context.Context, r io.Reader, contentType, name string) (string, error)
}

// CrawledPage is one fetched page of a crawl
type CrawledPage struct {
	URL   string
	Title string
	Text  string
	Depth int
}

// Crawler fetches pages reachable from root within the given bounds
type Crawler interface {
	Crawl(ctx context.Context, root *url.URL, maxDepth, maxPages int) ([]CrawledPage, error)
}

// EmbeddingService turns embedding and crawl jobs into chunk sets. It only
// produces results; the Projector applies them.
type EmbeddingService struct {
	client    EmbeddingClient
	tokens    TokenCounter
	files     FileStorage
	extractor TextExtractor
	crawler   Crawler
	chunks    chunker
}

// NewEmbeddingService creates a new EmbeddingService instance with the
// default chunk bounds. client may be nil, in which case chunks carry no
// embedding vector. A nil tokens counter falls back to a character estimate.
func NewEmbeddingService(
	client EmbeddingClient,
	tokens TokenCounter,
	files FileStorage,
	extractor TextExtractor,
	crawler Crawler,
) *EmbeddingService {
	if tokens == nil {
		tokens = runeEstimate{}
	}
	return &EmbeddingService{
		client:    client,
		tokens:    tokens,
		files:     files,
		extractor: extractor,
		crawler:   crawler,
		chunks:    chunker{tokens: tokens, cfg: DefaultChunkConfig()},
	}
}

// SetChunkConfig replaces the chunk bounds
func (s *EmbeddingService) SetChunkConfig(cfg ChunkConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.chunks.cfg = cfg
	return nil
}

// ProcessEmbedding produces the chunk set for an embedding job. Offer jobs
// carry their text; upload jobs read and convert the stored file.
func (s *EmbeddingService) ProcessEmbedding(ctx context.Context, job *domain.Job) ([]domain.ProducedChunk, error) {
	var payload domain.EmbeddingPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}

	text := payload.RawTextOverride
	if text == "" {
		if payload.FileRef == "" {
			return nil, domain.Validation("embedding job %s has neither text nor file", job.ID)
		}
		extracted, err := s.readFile(ctx, payload.FileRef)
		if err != nil {
			return nil, err
		}
		text = extracted
	}

	return s.produce(ctx, s.chunks.split(text))
}

// ProcessCrawl crawls the job's site and produces one chunk set over all
// fetched pages, in crawl order. Each page is chunked on its own and every
// chunk is prefixed with its page title.
func (s *EmbeddingService) ProcessCrawl(ctx context.Context, job *domain.Job) ([]domain.ProducedChunk, error) {
	var payload domain.CrawlPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	if s.crawler == nil {
		return nil, fmt.Errorf("crawler not configured")
	}
	root, err := domain.ParseCrawlURL(payload.SourceURL)
	if err != nil {
		return nil, err
	}

	pages, err := s.crawler.Crawl(ctx, root, payload.MaxDepth, payload.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", root, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("crawl %s returned no pages", root)
	}

	var texts []string
	for _, page := range pages {
		for _, chunk := range s.chunks.split(page.Text) {
			texts = append(texts, buildPageChunkText(page, chunk))
		}
	}
	slog.InfoContext(ctx, "crawl finished", "url", root.String(), "pages", len(pages), "chunks", len(texts))
	return s.produce(ctx, texts)
}

func (s *EmbeddingService) readFile(ctx context.Context, fileRef string) (string, error) {
	if s.files == nil || s.extractor == nil {
		return "", domain.StorageFailure("file storage is not configured", nil)
	}
	meta, err := s.files.Resolve(ctx, fileRef)
	if err != nil {
		return "", err
	}
	body, err := s.files.Open(ctx, fileRef)
	if err != nil {
		return "", err
	}
	defer body.Close()

	text, err := s.extractor.Extract(ctx, body, meta.ContentType, path.Base(fileRef))
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", fileRef, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.Validation("file %s contains no text", fileRef)
	}
	return text, nil
}

func (s *EmbeddingService) produce(ctx context.Context, texts []string) ([]domain.ProducedChunk, error) {
	if limit := s.chunks.cfg.MaxChunks; limit > 0 && len(texts) > limit {
		return nil, domain.Validation("content needs %d chunks, the limit is %d", len(texts), limit)
	}
	chunks := make([]domain.ProducedChunk, 0, len(texts))
	for i, text := range texts {
		chunk := domain.ProducedChunk{
			Index:   i,
			Content: text,
		}
		chunk.TokenLength = s.tokens.Count(text)
		if s.client != nil {
			embedding, err := s.client.GenerateEmbedding(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("failed to generate chunk embedding: %w", err)
			}
			chunk.Embedding = embedding
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func buildPageChunkText(page CrawledPage, chunk string) string {
	var parts []string
	if page.Title != "" {
		parts = append(parts, page.Title)
	}
	if chunk != "" {
		parts = append(parts, chunk)
	}
	return strings.Join(parts, "\n\n")
}
