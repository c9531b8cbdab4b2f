package repository

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence of document chunks and their embeddings.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM knowledge_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// InsertBatch writes all chunks in one round trip. Chunks without an
// embedding are stored with a NULL vector.
func (r *ChunkRepository) InsertBatch(ctx context.Context, chunks []domain.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		var embedding *pgvector.Vector
		if len(c.Embedding) > 0 {
			v := pgvector.NewVector(c.Embedding)
			embedding = &v
		}
		batch.Queue(
			`INSERT INTO knowledge_chunks
				(id, document_id, org_id, generation, chunk_index, content, token_length, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, c.DocumentID, c.OrgID, c.Generation, c.ChunkIndex, c.Content, c.TokenLength, embedding, c.CreatedAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	for i := range chunks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert chunk %d: %w", chunks[i].ChunkIndex, err)
		}
	}
	return results.Close()
}

func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.KnowledgeChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, org_id, generation, chunk_index, content, token_length, embedding, created_at
		 FROM knowledge_chunks WHERE document_id = $1 ORDER BY chunk_index ASC`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.KnowledgeChunk
	for rows.Next() {
		var c domain.KnowledgeChunk
		var embedding *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.OrgID, &c.Generation, &c.ChunkIndex, &c.Content, &c.TokenLength, &embedding, &c.CreatedAt); err != nil {
			return nil, err
		}
		if embedding != nil {
			c.Embedding = embedding.Slice()
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
