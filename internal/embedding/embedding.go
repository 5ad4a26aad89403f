package embedding

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"book-rag/internal/config"
	"book-rag/internal/models"
)

// Embedder is the single-text embedding surface; langchaingo's
// embeddings.EmbedderImpl satisfies it.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Source provides chunks still missing a vector and accepts the result.
type Source interface {
	Pending(ctx context.Context, filter string, limit int) ([]models.PendingChunk, error)
	SaveEmbedding(ctx context.Context, chunkID, vector, model string, at time.Time) error
}

// NewEmbedder creates an embedder against an OpenAI-compatible API.
func NewEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

// FormatVector serializes a vector as a bracketed comma-separated decimal
// literal with fixed precision, the form Postgres vector columns accept.
func FormatVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', 6, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Result summarizes one embedding pass.
type Result struct {
	Processed int
	Succeeded int
	Failed    int
}

// EmbedPending embeds every pending chunk one at a time, sleeping delay
// between calls. A failed call or save is counted and logged with the chunk
// id, then the pass moves on; it never aborts the run.
func EmbedPending(ctx context.Context, embedder Embedder, src Source, model, filter string, limit int, delay time.Duration) (*Result, error) {
	pending, err := src.Pending(ctx, filter, limit)
	if err != nil {
		return nil, err
	}
	log.Info().Int("pending", len(pending)).Msg("Embedding pending chunks")

	res := &Result{}
	for i, chunk := range pending {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		res.Processed++

		vector, err := embedder.EmbedQuery(ctx, chunk.Text)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("chunk_id", chunk.ChunkID).Msg("Embedding call failed, continuing")
			continue
		}
		if err := src.SaveEmbedding(ctx, chunk.ChunkID, FormatVector(vector), model, time.Now().UTC()); err != nil {
			res.Failed++
			log.Error().Err(err).Str("chunk_id", chunk.ChunkID).Msg("Saving embedding failed, continuing")
			continue
		}
		res.Succeeded++
	}
	return res, nil
}
