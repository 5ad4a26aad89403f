package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"book-rag/internal/chromemdb"
	"book-rag/internal/config"
	"book-rag/internal/db"
	"book-rag/internal/embedding"
)

// Passage is one retrieved chunk, ready to show as a source.
type Passage struct {
	ChunkID      string
	BookSlug     string
	BookTitle    string
	ChapterTitle string
	Text         string
	Score        float32
}

// RAG answers questions over ingested book chunks. Retrieval goes through
// either the local chromem index or Postgres, whichever is set.
type RAG struct {
	store    *db.Store
	local    *chromemdb.Manager
	embedder embedding.Embedder
	cfg      *config.Config
}

func NewRAG(store *db.Store, local *chromemdb.Manager, embedder embedding.Embedder, cfg *config.Config) *RAG {
	return &RAG{store: store, local: local, embedder: embedder, cfg: cfg}
}

// Retrieve embeds the question and returns the topK nearest chunks.
func (r *RAG) Retrieve(ctx context.Context, question string, topK int) ([]Passage, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	if r.local != nil {
		return r.retrieveLocal(ctx, vector, topK)
	}
	if r.store != nil {
		return r.retrieveDB(ctx, vector, topK)
	}
	return nil, fmt.Errorf("no retrieval backend configured")
}

func (r *RAG) retrieveLocal(ctx context.Context, vector []float32, topK int) ([]Passage, error) {
	results, err := r.local.Search(ctx, vector, topK)
	if err != nil {
		return nil, err
	}
	passages := make([]Passage, 0, len(results))
	for _, res := range results {
		passages = append(passages, Passage{
			ChunkID:      res.ID,
			BookSlug:     res.Metadata["book_slug"],
			BookTitle:    res.Metadata["book_title"],
			ChapterTitle: res.Metadata["chapter_title"],
			Text:         res.Content,
			Score:        res.Similarity,
		})
	}
	return passages, nil
}

func (r *RAG) retrieveDB(ctx context.Context, vector []float32, topK int) ([]Passage, error) {
	rows, err := r.store.SearchChunks(ctx, embedding.FormatVector(vector), topK)
	if err != nil {
		return nil, err
	}
	passages := make([]Passage, 0, len(rows))
	for _, row := range rows {
		passages = append(passages, Passage{
			ChunkID:      row.ChunkID,
			BookSlug:     row.BookSlug,
			ChapterTitle: row.ChapterTitle,
			Text:         row.Text,
		})
	}
	return passages, nil
}

// Answer asks the chat model to answer the question from the retrieved
// passages only.
func (r *RAG) Answer(ctx context.Context, question string, passages []Passage) (string, error) {
	if r.cfg.ChatLLM.Model == "" {
		return "", fmt.Errorf("chat model is not configured")
	}

	var contextText strings.Builder
	for _, p := range passages {
		fmt.Fprintf(&contextText, "[%s / %s]\n%s\n\n", p.BookTitle, p.ChapterTitle, p.Text)
	}

	log.Debug().Str("model", r.cfg.ChatLLM.Model).Int("passages", len(passages)).Msg("Generating answer")

	llm, err := openai.New(
		openai.WithBaseURL(r.cfg.ChatLLM.BaseURL),
		openai.WithToken(strings.TrimPrefix(r.cfg.ChatLLM.Key, "Bearer ")),
		openai.WithModel(r.cfg.ChatLLM.Model),
	)
	if err != nil {
		return "", err
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: "You are a helpful assistant. Answer using only the provided book excerpts."}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: fmt.Sprintf("Excerpts:\n%s\nQuestion: %s", contextText.String(), question)}},
		},
	}

	resp, err := llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
