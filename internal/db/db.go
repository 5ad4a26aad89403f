package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"book-rag/internal/config"
	"book-rag/internal/models"
)

// Book is the denormalized book-provenance row, one per ingested book.
type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	BookSlug       string    `bun:"book_slug,pk"`
	Title          string    `bun:"title"`
	Author         string    `bun:"author"`
	Language       string    `bun:"language"`
	Publisher      string    `bun:"publisher"`
	ISBN           string    `bun:"isbn"`
	SourceEpubPath string    `bun:"source_epub_path"`
	ExtractedAt    time.Time `bun:"extracted_at,nullzero"`
}

// Chunk is one persisted text window. Embedding columns stay NULL until the
// embedding pass fills them in.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ChunkID               string     `bun:"chunk_id,pk"`
	BookSlug              string     `bun:"book_slug,notnull"`
	ChapterOrder          int        `bun:"chapter_order"`
	ChapterID             string     `bun:"chapter_id"`
	ChapterTitle          string     `bun:"chapter_title"`
	ChapterFile           string     `bun:"chapter_file"`
	ChapterHref           string     `bun:"chapter_href"`
	ChunkIndex            int        `bun:"chunk_index"`
	ChunkStrategy         string     `bun:"chunk_strategy"`
	ApproxTokens          int        `bun:"approx_tokens"`
	MaxTokens             int        `bun:"max_tokens"`
	OverlapTokens         int        `bun:"overlap_tokens"`
	StartParagraph        int        `bun:"start_paragraph"`
	EndParagraphExclusive int        `bun:"end_paragraph_exclusive"`
	TextSHA256            string     `bun:"text_sha256"`
	Text                  string     `bun:"text,notnull"`
	Embedding             string     `bun:"embedding,nullzero,type:vector(768)"`
	EmbeddingModel        string     `bun:"embedding_model,nullzero"`
	EmbeddingCreatedAt    *time.Time `bun:"embedding_created_at,nullzero"`
}

// ConnectDB opens a Postgres connection. A full DSN in the config wins;
// otherwise the connection is built from the individual host/port fields.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL != "" {
		return sql.Open("postgres", cfg.URL)
	}
	if cfg.Name == "" || cfg.User == "" {
		return nil, fmt.Errorf("database name and user are required")
	}
	opts := []pgdriver.Option{
		pgdriver.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		pgdriver.WithDatabase(cfg.Name),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
	}
	if cfg.SSLMode == "disable" {
		opts = append(opts, pgdriver.WithInsecure(true))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// InitDB creates the books and chunks tables if they do not exist.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*Book)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create books table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Chunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}
	return nil
}

// Store wraps a bun DB with the ingest and embedding operations.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// UpsertBook inserts or overwrites the book row; latest write wins.
func (s *Store) UpsertBook(ctx context.Context, book models.Book) error {
	row := &Book{
		BookSlug:       book.Slug,
		Title:          book.Title,
		Author:         book.Author,
		Language:       book.Language,
		Publisher:      book.Publisher,
		ISBN:           book.ISBN,
		SourceEpubPath: book.SourcePath,
		ExtractedAt:    book.ExtractedAt,
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (book_slug) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("author = EXCLUDED.author").
		Set("language = EXCLUDED.language").
		Set("publisher = EXCLUDED.publisher").
		Set("isbn = EXCLUDED.isbn").
		Set("source_epub_path = EXCLUDED.source_epub_path").
		Set("extracted_at = EXCLUDED.extracted_at").
		Exec(ctx)
	return err
}

// UpsertChunks inserts or overwrites chunk rows keyed by chunk_id. Embedding
// columns are left untouched so re-ingesting a chunk file does not wipe
// already computed vectors.
func (s *Store) UpsertChunks(ctx context.Context, records []models.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]Chunk, len(records))
	for i, rec := range records {
		rows[i] = Chunk{
			ChunkID:               rec.ChunkID,
			BookSlug:              rec.Book.Slug,
			ChapterOrder:          rec.Chapter.Order,
			ChapterID:             rec.Chapter.ID,
			ChapterTitle:          rec.Chapter.Title,
			ChapterFile:           rec.Chapter.File,
			ChapterHref:           rec.Chapter.Href,
			ChunkIndex:            rec.Chunk.Index,
			ChunkStrategy:         rec.Chunk.Strategy,
			ApproxTokens:          rec.Chunk.ApproxTokens,
			MaxTokens:             rec.Chunk.MaxTokens,
			OverlapTokens:         rec.Chunk.OverlapTokens,
			StartParagraph:        rec.Chunk.StartParagraph,
			EndParagraphExclusive: rec.Chunk.EndParagraphExclusive,
			TextSHA256:            rec.Chunk.TextSHA256,
			Text:                  rec.Text,
		}
	}
	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (chunk_id) DO UPDATE").
		Set("book_slug = EXCLUDED.book_slug").
		Set("chapter_order = EXCLUDED.chapter_order").
		Set("chapter_id = EXCLUDED.chapter_id").
		Set("chapter_title = EXCLUDED.chapter_title").
		Set("chapter_file = EXCLUDED.chapter_file").
		Set("chapter_href = EXCLUDED.chapter_href").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("chunk_strategy = EXCLUDED.chunk_strategy").
		Set("approx_tokens = EXCLUDED.approx_tokens").
		Set("max_tokens = EXCLUDED.max_tokens").
		Set("overlap_tokens = EXCLUDED.overlap_tokens").
		Set("start_paragraph = EXCLUDED.start_paragraph").
		Set("end_paragraph_exclusive = EXCLUDED.end_paragraph_exclusive").
		Set("text_sha256 = EXCLUDED.text_sha256").
		Set(`text = EXCLUDED.text`).
		Exec(ctx)
	return err
}

// Pending returns chunks that still need an embedding, in stable chunk_id
// order. filter is an optional raw SQL fragment ANDed onto the where clause;
// limit <= 0 means no limit.
func (s *Store) Pending(ctx context.Context, filter string, limit int) ([]models.PendingChunk, error) {
	var rows []Chunk
	q := s.db.NewSelect().
		Model(&rows).
		Column("chunk_id", "text").
		Where("embedding IS NULL").
		Order("chunk_id")
	if filter != "" {
		q = q.Where(filter)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	pending := make([]models.PendingChunk, len(rows))
	for i, row := range rows {
		pending[i] = models.PendingChunk{ChunkID: row.ChunkID, Text: row.Text}
	}
	return pending, nil
}

// SaveEmbedding attaches a serialized vector to one chunk row.
func (s *Store) SaveEmbedding(ctx context.Context, chunkID, vector, model string, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*Chunk)(nil)).
		Set("embedding = ?", vector).
		Set("embedding_model = ?", model).
		Set("embedding_created_at = ?", at).
		Where("chunk_id = ?", chunkID).
		Exec(ctx)
	return err
}

// SearchChunks orders embedded chunks by vector distance to the query
// vector literal.
func (s *Store) SearchChunks(ctx context.Context, vector string, limit int) ([]Chunk, error) {
	var rows []Chunk
	err := s.db.NewSelect().
		Model(&rows).
		Column("chunk_id", "book_slug", "chapter_title", "text").
		Where("embedding IS NOT NULL").
		OrderExpr("embedding <-> ?", vector).
		Limit(limit).
		Scan(ctx)
	return rows, err
}
