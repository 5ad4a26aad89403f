package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"

	"book-rag/internal/models"
)

const compress = false

// Manager wraps a local chromem-go index of book chunks, used when running
// without Postgres (dry runs, offline search).
type Manager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	encryptionKey string
	filePath      string
}

// NewManager opens (or creates) the persistent local index.
func NewManager(dbPath, collectionName string, inMemory bool, encryptionKey string) (*Manager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create local index: %v", err)
		}
	}

	m := &Manager{
		db:            db,
		dbPath:        dbPath,
		encryptionKey: encryptionKey,
		filePath:      dbPath + "/" + collectionName + ".chromem",
	}
	c, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	m.collection = c
	return m, nil
}

// AddChunk indexes one chunk record with a precomputed embedding. Chapter
// and book provenance go into document metadata for display at query time.
func (m *Manager) AddChunk(ctx context.Context, rec models.ChunkRecord, embedding []float32) error {
	doc := chromem.Document{
		ID:      rec.ChunkID,
		Content: rec.Text,
		Metadata: map[string]string{
			"book_slug":     rec.Book.Slug,
			"book_title":    rec.Book.Title,
			"chapter_title": rec.Chapter.Title,
			"chunk_index":   strconv.Itoa(rec.Chunk.Index),
			"text_sha256":   rec.Chunk.TextSHA256,
		},
		Embedding: embedding,
	}
	if err := m.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add chunk %s: %v", rec.ChunkID, err)
	}
	return nil
}

// Search returns the topK nearest chunks to the query embedding.
func (m *Manager) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]chromem.Result, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if count := m.collection.Count(); count < topK {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}
	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       topK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}
	return results, nil
}

// Count reports how many chunks the collection holds.
func (m *Manager) Count() int {
	return m.collection.Count()
}

// Export writes the collection to an encrypted file next to the index.
func (m *Manager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if err := m.db.ExportToFile(m.filePath, compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export local index: %v", err)
	}
	return nil
}

// Import restores a previously exported collection.
func (m *Manager) Import(ctx context.Context) error {
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey); err != nil {
		return fmt.Errorf("failed to import local index: %v", err)
	}
	return nil
}
