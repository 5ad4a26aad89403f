package record

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"book-rag/internal/chunker"
	"book-rag/internal/models"
)

// Strategy tags every chunk produced by the paragraph windowing pipeline.
const Strategy = "paragraph-window"

// AssembleOptions controls windowing and record assembly.
type AssembleOptions struct {
	MaxTokens     int
	OverlapTokens int
	// InjectHeading prepends a "## <chapter title>" pseudo-paragraph before
	// windowing, so retrieval keeps chapter context. A first paragraph that
	// already equals the heading is not duplicated.
	InjectHeading bool
}

// ChunkID derives the globally unique chunk identity from the book slug and
// the sequential book-wide index.
func ChunkID(slug string, index int) string {
	return fmt.Sprintf("%s-%05d", slug, index)
}

// HashText returns the hex sha256 of the trimmed chunk text. Two chunks with
// identical text always hash the same.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// AssembleChapter windows one chapter's text into chunk records. The chunk
// index runs across the whole book, so the caller threads nextIndex through
// chapters in order; the advanced index is returned. Windows whose trimmed
// text is empty are dropped without consuming an index.
func AssembleChapter(book models.Book, chapter models.Chapter, nextIndex int, opts AssembleOptions) ([]models.ChunkRecord, int, error) {
	paragraphs := chunker.SplitParagraphs(chapter.Text)
	if opts.InjectHeading && chapter.Title != "" && len(paragraphs) > 0 {
		heading := "## " + chapter.Title
		if paragraphs[0] != heading {
			paragraphs = append([]string{heading}, paragraphs...)
		}
	}

	windows, err := chunker.BuildWindows(paragraphs, opts.MaxTokens, opts.OverlapTokens)
	if err != nil {
		return nil, nextIndex, err
	}

	var records []models.ChunkRecord
	for _, w := range windows {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		records = append(records, models.ChunkRecord{
			ChunkID: ChunkID(book.Slug, nextIndex),
			Book:    book,
			Chapter: chapter,
			Chunk: models.ChunkMeta{
				Index:                 nextIndex,
				Strategy:              Strategy,
				ApproxTokens:          w.ApproxTokens,
				MaxTokens:             opts.MaxTokens,
				OverlapTokens:         opts.OverlapTokens,
				StartParagraph:        w.Start,
				EndParagraphExclusive: w.EndExclusive,
				TextSHA256:            HashText(text),
			},
			Text: text,
		})
		nextIndex++
	}
	return records, nextIndex, nil
}

// WriteFile writes records as line-delimited JSON, one record per line.
func WriteFile(path string, records []models.ChunkRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encode chunk %s: %w", records[i].ChunkID, err)
		}
	}
	return w.Flush()
}

// ParseResult distinguishes a parsed record from a skipped line. Skip reasons
// are aggregated into the run summary instead of being discarded.
type ParseResult struct {
	Record *models.ChunkRecord
	Skip   string
}

// Parsed reports whether the line produced a usable record.
func (r ParseResult) Parsed() bool {
	return r.Record != nil
}

// ParseLine parses one line of a chunk file. Malformed lines and records
// missing any of chunk_id, book.slug or text are skipped, never fatal.
func ParseLine(line []byte) ParseResult {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return ParseResult{Skip: "empty line"}
	}

	var rec models.ChunkRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return ParseResult{Skip: "malformed json"}
	}
	switch {
	case rec.ChunkID == "":
		return ParseResult{Skip: "missing chunk_id"}
	case rec.Book.Slug == "":
		return ParseResult{Skip: "missing book slug"}
	case rec.Text == "":
		return ParseResult{Skip: "missing text"}
	}
	return ParseResult{Record: &rec}
}
