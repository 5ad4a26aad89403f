package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"book-rag/internal/models"
	"book-rag/internal/record"
)

// CanonicalFileName is the chunk file name the extractor writes; discovery
// orders files with this name ahead of everything else.
const CanonicalFileName = "chunks.jsonl"

// chunk files can hold long chapters on a single line
const maxLineBytes = 8 * 1024 * 1024

// Store is the persistence surface the ingest run writes through.
type Store interface {
	UpsertBook(ctx context.Context, book models.Book) error
	UpsertChunks(ctx context.Context, records []models.ChunkRecord) error
}

// Summary aggregates what one ingest run did; failure counts here are the
// operator's signal, the run itself keeps going.
type Summary struct {
	Files         int
	Lines         int
	Records       int
	Upserted      int
	Books         int
	FailedBatches int
	SkippedLines  map[string]int
}

func (s *Summary) skip(reason string) {
	if s.SkippedLines == nil {
		s.SkippedLines = map[string]int{}
	}
	s.SkippedLines[reason]++
}

// Skipped is the total number of skipped lines across all reasons.
func (s *Summary) Skipped() int {
	n := 0
	for _, c := range s.SkippedLines {
		n += c
	}
	return n
}

// Discover walks root recursively and returns every .jsonl chunk file,
// canonically named files first, then lexically.
func Discover(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover chunk files under %s: %w", root, err)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ci := filepath.Base(files[i]) == CanonicalFileName
		cj := filepath.Base(files[j]) == CanonicalFileName
		if ci != cj {
			return ci
		}
		return files[i] < files[j]
	})
	return files, nil
}

// Run ingests every chunk file under root into the store. Malformed lines
// are skipped, each distinct book slug is upserted once (first occurrence
// triggers it), and chunk rows go in batches of batchSize. A failed batch is
// counted and logged, then the run continues with the next batch.
func Run(ctx context.Context, store Store, root string, batchSize int, dryRun bool) (*Summary, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	files, err := Discover(root)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	seenBooks := map[string]bool{}

	for _, file := range files {
		if err := ingestFile(ctx, store, file, batchSize, dryRun, seenBooks, summary); err != nil {
			log.Error().Err(err).Str("file", file).Msg("Error reading chunk file")
			continue
		}
		summary.Files++
	}
	summary.Books = len(seenBooks)
	return summary, nil
}

func ingestFile(ctx context.Context, store Store, file string, batchSize int, dryRun bool, seenBooks map[string]bool, summary *Summary) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	flush := func(batch []models.ChunkRecord) {
		if len(batch) == 0 || dryRun {
			return
		}
		if err := store.UpsertChunks(ctx, batch); err != nil {
			summary.FailedBatches++
			log.Error().Err(err).Str("file", file).Int("batch_size", len(batch)).Msg("Batch upsert failed, continuing")
			return
		}
		summary.Upserted += len(batch)
	}

	var batch []models.ChunkRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		summary.Lines++
		res := record.ParseLine(scanner.Bytes())
		if !res.Parsed() {
			summary.skip(res.Skip)
			continue
		}
		summary.Records++

		rec := res.Record
		if !seenBooks[rec.Book.Slug] {
			seenBooks[rec.Book.Slug] = true
			if !dryRun {
				if err := store.UpsertBook(ctx, rec.Book); err != nil {
					log.Error().Err(err).Str("book", rec.Book.Slug).Msg("Book upsert failed, continuing")
				}
			}
		}

		batch = append(batch, *rec)
		if len(batch) >= batchSize {
			flush(batch)
			batch = nil
		}
	}
	if err := scanner.Err(); err != nil {
		flush(batch)
		return err
	}
	flush(batch)
	return nil
}
