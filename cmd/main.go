package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"book-rag/internal/chromemdb"
	"book-rag/internal/config"
	"book-rag/internal/db"
	"book-rag/internal/embedding"
	"book-rag/internal/epub"
	"book-rag/internal/helper"
	"book-rag/internal/ingest"
	"book-rag/internal/models"
	"book-rag/internal/rag"
	"book-rag/internal/record"
	"book-rag/internal/runlog"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to a book file to extract and chunk")
	outDir := flag.String("out", "./chunks", "Directory for chunk files")
	ingestDir := flag.String("ingest", "", "Directory of chunk files to upsert into Postgres")
	embedFlag := flag.Bool("embed", false, "Embed chunks that do not have a vector yet")
	query := flag.String("query", "", "Question to search the ingested chunks with")
	ask := flag.Bool("ask", false, "Also generate an answer from the retrieved chunks")
	local := flag.Bool("local", false, "Use the local vector index instead of Postgres")
	dryRun := flag.Bool("dry-run", false, "Dry run, do not write to storage")
	debug := flag.Bool("debug", false, "Enable debug logging")
	maxTokens := flag.Int("max-tokens", 0, "Approximate token budget per chunk (overrides config)")
	overlapTokens := flag.Int("overlap-tokens", -1, "Approximate token overlap between chunks (overrides config)")
	batchSize := flag.Int("batch-size", 0, "Chunk upsert batch size (overrides config)")
	filter := flag.String("filter", "", "Optional SQL fragment restricting which chunks to embed")
	limit := flag.Int("limit", 0, "Maximum number of chunks to embed, 0 for all")
	delayMS := flag.Int("delay-ms", -1, "Fixed sleep between embedding calls in milliseconds (overrides config)")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if *maxTokens > 0 {
		cfg.Chunking.MaxTokens = *maxTokens
	}
	if *overlapTokens >= 0 {
		cfg.Chunking.OverlapTokens = *overlapTokens
	}
	if *batchSize > 0 {
		cfg.Ingest.BatchSize = *batchSize
	}
	if *delayMS >= 0 {
		cfg.Ingest.DelayMS = *delayMS
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	switch {
	case *filePath != "":
		extractBook(ctx, cfg, *filePath, *outDir, *dryRun)
	case *ingestDir != "":
		runIngest(ctx, cfg, *ingestDir, *dryRun)
	case *embedFlag && *local:
		embedLocal(ctx, cfg, *outDir, *limit)
	case *embedFlag:
		runEmbed(ctx, cfg, *filter, *limit)
	case *query != "":
		runQuery(ctx, cfg, *query, *ask, *local)
	default:
		flag.Usage()
	}
}

// extractBook converts one book into a chunk file under out/<slug>/.
func extractBook(ctx context.Context, cfg *config.Config, filePath, outDir string, dryRun bool) {
	rl := runlog.New("extract")

	book, err := epub.ExtractBook(filePath, time.Now().UTC())
	if err != nil {
		log.Fatal().Err(err).Msgf("Failed to extract book: %s", filePath)
	}
	log.Info().Str("book", book.Slug).Int("chapters", len(book.Chapters)).Msg("Extracted book")

	opts := record.AssembleOptions{
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
		InjectHeading: cfg.Chunking.InjectHeading,
	}

	var records []models.ChunkRecord
	nextIndex := 0
	for _, chapter := range book.Chapters {
		chapterRecords, n, err := record.AssembleChapter(*book, chapter, nextIndex, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("Error chunking chapter")
		}
		nextIndex = n
		records = append(records, chapterRecords...)
	}

	rl.Processed = len(book.Chapters)
	rl.Succeeded = len(records)
	if len(records) > 0 {
		rl.SetSample(records[0])
	}

	if dryRun {
		if len(records) > 0 {
			helper.PrettyPrint(records[0])
		}
		log.Info().Int("chunks", len(records)).Msg("Dry run, chunk file not written")
	} else {
		dir := filepath.Join(outDir, book.Slug)
		if err := helper.CreateFolder(dir); err != nil {
			log.Fatal().Err(err).Msg("Error creating output folder")
		}
		path := filepath.Join(dir, ingest.CanonicalFileName)
		if err := record.WriteFile(path, records); err != nil {
			log.Fatal().Err(err).Msg("Error writing chunk file")
		}
		log.Info().Str("path", path).Int("chunks", len(records)).Msg("Wrote chunk file")
	}

	writeRunLog(rl, cfg)
}

// runIngest upserts every chunk file under dir into Postgres.
func runIngest(ctx context.Context, cfg *config.Config, dir string, dryRun bool) {
	rl := runlog.New("ingest")

	var store ingest.Store
	if !dryRun {
		bdb, err := connect(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to database")
		}
		defer bdb.Close()
		store = bdb
	}

	summary, err := ingest.Run(ctx, store, dir, cfg.Ingest.BatchSize, dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting chunk files")
	}

	rl.Processed = summary.Records
	rl.Succeeded = summary.Upserted
	rl.Failed = summary.FailedBatches
	rl.SkipReasons = summary.SkippedLines
	writeRunLog(rl, cfg)

	log.Info().
		Int("files", summary.Files).
		Int("records", summary.Records).
		Int("upserted", summary.Upserted).
		Int("skipped", summary.Skipped()).
		Int("failed_batches", summary.FailedBatches).
		Msg("Ingest finished")
}

// runEmbed fills in embeddings for chunks that do not have one yet.
func runEmbed(ctx context.Context, cfg *config.Config, filter string, limit int) {
	rl := runlog.New("embed")

	store, err := connect(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	defer store.Close()

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	delay := time.Duration(cfg.Ingest.DelayMS) * time.Millisecond
	res, err := embedding.EmbedPending(ctx, embedder, store, cfg.EmbedLLM.Model, filter, limit, delay)
	if err != nil {
		log.Fatal().Err(err).Msg("Error embedding chunks")
	}

	rl.Processed = res.Processed
	rl.Succeeded = res.Succeeded
	rl.Failed = res.Failed
	writeRunLog(rl, cfg)

	log.Info().Int("processed", res.Processed).Int("succeeded", res.Succeeded).Int("failed", res.Failed).Msg("Embedding finished")
}

// embedLocal indexes chunk files into the local chromem index instead of
// Postgres.
func embedLocal(ctx context.Context, cfg *config.Config, dir string, limit int) {
	rl := runlog.New("embed-local")

	manager, err := chromemdb.NewManager(cfg.Local.DBPath, cfg.Local.Collection, false, cfg.Local.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating local index")
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	files, err := ingest.Discover(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Error discovering chunk files")
	}

	delay := time.Duration(cfg.Ingest.DelayMS) * time.Millisecond
	for _, file := range files {
		records, skipped, err := readChunkFile(file)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("Error reading chunk file")
			continue
		}
		for reason, n := range skipped {
			if rl.SkipReasons == nil {
				rl.SkipReasons = map[string]int{}
			}
			rl.SkipReasons[reason] += n
		}
		for _, rec := range records {
			if limit > 0 && rl.Processed >= limit {
				break
			}
			rl.Processed++
			vector, err := embedder.EmbedQuery(ctx, rec.Text)
			if err != nil {
				rl.Failed++
				log.Error().Err(err).Str("chunk_id", rec.ChunkID).Msg("Embedding call failed, continuing")
				continue
			}
			if err := manager.AddChunk(ctx, rec, vector); err != nil {
				rl.Failed++
				log.Error().Err(err).Str("chunk_id", rec.ChunkID).Msg("Indexing chunk failed, continuing")
				continue
			}
			rl.Succeeded++
			if delay > 0 {
				time.Sleep(delay)
			}
		}
	}

	if cfg.Local.EncryptionKey != "" {
		if err := manager.Export(ctx); err != nil {
			log.Error().Err(err).Msg("Error exporting local index")
		}
	}

	writeRunLog(rl, cfg)
	log.Info().Int("indexed", rl.Succeeded).Int("failed", rl.Failed).Msg("Local indexing finished")
}

// runQuery retrieves the nearest chunks for a question, optionally asking
// the chat model for an answer grounded in them.
func runQuery(ctx context.Context, cfg *config.Config, question string, ask, local bool) {
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	var r *rag.RAG
	if local {
		manager, err := chromemdb.NewManager(cfg.Local.DBPath, cfg.Local.Collection, false, cfg.Local.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Error opening local index")
		}
		r = rag.NewRAG(nil, manager, embedder, cfg)
	} else {
		store, err := connect(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to database")
		}
		defer store.Close()
		r = rag.NewRAG(store.Store, nil, embedder, cfg)
	}

	passages, err := r.Retrieve(ctx, question, cfg.Local.TopK)
	if err != nil {
		log.Fatal().Err(err).Msg("Error retrieving chunks")
	}

	fmt.Printf("Query: %s\n\n", question)
	for i, p := range passages {
		fmt.Printf("--- %d. %s (%s)\n%s\n\n", i+1, p.ChunkID, p.ChapterTitle, p.Text)
	}

	if ask {
		answer, err := r.Answer(ctx, question, passages)
		if err != nil {
			log.Fatal().Err(err).Msg("Error generating answer")
		}
		fmt.Printf("Answer:\n%s\n", answer)
	}
}

func readChunkFile(path string) ([]models.ChunkRecord, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var records []models.ChunkRecord
	skipped := map[string]int{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		res := record.ParseLine(scanner.Bytes())
		if !res.Parsed() {
			skipped[res.Skip]++
			continue
		}
		records = append(records, *res.Record)
	}
	return records, skipped, scanner.Err()
}

// dbStore bundles the bun handle with the Store so callers can close it.
type dbStore struct {
	*db.Store
	close func() error
}

func (s *dbStore) Close() {
	if err := s.close(); err != nil {
		log.Warn().Err(err).Msg("Error closing database")
	}
}

func connect(ctx context.Context, cfg *config.Config) (*dbStore, error) {
	sqldb, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	bdb := db.NewDB(sqldb, cfg.Database.Debug)
	if err := db.InitDB(ctx, bdb); err != nil {
		bdb.Close()
		return nil, err
	}
	return &dbStore{Store: db.NewStore(bdb), close: bdb.Close}, nil
}

func writeRunLog(rl *runlog.RunLog, cfg *config.Config) {
	if path, err := rl.Write(cfg.LogDir); err != nil {
		log.Warn().Err(err).Msg("Error writing run log")
	} else {
		log.Info().Str("path", path).Msg("Wrote run log")
	}
}
