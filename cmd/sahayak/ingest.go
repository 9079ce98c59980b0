package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/chunker"
	"github.com/swasthya-ai/sahayak/config"
	"github.com/swasthya-ai/sahayak/docstore"
	"github.com/swasthya-ai/sahayak/inference"
	"github.com/swasthya-ai/sahayak/types"
)

// ingestOptions 单次摄取的文档元数据
type ingestOptions struct {
	FilePath string
	Source   string
	Title    string
	Language string
	Category string
	Link     string
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	opts := ingestOptions{}
	fs.StringVar(&opts.FilePath, "file", "", "Path to the source document (plain text)")
	fs.StringVar(&opts.Source, "source", "", "Source credibility tag (who, mohfw, icmr, ...)")
	fs.StringVar(&opts.Title, "title", "", "Document title")
	fs.StringVar(&opts.Language, "language", "en", "Document language (en, hi, or, as)")
	fs.StringVar(&opts.Category, "category", "", "Optional topic category")
	fs.StringVar(&opts.Link, "link", "", "Optional source URL")
	fs.Parse(args)

	if opts.FilePath == "" || opts.Source == "" || opts.Title == "" {
		fmt.Fprintln(os.Stderr, "ingest requires --file, --source and --title")
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	indexed, err := ingestFile(context.Background(), cfg, opts, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %d chunks from %s\n", indexed, opts.FilePath)
}

// ingestFile 分块 → 嵌入 → 写入文档存储
func ingestFile(ctx context.Context, cfg *config.Config, opts ingestOptions, logger *zap.Logger) (int, error) {
	raw, err := os.ReadFile(opts.FilePath)
	if err != nil {
		return 0, fmt.Errorf("read source file: %w", err)
	}

	ck := chunker.New(chunker.Config{
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
	}, logger)
	docID := uuid.NewString()
	chunks := ck.Chunk(docID, string(raw))
	if len(chunks) == 0 {
		return 0, fmt.Errorf("source file %s produced no chunks", opts.FilePath)
	}

	infClient := inference.NewClient(inference.Config{
		BaseURL:    cfg.Inference.BaseURL,
		Timeout:    cfg.Inference.Timeout,
		EmbedModel: cfg.Inference.EmbedModel,
	}, nil, nil, logger)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := infClient.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	metadata := types.DocumentMetadata{
		Source:   opts.Source,
		Title:    opts.Title,
		Language: types.Language(opts.Language),
		Category: opts.Category,
		Link:     opts.Link,
	}
	docs := make([]docstore.IndexDocument, len(chunks))
	for i, c := range chunks {
		docs[i] = docstore.IndexDocument{
			ID:               fmt.Sprintf("%s-%d", docID, c.SequenceIndex),
			Content:          c.Text,
			SequenceIndex:    c.SequenceIndex,
			SourceDocumentID: c.SourceDocumentID,
			TokenEstimate:    c.TokenEstimate,
			Embedding:        vecs[i],
			Metadata:         metadata,
		}
	}

	storeClient := docstore.NewClient(docstore.Config{
		BaseURL: cfg.DocStore.BaseURL,
		APIKey:  cfg.DocStore.APIKey,
		Timeout: cfg.DocStore.Timeout,
	})
	indexed, err := storeClient.IndexDocuments(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}

	logger.Info("document ingested",
		zap.String("source_document_id", docID),
		zap.String("source", opts.Source),
		zap.Int("chunks", len(chunks)),
		zap.Int("indexed", indexed))
	return indexed, nil
}
