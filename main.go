package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edurag/edurag/api"
	"github.com/edurag/edurag/config"
	"github.com/edurag/edurag/database"
	"github.com/edurag/edurag/embeddings"
	"github.com/edurag/edurag/gateway"
	"github.com/edurag/edurag/ingestion"
	"github.com/edurag/edurag/lexical"
	"github.com/edurag/edurag/llm"
	"github.com/edurag/edurag/prompt"
	"github.com/edurag/edurag/rerank"
	"github.com/edurag/edurag/retrieval"
	"github.com/edurag/edurag/vectorstore"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	root := &cobra.Command{
		Use:           "edurag",
		Short:         "Hybrid retrieval Q&A over curriculum content",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(logger), gatewayCmd(logger), ingestCmd(logger), reindexCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Fatalf("%v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newQdrant(cfg config.Config) *vectorstore.QdrantStore {
	return vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		URL:        cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		Timeout:    cfg.QdrantTimeout,
	})
}

func serveCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the answering backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx, cancel := signalContext()
			defer cancel()

			pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("postgres connection: %w", err)
			}
			defer pool.Close()

			if err := database.EnsureSchema(ctx, pool); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			store := database.NewStore(pool)

			embedder, err := embeddings.NewEmbedder(cfg)
			if err != nil {
				return fmt.Errorf("embedder setup: %w", err)
			}

			generator, err := llm.NewProvider(cfg.LLM)
			if err != nil {
				return fmt.Errorf("llm setup: %w", err)
			}
			logger.Printf("using %s generative provider at %s", generator.Name(), cfg.LLM.URL)

			dense := newQdrant(cfg)
			lex := lexical.NewIndex(cfg.BleveIndexDir)
			cross := rerank.NewCrossEncoder(cfg.RerankURL, embedder)
			assembler := prompt.NewAssembler(cfg.PromptMaxTokens, cfg.PromptReservedAnswer, cfg.PromptOverhead)

			orch := retrieval.NewOrchestrator(embedder, dense, lex, cross, store, generator, assembler, cfg, logger)
			server := api.New(orch, store, cfg.APIKey, logger)

			logger.Printf("backend listening on %s", cfg.ListenAddr)
			return serveHTTP(ctx, cfg.ListenAddr, server)
		},
	}
}

func gatewayCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the session-aware gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx, cancel := signalContext()
			defer cancel()

			var sessions gateway.SessionStore
			if cfg.SessionRedisURL != "" {
				redisStore, err := gateway.NewRedisStore(cfg.SessionRedisURL)
				if err != nil {
					return fmt.Errorf("redis session store: %w", err)
				}
				sessions = redisStore
				logger.Printf("sessions persisted to redis")
			} else {
				sessions = gateway.NewMemoryStore()
			}

			gw := gateway.New(gateway.Options{
				BackendURL:      cfg.BackendURL,
				BackendTimeout:  cfg.BackendTimeout,
				SessionTTL:      cfg.SessionTTL,
				PayloadCacheMax: cfg.PayloadCacheMax,
				PayloadCacheTTL: cfg.PayloadCacheTTL,
			}, sessions, newQdrant(cfg), logger)

			logger.Printf("gateway listening on %s, backend %s", cfg.GatewayAddr, cfg.BackendURL)
			return serveHTTP(ctx, cfg.GatewayAddr, gw)
		},
	}
}

func ingestCmd(logger *log.Logger) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed a JSONL chunk file and upsert it into the dense index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx, cancel := signalContext()
			defer cancel()

			embedder, err := embeddings.NewEmbedder(cfg)
			if err != nil {
				return fmt.Errorf("embedder setup: %w", err)
			}

			svc := ingestion.NewService(embedder, newQdrant(cfg), cfg.Embeddings.Dimension, logger)
			return svc.IngestFile(ctx, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "chunks.jsonl", "path to line-delimited JSON chunk file")
	return cmd
}

func reindexCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the lexical index from the relational store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx, cancel := signalContext()
			defer cancel()

			pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("postgres connection: %w", err)
			}
			defer pool.Close()

			store := database.NewStore(pool)
			chunks, err := store.AllChunks(ctx)
			if err != nil {
				return fmt.Errorf("load chunks: %w", err)
			}

			ix := lexical.NewIndex(cfg.BleveIndexDir)
			if err := ix.Rebuild(chunks); err != nil {
				return fmt.Errorf("rebuild lexical index: %w", err)
			}
			logger.Printf("indexed %d chunks into %s", len(chunks), cfg.BleveIndexDir)
			return nil
		},
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
