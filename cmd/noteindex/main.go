package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noteindex/noteindex/internal/config"
	"github.com/noteindex/noteindex/internal/embedder"
	"github.com/noteindex/noteindex/internal/host"
	"github.com/noteindex/noteindex/internal/indexer"
	"github.com/noteindex/noteindex/internal/logging"
	"github.com/noteindex/noteindex/internal/mcp"
	"github.com/noteindex/noteindex/internal/metrics"
	"github.com/noteindex/noteindex/internal/reference"
	"github.com/noteindex/noteindex/internal/sandbox"
	"github.com/noteindex/noteindex/internal/searcher"
	"github.com/noteindex/noteindex/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const embeddingCacheSize = 10000

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("noteindex MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "noteindex: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr; stdout is reserved for the MCP protocol
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "noteindex: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("noteindex starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.String("collection", cfg.Collection))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	m := metrics.New()

	gw := storage.NewGateway(storage.GatewayConfig{
		Root:        cfg.DataDir,
		IdleTimeout: cfg.IdleTimeout,
		SettlePause: storage.DefaultSettlePause,
	}, logger)
	defer gw.ForceTerminate()

	emb, err := embedder.New(ctx, embedder.Config{
		Provider:     cfg.EmbeddingProvider,
		JinaAPIKey:   cfg.JinaAPIKey,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		GeminiAPIKey: cfg.GeminiAPIKey,
		Model:        cfg.EmbeddingModel,
		BaseURL:      cfg.EmbeddingBaseURL,
		CacheSize:    embeddingCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()
	logger.Info("embedding provider ready", zap.String("identity", embedder.Identity(emb)))

	vault, err := host.NewVault(cfg.VaultDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}

	idx := indexer.New(gw, vault, emb, indexer.Config{
		Collection:    cfg.Collection,
		Persistent:    cfg.Persistent,
		BatchSize:     cfg.BatchSize,
		TokenBudget:   cfg.TokenBudget,
		CostThreshold: cfg.CostThreshold,
		CostPerChunk:  cfg.CostPerChunk,
	},
		indexer.WithLogger(logger),
		indexer.WithMetrics(m),
		indexer.WithProgress(indexer.ProgressFunc(func(p indexer.Progress) {
			if p.Message != "" {
				logger.Info(p.Message,
					zap.String("run_id", p.RunID),
					zap.String("state", string(p.State)),
					zap.Int("batches_done", p.BatchesDone),
					zap.Int("batches_total", p.BatchesTotal))
			}
		})),
	)
	defer idx.Close()

	srch := searcher.NewSearcher(gw, cfg.Collection, cfg.Persistent, emb,
		searcher.WithLogger(logger),
		searcher.WithMetrics(m))
	idx.OnComplete(func(*indexer.Statistics) { srch.InvalidateCache() })

	sbx, err := sandbox.New(sandbox.WithLogger(logger), sandbox.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create task sandbox: %w", err)
	}
	defer func() { _ = sbx.Close() }()

	fetcher := reference.NewFetcher(cfg.DataDir, reference.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	}, logger, m)
	defer func() { _ = fetcher.Close() }()

	server, err := mcp.NewServer(mcp.Deps{
		Gateway:    gw,
		Collection: cfg.Collection,
		Persistent: cfg.Persistent,
		Indexer:    idx,
		Searcher:   srch,
		Embedder:   emb,
		Tasks:      vault,
		Sandbox:    sbx,
		Fetcher:    fetcher,
		Reference:  reference.Source{URL: cfg.ReferenceURL, Version: cfg.ReferenceVersion},
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Stdin closing ends the session and everything with it
		defer stop()
		return server.Serve(gctx)
	})

	if cfg.Watch {
		watcher := host.NewWatcher(cfg.VaultDir, cfg.WatchDebounce, func(ctx context.Context) {
			// Background runs never approve cost or durability prompts
			stats, err := idx.Sync(ctx, indexer.StaticConfirmer{})
			switch {
			case err != nil:
				logger.Warn("background sync failed", zap.Error(err))
			case stats.Outcome == indexer.OutcomeDeclined:
				logger.Info("background sync needs confirmation", zap.String("reason", stats.DeclineReason))
			}
		}, logger)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr, logger) })
	}

	return g.Wait()
}
