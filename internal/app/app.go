// Package app builds the long-lived chapterwatch services from configuration
// and owns their shutdown.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/api"
	"github.com/JakeFAU/chapterwatch/internal/archive"
	"github.com/JakeFAU/chapterwatch/internal/chapter"
	"github.com/JakeFAU/chapterwatch/internal/clock"
	"github.com/JakeFAU/chapterwatch/internal/config"
	"github.com/JakeFAU/chapterwatch/internal/document"
	"github.com/JakeFAU/chapterwatch/internal/extractor"
	"github.com/JakeFAU/chapterwatch/internal/hash/sha256"
	"github.com/JakeFAU/chapterwatch/internal/id/uuid"
	"github.com/JakeFAU/chapterwatch/internal/ledger"
	fileledger "github.com/JakeFAU/chapterwatch/internal/ledger/file"
	pgledger "github.com/JakeFAU/chapterwatch/internal/ledger/postgres"
	"github.com/JakeFAU/chapterwatch/internal/pipeline"
	"github.com/JakeFAU/chapterwatch/internal/provider/direct"
	"github.com/JakeFAU/chapterwatch/internal/provider/mega"
	pubsubpublisher "github.com/JakeFAU/chapterwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/chapterwatch/internal/ratelimit"
	"github.com/JakeFAU/chapterwatch/internal/resolver"
	collyresolver "github.com/JakeFAU/chapterwatch/internal/resolver/colly"
	"github.com/JakeFAU/chapterwatch/internal/resolver/headless"
	"github.com/JakeFAU/chapterwatch/internal/storage/gcs"
	"github.com/JakeFAU/chapterwatch/internal/storage/local"
	"github.com/JakeFAU/chapterwatch/internal/watcher"
)

// App holds the services shared by the CLI commands.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	ledger      *ledger.Ledger
	coordinator *pipeline.Coordinator
	watcher     *watcher.Watcher

	closers []func()
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Ledger returns the processed-link ledger.
func (a *App) Ledger() *ledger.Ledger {
	return a.ledger
}

// Coordinator returns the ingestion pipeline.
func (a *App) Coordinator() *pipeline.Coordinator {
	return a.coordinator
}

// Watcher returns the feed watcher.
func (a *App) Watcher() *watcher.Watcher {
	return a.watcher
}

// StatusServer builds the status server, or returns nil when server.addr is unset.
func (a *App) StatusServer() *api.Server {
	if a.cfg.Server.Addr == "" {
		return nil
	}
	return api.NewServer(api.Config{
		Addr:   a.cfg.Server.Addr,
		APIKey: a.cfg.Server.APIKey,
	}, a.ledger, a.watcher, a.logger.Named("api"))
}

// OpenLedger opens the configured ledger backend and loads its entries.
func OpenLedger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*ledger.Ledger, error) {
	var (
		store ledger.Store
		err   error
	)
	switch cfg.Ledger.Backend {
	case "postgres":
		logger.Info("using postgres ledger", zap.String("table", cfg.Ledger.Table))
		store, err = pgledger.New(ctx, pgledger.Config{DSN: cfg.Ledger.DSN, Table: cfg.Ledger.Table})
	case "file":
		logger.Info("using file ledger", zap.String("path", cfg.Ledger.Path))
		store, err = fileledger.New(fileledger.Config{Path: cfg.Ledger.Path})
	default:
		err = fmt.Errorf("unknown ledger backend: %s", cfg.Ledger.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init ledger store: %w", err)
	}
	l, err := ledger.Open(ctx, store, logger.Named("ledger"))
	if err != nil {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("close ledger store after failed load", zap.Error(cerr))
		}
		return nil, err
	}
	return l, nil
}

// New wires every service from cfg. The caller must Close the App.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("feed", cfg.Feed.URL),
		zap.String("output", cfg.Output.Dir),
		zap.Int("ledger_entries", a.ledger.Len()),
	)
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	l, err := OpenLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.ledger = l
	a.closers = append(a.closers, func() {
		if err := l.Close(); err != nil {
			logger.Warn("close ledger", zap.Error(err))
		}
	})

	linkResolver, err := a.buildResolver()
	if err != nil {
		return err
	}

	providers := []chapter.Provider{
		mega.New(mega.Config{
			UserAgent:       cfg.Feed.UserAgent,
			Timeout:         cfg.HTTPTimeout(),
			DownloadTimeout: cfg.DownloadTimeout(),
		}, logger.Named("mega")),
	}
	if cfg.Fetch.DirectLinks {
		providers = append(providers, direct.New(direct.Config{
			UserAgent: cfg.Feed.UserAgent,
			Timeout:   cfg.DownloadTimeout(),
		}, logger.Named("direct")))
	}
	fetcher := archive.New(archive.Config{
		RecoveryDelay: cfg.RecoveryDelay(),
		Limiter:       ratelimit.New(ratelimit.Config{MinInterval: cfg.MinFetchInterval()}),
	}, logger.Named("fetch"), providers...)

	extract, err := extractor.New(extractor.Config{
		Backend:   cfg.Extract.Backend,
		UnrarPath: cfg.Extract.UnrarPath,
	}, logger.Named("extract"))
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}

	output, err := local.New(local.Config{BaseDir: cfg.Output.Dir})
	if err != nil {
		return fmt.Errorf("init output store: %w", err)
	}

	deps := pipeline.Deps{
		Ledger:    l,
		Resolver:  linkResolver,
		Fetcher:   fetcher,
		Extractor: extract,
		Assembler: document.New(document.Config{}, logger.Named("document")),
		Output:    output,
		Hasher:    sha256.New(),
		IDs:       uuid.NewGenerator(),
		Clock:     clock.System{},
	}
	if deps.Mirror, err = a.buildMirror(ctx); err != nil {
		return err
	}
	if deps.Publisher, err = a.buildPublisher(ctx); err != nil {
		return err
	}

	coordinator, err := pipeline.New(pipeline.Config{
		Series:      cfg.Output.Series,
		ScratchDir:  cfg.Scratch.Dir,
		NotifyTopic: cfg.Notify.Topic,
	}, deps, logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	a.coordinator = coordinator

	source, err := watcher.NewFeedSource(watcher.FeedConfig{
		URL:       cfg.Feed.URL,
		UserAgent: cfg.Feed.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})
	if err != nil {
		return fmt.Errorf("init feed source: %w", err)
	}
	w, err := watcher.New(watcher.Config{
		Interval: cfg.Interval(),
		MaxAge:   cfg.MaxAge(),
		Keyword:  cfg.Feed.Keyword,
	}, source, coordinator, l, clock.System{}, logger.Named("watcher"))
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	a.watcher = w
	return nil
}

func (a *App) buildResolver() (chapter.LinkResolver, error) {
	matcher, err := resolver.NewMatcher(a.cfg.Resolver.ProviderDomain)
	if err != nil {
		return nil, fmt.Errorf("init link matcher: %w", err)
	}
	static := collyresolver.New(collyresolver.Config{
		UserAgent: a.cfg.Feed.UserAgent,
		Timeout:   a.cfg.HTTPTimeout(),
	}, matcher, a.logger.Named("resolver"))
	if a.cfg.Resolver.Mode == "static" {
		return static, nil
	}

	rendered := headless.New(headless.Config{
		UserAgent:         a.cfg.Feed.UserAgent,
		NavigationTimeout: a.cfg.HTTPTimeout(),
		SettleDelay:       a.cfg.SettleDelay(),
	}, matcher, a.logger.Named("resolver"))
	a.closers = append(a.closers, rendered.Close)
	switch a.cfg.Resolver.Mode {
	case "headless":
		return rendered, nil
	case "auto":
		return resolver.NewPromoting(static, rendered, resolver.NewRenderHints(matcher), a.logger.Named("resolver"))
	default:
		return nil, fmt.Errorf("unknown resolver mode: %s", a.cfg.Resolver.Mode)
	}
}

// buildMirror returns nil when no bucket is configured.
func (a *App) buildMirror(ctx context.Context) (chapter.BlobStore, error) {
	if a.cfg.Mirror.GCSBucket == "" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	})
	store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Mirror.GCSBucket, Prefix: a.cfg.Mirror.Prefix})
	if err != nil {
		return nil, fmt.Errorf("init gcs mirror: %w", err)
	}
	a.logger.Info("mirroring documents to gcs", zap.String("bucket", a.cfg.Mirror.GCSBucket))
	return store, nil
}

// buildPublisher returns nil when no topic is configured.
func (a *App) buildPublisher(ctx context.Context) (chapter.Publisher, error) {
	if a.cfg.Notify.Topic == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client)
	a.closers = append(a.closers, func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	a.logger.Info("publishing chapter events", zap.String("topic", a.cfg.Notify.Topic))
	return publisher, nil
}

// Close releases services in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
