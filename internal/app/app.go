// Package app builds the indexer's long-lived services from configuration
// and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/api"
	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/clock/system"
	"github.com/JakeFAU/mixtape-indexer/internal/config"
	"github.com/JakeFAU/mixtape-indexer/internal/contract"
	"github.com/JakeFAU/mixtape-indexer/internal/directory"
	collyfetcher "github.com/JakeFAU/mixtape-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/mixtape-indexer/internal/hash/sha256"
	"github.com/JakeFAU/mixtape-indexer/internal/id/uuid"
	"github.com/JakeFAU/mixtape-indexer/internal/media"
	"github.com/JakeFAU/mixtape-indexer/internal/metadata"
	"github.com/JakeFAU/mixtape-indexer/internal/metrics"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/policy/ratelimit"
	"github.com/JakeFAU/mixtape-indexer/internal/progress"
	"github.com/JakeFAU/mixtape-indexer/internal/progress/sinks"
	"github.com/JakeFAU/mixtape-indexer/internal/publish"
	"github.com/JakeFAU/mixtape-indexer/internal/resolver"
	"github.com/JakeFAU/mixtape-indexer/internal/retry"
	"github.com/JakeFAU/mixtape-indexer/internal/scheduler"
	"github.com/JakeFAU/mixtape-indexer/internal/storage/gcs"
	"github.com/JakeFAU/mixtape-indexer/internal/storage/local"
	"github.com/JakeFAU/mixtape-indexer/internal/storage/memory"
	"github.com/JakeFAU/mixtape-indexer/internal/storage/postgres"
	"github.com/JakeFAU/mixtape-indexer/internal/store"
	"github.com/JakeFAU/mixtape-indexer/internal/tasks"
	"github.com/JakeFAU/mixtape-indexer/internal/telemetry"
)

// Version is reported in trace resources.
var Version = "dev"

// App holds the shared, long-lived services. It is built once at startup and
// handed to the commands that need it.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Chains    *chain.Registry
	Layout    store.Layout
	Indexed   *store.IndexedSet
	Directory *store.DirectoryFile
	Records   *store.RecordStore
	Fetcher   *metadata.Fetcher
	Builder   *directory.Builder
	Scheduler *scheduler.Scheduler
	Status    *sinks.StatusSink
	Server    *api.Server

	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func(ctx context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	exporters  []sdktrace.SpanExporter
	gitRunner  publish.Runner
}

// WithRegisterer registers progress collectors somewhere other than the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithSpanExporter ships scheduler spans to exp.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporters = append(o.exporters, exp)
	}
}

// WithGitRunner replaces the git command runner.
func WithGitRunner(r publish.Runner) Option {
	return func(o *options) {
		o.gitRunner = r
	}
}

// New wires every service described by cfg. It fails fast: anything built
// before the failing step is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer, gitRunner: publish.ExecRunner{}}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	logger.Info("initializing indexer services", zap.String("storage_root", cfg.Storage.Root))

	a.Chains, err = chain.NewRegistry(cfg.ChainTable())
	if err != nil {
		return nil, fmt.Errorf("chains: %w", err)
	}
	ordered, err := a.Chains.Ordered(cfg.Scheduler.Chains...)
	if err != nil {
		return nil, fmt.Errorf("scheduler chains: %w", err)
	}

	tp, err := telemetry.InitTracerProvider(ctx, Version, o.exporters...)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.addCloser("tracer", tp.Shutdown)

	metrics.Init()
	a.Status = sinks.NewStatusSink()
	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink, a.Status)
	a.addCloser("progress hub", hub.Close)

	clock := system.New()
	limiter := ratelimit.New(ratelimit.Config{
		RPS:     cfg.HTTP.RateLimitRPS,
		Burst:   cfg.HTTP.RateLimitBurst,
		OnDelay: metrics.ObserveRateLimitDelay,
	})
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		Observe:   metrics.ObserveFetch,
	}, limiter)

	res, err := resolver.New(cfg.IPFS.Gateways, cfg.IPFS.PinningPrefixes)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	reader, err := contract.NewReader(logger)
	if err != nil {
		return nil, fmt.Errorf("contract reader: %w", err)
	}
	a.addCloser("contract reader", func(context.Context) error {
		reader.Close()
		return nil
	})

	a.Fetcher = metadata.New(reader, res, httpFetcher, retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
	}, logger, metadata.WithEmitter(hub), metadata.WithClock(clock))

	a.Layout = store.Layout{Root: cfg.Storage.Root}
	a.Indexed = store.NewIndexedSet(a.Layout)
	a.Directory = store.NewDirectoryFile(a.Layout)
	a.Records, err = store.NewRecordStore(a.Layout, store.RecordCollection, clock)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	a.Builder = directory.New(a.Indexed, a.Directory, reader, a.Fetcher, res, logger, directory.WithEmitter(hub))

	var taskSource nft.TaskSource
	if cfg.TaskSource.BaseURL != "" {
		src, err := tasks.New(tasks.Config{BaseURL: cfg.TaskSource.BaseURL, APIKey: cfg.TaskSource.APIKey}, httpFetcher, logger)
		if err != nil {
			return nil, fmt.Errorf("task source: %w", err)
		}
		taskSource = src
	} else {
		logger.Warn("task_source.base_url is not set; scheduled chains will fail to list contracts")
	}

	publisher, err := a.buildPublisher(ctx, cfg, o, clock)
	if err != nil {
		return nil, err
	}

	schedOpts := []scheduler.Option{
		scheduler.WithEmitter(hub),
		scheduler.WithClock(clock),
		scheduler.WithIDGenerator(uuid.New()),
		scheduler.WithCIDFetcher(a.Fetcher),
		scheduler.WithTracer(telemetry.Tracer("scheduler")),
	}

	var ready func(context.Context) error
	if cfg.DB.DSN != "" {
		mirror, err := postgres.NewMetadataStore(ctx, postgres.MetadataStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		}, sha256.New())
		if err != nil {
			return nil, fmt.Errorf("postgres mirror: %w", err)
		}
		a.addCloser("postgres", func(context.Context) error {
			mirror.Close()
			return nil
		})
		if err := mirror.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		schedOpts = append(schedOpts, scheduler.WithRecordMirror(mirror))
		ready = mirror.Ping
		logger.Info("mirroring records to postgres", zap.String("table", cfg.DB.Table))
	}

	if cfg.Storage.Images {
		blobs, err := a.buildBlobStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		schedOpts = append(schedOpts, scheduler.WithImageMirror(media.New(res, httpFetcher, blobs, logger)))
		logger.Info("mirroring token images", zap.String("backend", cfg.Storage.Backend))
	}

	a.Scheduler, err = scheduler.New(scheduler.Config{
		Chains:    ordered,
		Delay:     cfg.Scheduler.Delay,
		BatchSize: cfg.Scheduler.BatchSize,
	}, scheduler.Deps{
		Tasks:     taskSource,
		Fetcher:   a.Fetcher,
		Records:   a.Records,
		Indexed:   a.Indexed,
		Directory: a.Builder,
		Publisher: publisher,
	}, logger, schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	a.Server = api.NewServer(api.Deps{
		Chains:    a.Chains,
		Indexed:   a.Indexed,
		Directory: a.Directory,
		Status:    a.Status,
		NextRunAt: a.Scheduler.NextRunAt,
		Ready:     ready,
	}, logger)

	logger.Info("indexer services initialized", zap.Int("chains", len(ordered)))
	return a, nil
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config, o options, clock nft.Clock) (nft.Publisher, error) {
	var pubs publish.Multi
	if cfg.Publish.Git.Enabled {
		g, err := publish.NewGit(publish.GitConfig{
			Dir:    cfg.Storage.Root,
			Remote: cfg.Publish.Git.Remote,
			Branch: cfg.Publish.Git.Branch,
			Ignore: imageIgnore(cfg),
		}, o.gitRunner, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("git publisher: %w", err)
		}
		pubs = append(pubs, g)
	}
	if cfg.Publish.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.Publish.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Publish.PubSub.TopicName)
		a.addCloser("pubsub", func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		p, err := publish.NewPubSub(topic, cfg.Storage.Root, clock)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		pubs = append(pubs, p)
	}
	switch len(pubs) {
	case 0:
		return publish.Noop{}, nil
	case 1:
		return pubs[0], nil
	default:
		return pubs, nil
	}
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.Config) (nft.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.NewBlobStore(), nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return client.Close() })
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: "images"})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return blobs, nil
	default:
		blobs, err := local.New(local.Config{BaseDir: localImagesDir(cfg)})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return blobs, nil
	}
}

func localImagesDir(cfg config.Config) string {
	if cfg.Storage.ImagesRoot != "" {
		return cfg.Storage.ImagesRoot
	}
	return filepath.Join(cfg.Storage.Root, "images")
}

// imageIgnore keeps a local image mirror that lives under the storage root
// out of git publishes.
func imageIgnore(cfg config.Config) []string {
	if !cfg.Storage.Images || cfg.Storage.Backend == "memory" || cfg.Storage.Backend == "gcs" {
		return nil
	}
	rel, err := filepath.Rel(cfg.Storage.Root, localImagesDir(cfg))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return []string{"/" + filepath.ToSlash(rel) + "/"}
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

// Close releases services in reverse construction order and reports every
// failure.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Error("failed to close service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
