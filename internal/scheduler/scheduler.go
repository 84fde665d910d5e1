// Package scheduler drives indexing runs. A cycle walks the configured
// chains one after another; for each chain it pulls the task list, indexes
// every contract not yet done in bounded concurrent batches, then refreshes
// the chain's directory and publishes when anything changed. Run repeats
// cycles with a fixed delay between them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/clock/system"
	"github.com/JakeFAU/mixtape-indexer/internal/logging"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/progress"
)

// Clock supplies the current time and timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// CIDFetcher fetches tokens stored under an IPFS directory.
type CIDFetcher interface {
	FetchFromCID(ctx context.Context, cid string, tokenID int64) (nft.Record, error)
}

// Config controls cycle shape.
type Config struct {
	// Chains are visited in this order every cycle.
	Chains    []chain.Chain
	Delay     time.Duration
	BatchSize int
}

// Deps are the collaborators every run needs.
type Deps struct {
	Tasks     nft.TaskSource
	Fetcher   nft.TokenFetcher
	Records   nft.RecordStore
	Indexed   nft.IndexedSet
	Directory nft.DirectoryBuilder
	Publisher nft.Publisher
}

// Scheduler owns the run loop. Only one Scheduler may run against a
// storage root at a time.
type Scheduler struct {
	cfg  Config
	deps Deps

	mirror  nft.RecordMirror
	images  nft.ImageMirror
	cids    CIDFetcher
	emitter progress.Emitter
	ids     nft.IDGenerator
	clock   Clock
	tracer  trace.Tracer
	logger  *zap.Logger

	mu        sync.RWMutex
	nextRunAt time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRecordMirror copies every persisted record to m.
func WithRecordMirror(m nft.RecordMirror) Option {
	return func(s *Scheduler) { s.mirror = m }
}

// WithImageMirror copies every persisted record's image via m.
func WithImageMirror(m nft.ImageMirror) Option {
	return func(s *Scheduler) { s.images = m }
}

// WithCIDFetcher enables IndexCID.
func WithCIDFetcher(f CIDFetcher) Option {
	return func(s *Scheduler) { s.cids = f }
}

// WithEmitter reports progress events.
func WithEmitter(e progress.Emitter) Option {
	return func(s *Scheduler) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithIDGenerator overrides how run ids are minted.
func WithIDGenerator(g nft.IDGenerator) Option {
	return func(s *Scheduler) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTracer records spans for cycles, chains, and contracts.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// New validates cfg and deps and builds a Scheduler.
func New(cfg Config, deps Deps, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("at least one chain is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("delay must be >= 0")
	}
	if deps.Fetcher == nil || deps.Records == nil || deps.Indexed == nil {
		return nil, fmt.Errorf("fetcher, record store, and indexed set are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:     cfg,
		deps:    deps,
		emitter: progress.Discard{},
		ids:     uuidGenerator{},
		clock:   system.New(),
		tracer:  noop.NewTracerProvider().Tracer("scheduler"),
		logger:  logger.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NextRunAt returns when the next cycle is due, or zero while one runs.
func (s *Scheduler) NextRunAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRunAt
}

func (s *Scheduler) setNextRunAt(t time.Time) {
	s.mu.Lock()
	s.nextRunAt = t
	s.mu.Unlock()
}

// Run executes cycles until ctx is canceled, sleeping Delay between the end
// of one cycle and the start of the next. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.setNextRunAt(time.Time{})
		if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("cycle failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}

		next := s.clock.Now().Add(s.cfg.Delay)
		s.setNextRunAt(next)
		s.logger.Info("cycle complete", zap.Time("next_run_at", next))

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(next.Sub(s.clock.Now())):
		}
	}
}

// RunCycle visits every configured chain once, in order. A failing chain is
// logged and the cycle moves on; only cancellation stops it early.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	runID, err := s.newRunID()
	if err != nil {
		return err
	}
	ctx = progress.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "scheduler.RunCycle",
		trace.WithAttributes(attribute.String("run_id", uuid.UUID(runID).String())))
	defer span.End()

	start := s.clock.Now()
	s.emit(ctx, progress.Event{Stage: progress.StageRunStart})
	s.logger.Info("cycle started", zap.String("run_id", uuid.UUID(runID).String()), zap.Int("chains", len(s.cfg.Chains)))

	total := 0
	for _, ch := range s.cfg.Chains {
		if ctx.Err() != nil {
			break
		}
		chStart := s.clock.Now()
		n, err := s.RunChain(ctx, ch)
		total += n
		if err != nil {
			s.logger.Error("chain run failed", zap.String("chain", ch.Name), zap.Error(err))
			s.emit(ctx, progress.Event{Stage: progress.StageChainError, Chain: ch.Name, Count: n, Note: err.Error(), Dur: s.since(chStart)})
			continue
		}
		s.emit(ctx, progress.Event{Stage: progress.StageChainDone, Chain: ch.Name, Count: n, Dur: s.since(chStart)})
	}

	s.emit(ctx, progress.Event{Stage: progress.StageRunDone, Count: total, Dur: s.since(start)})
	span.SetAttributes(attribute.Int("contracts_indexed", total))
	return ctx.Err()
}

// RunChain indexes every pending task on ch and returns how many contracts
// were newly indexed. Directory and publish failures are logged, never
// returned; a task source failure is.
func (s *Scheduler) RunChain(ctx context.Context, ch chain.Chain) (int, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.RunChain", trace.WithAttributes(attribute.String("chain", ch.Name)))
	defer span.End()
	s.emit(ctx, progress.Event{Stage: progress.StageChainStart, Chain: ch.Name})

	if s.deps.Tasks == nil {
		return 0, fmt.Errorf("%w: no task source configured", nft.ErrTaskSource)
	}
	tasks, err := s.deps.Tasks.Fetch(ctx, ch.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task source")
		return 0, err
	}
	s.logger.Info("tasks fetched", zap.String("chain", ch.Name), zap.Int("tasks", len(tasks)))

	changed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		done, err := s.isDone(ch, task.ContractAddress)
		if err != nil {
			return changed, err
		}
		if done {
			s.emit(ctx, progress.Event{Stage: progress.StageContractSkipped, Chain: ch.Name, Contract: task.ContractAddress})
			continue
		}
		if _, err := s.IndexContract(ctx, ch, task); err != nil {
			if ctx.Err() != nil {
				return changed, ctx.Err()
			}
			s.logger.Error("contract failed", append(logging.Contract(ch.Name, task.ContractAddress), zap.Error(err))...)
			continue
		}
		changed++
	}

	if changed > 0 {
		s.finishChain(ctx, ch)
	}
	return changed, nil
}

// finishChain rebuilds the directory and publishes. Both are best effort.
func (s *Scheduler) finishChain(ctx context.Context, ch chain.Chain) {
	if s.deps.Directory != nil {
		if _, err := s.deps.Directory.Rebuild(ctx, ch); err != nil {
			s.logger.Error("directory rebuild failed", zap.String("chain", ch.Name), zap.Error(err))
		}
	}
	if s.deps.Publisher == nil {
		return
	}
	start := s.clock.Now()
	if err := s.deps.Publisher.Publish(ctx, ch); err != nil {
		s.logger.Error("publish failed", zap.String("chain", ch.Name), zap.Error(err))
		s.emit(ctx, progress.Event{Stage: progress.StagePublishError, Chain: ch.Name, Note: err.Error(), Dur: s.since(start)})
		return
	}
	s.emit(ctx, progress.Event{Stage: progress.StagePublishDone, Chain: ch.Name, Dur: s.since(start)})
}

// isDone requires both the indexed-set entry and the contract folder. A
// contract with only one of the two is reprocessed from its start token.
func (s *Scheduler) isDone(ch chain.Chain, contract string) (bool, error) {
	indexed, err := s.deps.Indexed.IsIndexed(ch, contract)
	if err != nil {
		return false, fmt.Errorf("check indexed %s: %w", contract, err)
	}
	exists, err := s.deps.Records.Exists(ch, contract)
	if err != nil {
		return false, fmt.Errorf("check folder %s: %w", contract, err)
	}
	if indexed != exists {
		s.logger.Warn("contract half indexed, reprocessing",
			append(logging.Contract(ch.Name, contract), zap.Bool("indexed", indexed), zap.Bool("folder", exists))...)
	}
	return indexed && exists, nil
}

func (s *Scheduler) newRunID() ([16]byte, error) {
	raw, err := s.ids.NewID()
	if err != nil {
		return [16]byte{}, fmt.Errorf("generate run id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id %q: %w", raw, err)
	}
	return progress.UUIDToBytes(id), nil
}

func (s *Scheduler) emit(ctx context.Context, evt progress.Event) {
	id, ok := progress.RunIDFrom(ctx)
	if !ok {
		return
	}
	evt.RunID = id
	evt.TS = s.clock.Now()
	s.emitter.Emit(evt)
}

func (s *Scheduler) since(t time.Time) time.Duration {
	if d := s.clock.Now().Sub(t); d > 0 {
		return d
	}
	return 0
}

var errNoCIDFetcher = errors.New("cid indexing is not configured")
