package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/logging"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/progress"
)

type fetchFunc func(ctx context.Context, tokenID int64) (nft.Record, error)

type outcome struct {
	rec nft.Record
	err error
}

// RangeResult summarises one walk over a token range.
type RangeResult struct {
	Stored    int
	Abandoned int
	// AbsentAt is the first token reported absent, or -1 if none was.
	AbsentAt int64
}

// IndexContract indexes task's token range into the contract's record log
// and marks the contract indexed once the range is finished. The range ends
// early at the first absent token.
func (s *Scheduler) IndexContract(ctx context.Context, ch chain.Chain, task nft.Task) (RangeResult, error) {
	if err := task.Validate(); err != nil {
		return RangeResult{AbsentAt: -1}, err
	}
	ctx, span := s.tracer.Start(ctx, "scheduler.IndexContract", trace.WithAttributes(
		attribute.String("chain", ch.Name),
		attribute.String("contract", task.ContractAddress),
		attribute.Int64("start_token", task.StartToken),
		attribute.Int64("end_token", task.EndToken),
	))
	defer span.End()

	fields := logging.Contract(ch.Name, task.ContractAddress)
	start := s.clock.Now()
	s.emit(ctx, progress.Event{Stage: progress.StageContractStart, Chain: ch.Name, Contract: task.ContractAddress})
	s.logger.Info("indexing contract", append(fields, zap.Int64("start", task.StartToken), zap.Int64("end", task.EndToken))...)

	log, err := s.deps.Records.Open(ctx, ch, task.ContractAddress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open record log")
		return RangeResult{AbsentAt: -1}, fmt.Errorf("open record log: %w", err)
	}
	defer func() {
		if cerr := log.Close(); cerr != nil {
			s.logger.Warn("close record log", append(fields, zap.Error(cerr))...)
		}
	}()

	fetch := func(ctx context.Context, id int64) (nft.Record, error) {
		return s.deps.Fetcher.FetchToken(ctx, ch, task.ContractAddress, id)
	}
	persist := func(ctx context.Context, rec nft.Record) error {
		if err := log.Append(ctx, rec); err != nil {
			return err
		}
		s.afterAppend(ctx, ch, task.ContractAddress, rec)
		return nil
	}
	res, err := s.walk(ctx, task.StartToken, task.EndToken, fetch, persist)
	span.SetAttributes(attribute.Int("stored", res.Stored), attribute.Int("abandoned", res.Abandoned))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "walk range")
		return res, err
	}

	if err := s.deps.Indexed.MarkIndexed(ch, task.ContractAddress); err != nil {
		return res, fmt.Errorf("mark indexed: %w", err)
	}
	s.emit(ctx, progress.Event{
		Stage:    progress.StageContractDone,
		Chain:    ch.Name,
		Contract: task.ContractAddress,
		Count:    res.Stored,
		Dur:      s.since(start),
	})
	s.logger.Info("contract indexed", append(fields,
		zap.Int("stored", res.Stored), zap.Int("abandoned", res.Abandoned), zap.Int64("absent_at", res.AbsentAt))...)
	return res, nil
}

// IndexCID indexes tokens [start,end] of an IPFS directory into log. It
// shares the batching and end-of-range rules of IndexContract.
func (s *Scheduler) IndexCID(ctx context.Context, cid string, start, end int64, log nft.RecordLog) (RangeResult, error) {
	if s.cids == nil {
		return RangeResult{AbsentAt: -1}, errNoCIDFetcher
	}
	if start < 0 || end < start {
		return RangeResult{AbsentAt: -1}, fmt.Errorf("invalid token range [%d,%d]", start, end)
	}
	fetch := func(ctx context.Context, id int64) (nft.Record, error) {
		return s.cids.FetchFromCID(ctx, cid, id)
	}
	persist := func(ctx context.Context, rec nft.Record) error {
		return log.Append(ctx, rec)
	}
	return s.walk(ctx, start, end, fetch, persist)
}

// walk fetches [start,end] in batches of BatchSize. Every token in a batch
// is fetched concurrently and the whole batch settles before results are
// persisted in token order. The first absent token ends the range: later
// ids in its batch are discarded and no further batch starts. Abandoned
// tokens are skipped.
func (s *Scheduler) walk(ctx context.Context, start, end int64, fetch fetchFunc, persist func(context.Context, nft.Record) error) (RangeResult, error) {
	res := RangeResult{AbsentAt: -1}
	batch := int64(s.cfg.BatchSize)

	for lo := start; lo <= end; lo += batch {
		hi := min(lo+batch-1, end)
		outcomes := make([]outcome, hi-lo+1)

		var g errgroup.Group
		for id := lo; id <= hi; id++ {
			g.Go(func() error {
				rec, err := fetch(ctx, id)
				outcomes[id-lo] = outcome{rec: rec, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, o := range outcomes {
			id := lo + int64(i)
			switch {
			case o.err == nil:
				if err := persist(ctx, o.rec); err != nil {
					return res, fmt.Errorf("persist token %d: %w", id, err)
				}
				res.Stored++
			case errors.Is(o.err, nft.ErrTokenAbsent):
				res.AbsentAt = id
				return res, nil
			case ctx.Err() != nil:
				return res, ctx.Err()
			default:
				res.Abandoned++
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	return res, nil
}

// afterAppend feeds the optional mirrors. Their failures never fail the
// token.
func (s *Scheduler) afterAppend(ctx context.Context, ch chain.Chain, contract string, rec nft.Record) {
	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, ch, contract, rec); err != nil {
			s.logger.Warn("record mirror failed", append(logging.Token(ch.Name, contract, rec.Index), zap.Error(err))...)
		}
	}
	if s.images == nil {
		return
	}
	uri, err := s.images.MirrorImage(ctx, ch, contract, rec)
	switch {
	case err != nil:
		s.logger.Warn("image mirror failed", append(logging.Token(ch.Name, contract, rec.Index), zap.Error(err))...)
		s.emit(ctx, progress.Event{Stage: progress.StageImageMirrorError, Chain: ch.Name, Contract: contract, TokenID: rec.Index, Note: err.Error()})
	case uri != "":
		s.emit(ctx, progress.Event{Stage: progress.StageImageMirrored, Chain: ch.Name, Contract: contract, TokenID: rec.Index, Note: uri})
	}
}
