// Package metadata turns a token id into a stored metadata record. One
// attempt reads the token URI, resolves it, walks the candidate URLs, and
// parses the first JSON object found; attempts repeat under a retry budget
// until the token succeeds, proves absent, or is abandoned.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/clock/system"
	collyfetcher "github.com/JakeFAU/mixtape-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/mixtape-indexer/internal/logging"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/progress"
	"github.com/JakeFAU/mixtape-indexer/internal/resolver"
	"github.com/JakeFAU/mixtape-indexer/internal/retry"
)

// HTTPGetter performs one GET.
type HTTPGetter interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Fetcher runs the per-token state machine.
type Fetcher struct {
	reader   nft.URIReader
	resolver *resolver.Resolver
	http     HTTPGetter
	policy   retry.Policy
	emitter  progress.Emitter
	clock    nft.Clock
	logger   *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithEmitter reports token outcomes to a progress emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(f *Fetcher) {
		if e != nil {
			f.emitter = e
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(c nft.Clock) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.clock = c
		}
	}
}

// New builds a Fetcher.
func New(reader nft.URIReader, res *resolver.Resolver, getter HTTPGetter, policy retry.Policy, logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		reader:   reader,
		resolver: res,
		http:     getter,
		policy:   policy,
		emitter:  progress.Discard{},
		clock:    system.New(),
		logger:   logger.Named("metadata"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Classify maps pipeline failures onto retry classes: an absent token ends
// the range, a malformed inline document is hopeless, everything else is
// worth another attempt.
func Classify(err error) retry.Class {
	switch {
	case errors.Is(err, nft.ErrTokenAbsent):
		return retry.Terminal
	case errors.Is(err, resolver.ErrMalformedDataURI):
		return retry.Fatal
	default:
		return retry.Retryable
	}
}

// FetchToken returns the record for tokenID. An absent token returns an
// error matching nft.ErrTokenAbsent; a token that used up its budget or hit
// a fatal failure returns one matching nft.ErrAbandoned.
func (f *Fetcher) FetchToken(ctx context.Context, ch chain.Chain, contract string, tokenID int64) (nft.Record, error) {
	fields := logging.Token(ch.Name, contract, tokenID)
	return f.run(ctx, ch.Name, contract, tokenID, fields, func(ctx context.Context) (string, error) {
		return f.reader.TokenURI(ctx, ch, contract, tokenID)
	})
}

// FetchFromCID indexes a token stored as <cid>/<tokenID> in an IPFS
// directory, skipping the contract read.
func (f *Fetcher) FetchFromCID(ctx context.Context, cid string, tokenID int64) (nft.Record, error) {
	uri := "ipfs://" + cid + "/" + strconv.FormatInt(tokenID, 10)
	fields := []zap.Field{zap.String("cid", cid), zap.Int64("token_id", tokenID)}
	return f.run(ctx, "ipfs", cid, tokenID, fields, func(context.Context) (string, error) {
		return uri, nil
	})
}

func (f *Fetcher) run(
	ctx context.Context,
	chainName, contract string,
	tokenID int64,
	fields []zap.Field,
	readURI func(context.Context) (string, error),
) (nft.Record, error) {
	start := f.clock.Now()
	var rec nft.Record
	attempts, err := retry.Do(ctx, f.policy, Classify, func(ctx context.Context, attempt int) error {
		uri, err := readURI(ctx)
		if err != nil {
			return err
		}
		r, err := f.document(ctx, uri, tokenID)
		if err != nil {
			if Classify(err) == retry.Retryable {
				f.logger.Debug("metadata attempt failed",
					append(fields, zap.Int("attempt", attempt), zap.String("uri", uri), zap.Error(err))...)
			}
			return err
		}
		rec = r
		return nil
	})
	evt := progress.Event{
		TS:       f.clock.Now(),
		Chain:    chainName,
		Contract: contract,
		TokenID:  tokenID,
		Attempts: attempts,
		Dur:      f.clock.Now().Sub(start),
	}
	switch {
	case err == nil:
		evt.Stage = progress.StageTokenDone
		f.emit(ctx, evt)
		return rec, nil
	case errors.Is(err, nft.ErrTokenAbsent):
		evt.Stage = progress.StageTokenAbsent
		f.emit(ctx, evt)
		return nft.Record{}, err
	case ctx.Err() != nil:
		return nft.Record{}, err
	default:
		evt.Stage = progress.StageTokenAbandoned
		evt.Note = err.Error()
		f.emit(ctx, evt)
		f.logger.Warn("token abandoned", append(fields, zap.Int("attempts", attempts), zap.Error(err))...)
		return nft.Record{}, fmt.Errorf("%w: token %d after %d attempts: %w", nft.ErrAbandoned, tokenID, attempts, err)
	}
}

func (f *Fetcher) emit(ctx context.Context, evt progress.Event) {
	if id, ok := progress.RunIDFrom(ctx); ok {
		evt.RunID = id
		f.emitter.Emit(evt)
	}
}

// document performs one resolve-fetch-parse pass.
func (f *Fetcher) document(ctx context.Context, uri string, tokenID int64) (nft.Record, error) {
	body, err := f.raw(ctx, uri, tokenID)
	if err != nil {
		return nft.Record{}, err
	}
	obj, err := parseObject(body)
	if err != nil {
		return nft.Record{}, err
	}
	if img, ok := obj["image"].(string); ok {
		obj["image"] = f.resolver.NormalizeImage(img)
	}
	return nft.Record{Index: tokenID, Fields: obj}, nil
}

// Retrieve performs a single resolution and fetch pass and returns the raw
// JSON document.
func (f *Fetcher) Retrieve(ctx context.Context, uri string, tokenID int64) ([]byte, error) {
	return f.raw(ctx, uri, tokenID)
}

func (f *Fetcher) raw(ctx context.Context, uri string, tokenID int64) ([]byte, error) {
	loc, err := f.resolver.Resolve(resolver.ExpandID(uri, tokenID))
	if err != nil {
		return nil, err
	}
	if loc.Kind == resolver.KindDataURI {
		return loc.Document, nil
	}
	candidates := f.resolver.Candidates(loc, tokenID)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no fetch candidates for %q", nft.ErrResolution, uri)
	}
	var (
		errs     []error
		parseErr bool
	)
	for _, candidate := range candidates {
		resp, err := f.http.Fetch(ctx, collyfetcher.Request{URL: candidate})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		if _, err := parseObject(resp.Body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
			parseErr = true
			continue
		}
		return resp.Body, nil
	}
	sentinel := nft.ErrFetch
	if parseErr && len(errs) == len(candidates) && allParse(errs) {
		sentinel = nft.ErrParse
	}
	return nil, fmt.Errorf("%w: %w", sentinel, errors.Join(errs...))
}

func allParse(errs []error) bool {
	for _, err := range errs {
		if !errors.Is(err, nft.ErrParse) {
			return false
		}
	}
	return true
}

func parseObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", nft.ErrParse, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: document is null", nft.ErrParse)
	}
	return obj, nil
}
