// Package directory maintains each chain's directory.json: one entry per
// indexed collection with its name, symbol, and a representative image.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/clock/system"
	"github.com/JakeFAU/mixtape-indexer/internal/logging"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/progress"
	"github.com/JakeFAU/mixtape-indexer/internal/store"
)

// Lister enumerates indexed contracts.
type Lister interface {
	List(ch chain.Chain) ([]string, error)
}

// EntryFile loads and saves a chain's directory entries.
type EntryFile interface {
	Load(ch chain.Chain) ([]nft.DirectoryEntry, error)
	Save(ch chain.Chain, entries []nft.DirectoryEntry) error
}

// ImageNormalizer rewrites image links into their canonical form.
type ImageNormalizer interface {
	NormalizeImage(image string) string
}

// Builder implements nft.DirectoryBuilder.
type Builder struct {
	indexed    Lister
	file       EntryFile
	reader     nft.CollectionReader
	retriever  nft.Retriever
	normalizer ImageNormalizer
	emitter    progress.Emitter
	clock      nft.Clock
	logger     *zap.Logger
}

// Option customizes a Builder.
type Option func(*Builder)

// WithEmitter reports DIRECTORY_DONE events.
func WithEmitter(e progress.Emitter) Option {
	return func(b *Builder) {
		if e != nil {
			b.emitter = e
		}
	}
}

// New builds a Builder.
func New(
	indexed Lister,
	file EntryFile,
	reader nft.CollectionReader,
	retriever nft.Retriever,
	normalizer ImageNormalizer,
	logger *zap.Logger,
	opts ...Option,
) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{
		indexed:    indexed,
		file:       file,
		reader:     reader,
		retriever:  retriever,
		normalizer: normalizer,
		emitter:    progress.Discard{},
		clock:      system.New(),
		logger:     logger.Named("directory"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Rebuild appends an entry for every indexed contract missing from the
// chain's directory and rewrites the file. It returns how many entries were
// added. Contracts whose details cannot be read are logged and left out, to
// be retried on the next rebuild.
func (b *Builder) Rebuild(ctx context.Context, ch chain.Chain) (int, error) {
	start := b.clock.Now()
	addresses, err := b.indexed.List(ch)
	if err != nil {
		return 0, fmt.Errorf("list indexed contracts for %s: %w", ch.Name, err)
	}

	entries, err := b.file.Load(ch)
	if err != nil {
		if !errors.Is(err, store.ErrCorruptDirectory) {
			return 0, err
		}
		b.logger.Warn("directory file unreadable, starting empty", zap.String("chain", ch.Name), zap.Error(err))
		entries = []nft.DirectoryEntry{}
	}

	added := 0
	for _, addr := range addresses {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		if hasEntry(entries, addr) {
			continue
		}
		entry, err := b.entry(ctx, ch, addr)
		if err != nil {
			b.logger.Warn("skipping directory entry", append(logging.Contract(ch.Name, addr), zap.Error(err))...)
			continue
		}
		entries = append(entries, entry)
		added++
	}

	if err := b.file.Save(ch, entries); err != nil {
		return added, err
	}
	if id, ok := progress.RunIDFrom(ctx); ok {
		b.emitter.Emit(progress.Event{
			RunID: id,
			TS:    b.clock.Now(),
			Stage: progress.StageDirectoryDone,
			Chain: ch.Name,
			Count: added,
			Dur:   b.clock.Now().Sub(start),
		})
	}
	b.logger.Info("directory rebuilt", zap.String("chain", ch.Name), zap.Int("added", added), zap.Int("total", len(entries)))
	return added, nil
}

func (b *Builder) entry(ctx context.Context, ch chain.Chain, addr string) (nft.DirectoryEntry, error) {
	name, err := b.reader.Name(ctx, ch, addr)
	if err != nil {
		return nft.DirectoryEntry{}, err
	}
	symbol, err := b.reader.Symbol(ctx, ch, addr)
	if err != nil {
		return nft.DirectoryEntry{}, err
	}
	uri, err := b.reader.TokenURI(ctx, ch, addr, ch.SampleTokenID)
	if err != nil {
		return nft.DirectoryEntry{}, err
	}

	var image string
	if strings.TrimSpace(uri) != "" {
		doc, err := b.retriever.Retrieve(ctx, uri, ch.SampleTokenID)
		if err != nil {
			return nft.DirectoryEntry{}, fmt.Errorf("sample token %d: %w", ch.SampleTokenID, err)
		}
		image = gjson.GetBytes(doc, "image").String()
		if b.normalizer != nil {
			image = b.normalizer.NormalizeImage(image)
		}
	}
	return nft.DirectoryEntry{Contract: addr, Name: name, Symbol: symbol, Image: image}, nil
}

func hasEntry(entries []nft.DirectoryEntry, addr string) bool {
	for _, e := range entries {
		if strings.EqualFold(e.Contract, addr) {
			return true
		}
	}
	return false
}
