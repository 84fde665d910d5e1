package nft

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
)

// URIReader reads token URIs from a contract.
type URIReader interface {
	TokenURI(ctx context.Context, ch chain.Chain, contract string, tokenID int64) (string, error)
}

// CollectionReader reads collection-level fields used by the directory.
type CollectionReader interface {
	URIReader
	Name(ctx context.Context, ch chain.Chain, contract string) (string, error)
	Symbol(ctx context.Context, ch chain.Chain, contract string) (string, error)
}

// TokenFetcher produces the metadata record for one token.
type TokenFetcher interface {
	FetchToken(ctx context.Context, ch chain.Chain, contract string, tokenID int64) (Record, error)
}

// Retriever fetches the raw metadata document behind a token URI.
type Retriever interface {
	Retrieve(ctx context.Context, uri string, tokenID int64) ([]byte, error)
}

// RecordLog is an append-only, insertion-ordered record collection.
type RecordLog interface {
	Append(ctx context.Context, rec Record) error
	Records(ctx context.Context) ([]StoredRecord, error)
	Close() error
}

// RecordStore opens per-contract record logs.
type RecordStore interface {
	Open(ctx context.Context, ch chain.Chain, contract string) (RecordLog, error)
	Exists(ch chain.Chain, contract string) (bool, error)
}

// IndexedSet tracks which contracts are fully processed on a chain.
type IndexedSet interface {
	IsIndexed(ch chain.Chain, contract string) (bool, error)
	MarkIndexed(ch chain.Chain, contract string) error
	List(ch chain.Chain) ([]string, error)
}

// DirectoryBuilder refreshes a chain's directory file.
type DirectoryBuilder interface {
	Rebuild(ctx context.Context, ch chain.Chain) (int, error)
}

// TaskSource lists the contracts to index on a chain.
type TaskSource interface {
	Fetch(ctx context.Context, network string) ([]Task, error)
}

// Publisher pushes the outputs of a chain run somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, ch chain.Chain) error
}

// RecordMirror receives a copy of every persisted record.
type RecordMirror interface {
	Mirror(ctx context.Context, ch chain.Chain, contract string, rec Record) error
}

// ImageMirror copies a token's image somewhere local.
type ImageMirror interface {
	MirrorImage(ctx context.Context, ch chain.Chain, contract string, rec Record) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests for stored documents.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
