// Package media copies token images into a blob store so a collection's
// artwork survives its gateway going away.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	collyfetcher "github.com/JakeFAU/mixtape-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/mixtape-indexer/internal/logging"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/resolver"
)

// ErrNotImage means the image URL served something other than image/*.
var ErrNotImage = errors.New("response is not an image")

// HTTPGetter performs one GET.
type HTTPGetter interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Mirror implements nft.ImageMirror.
type Mirror struct {
	resolver *resolver.Resolver
	http     HTTPGetter
	blobs    nft.BlobStore
	logger   *zap.Logger
}

// New builds a Mirror writing into blobs.
func New(res *resolver.Resolver, getter HTTPGetter, blobs nft.BlobStore, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{resolver: res, http: getter, blobs: blobs, logger: logger.Named("media")}
}

// MirrorImage fetches rec's image and stores it at
// <chain>/<contract>/images/<index><ext>, returning the blob URI. Records
// without an image, or with an inline data: image, return "" and no error.
func (m *Mirror) MirrorImage(ctx context.Context, ch chain.Chain, contract string, rec nft.Record) (string, error) {
	image := strings.TrimSpace(rec.Image())
	if image == "" || strings.HasPrefix(image, "data:") {
		return "", nil
	}
	url, err := m.resolver.HTTPURL(image)
	if err != nil {
		return "", fmt.Errorf("resolve image %q: %w", image, err)
	}

	resp, err := m.http.Fetch(ctx, collyfetcher.Request{URL: url})
	if err != nil {
		return "", fmt.Errorf("fetch image %s: %w", url, err)
	}
	mediaType, _, err := mime.ParseMediaType(resp.ContentType())
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%w: %s served %q", ErrNotImage, url, resp.ContentType())
	}

	key := ObjectPath(ch, contract, rec.Index, mediaType)
	uri, err := m.blobs.PutObject(ctx, key, mediaType, bytes.NewReader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("store image %s: %w", key, err)
	}
	m.logger.Debug("image mirrored",
		append(logging.Token(ch.Name, contract, rec.Index), zap.String("uri", uri), zap.Int("bytes", len(resp.Body)))...)
	return uri, nil
}

// ObjectPath is the blob key for a token image.
func ObjectPath(ch chain.Chain, contract string, tokenID int64, mediaType string) string {
	name := strconv.FormatInt(tokenID, 10) + Extension(mediaType)
	return path.Join(ch.Name, strings.ToLower(contract), "images", name)
}

var knownExtensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
	"image/bmp":     ".bmp",
}

// Extension picks a file extension for mediaType, or "" when unknown.
func Extension(mediaType string) string {
	if ext, ok := knownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
