package publish

import (
	"context"
	"errors"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

// Multi publishes to every member in order. One member failing does not
// stop the others; all failures are joined.
type Multi []nft.Publisher

// Publish implements nft.Publisher.
func (m Multi) Publish(ctx context.Context, ch chain.Chain) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop publishes nowhere.
type Noop struct{}

// Publish implements nft.Publisher.
func (Noop) Publish(context.Context, chain.Chain) error { return nil }
