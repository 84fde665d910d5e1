package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/progress"
)

// Notification is the JSON body announcing a chain publish.
type Notification struct {
	RunID       string    `json:"run_id,omitempty"`
	Chain       string    `json:"chain"`
	Prefix      string    `json:"prefix"`
	Indexed     string    `json:"indexed_path"`
	Directory   string    `json:"directory_path"`
	PublishedAt time.Time `json:"published_at"`
}

// PubSub announces chain publishes on a Pub/Sub topic.
type PubSub struct {
	topic *pubsub.Topic
	root  string
	clock nft.Clock
}

// NewPubSub wraps topic. root is the storage root whose paths are announced.
func NewPubSub(topic *pubsub.Topic, root string, clock nft.Clock) (*PubSub, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &PubSub{topic: topic, root: root, clock: clock}, nil
}

// Publish sends one Notification and waits for the server ack.
func (p *PubSub) Publish(ctx context.Context, ch chain.Chain) error {
	n := Notification{
		Chain:       ch.Name,
		Prefix:      ch.Prefix,
		Indexed:     ch.IndexedDir(p.root),
		Directory:   ch.DirectoryDir(p.root),
		PublishedAt: p.clock.Now().UTC(),
	}
	if id, ok := progress.RunIDFrom(ctx); ok {
		n.RunID = uuid.UUID(id).String()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: marshal notification: %w", nft.ErrPublish, err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"chain": ch.Name}}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("%w: pubsub %s: %w", nft.ErrPublish, p.topic.ID(), err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
