// Package tasks reads the list of contracts to index from the task API.
package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/mixtape-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

// HTTPGetter performs one GET.
type HTTPGetter interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Config locates the task endpoint.
type Config struct {
	BaseURL string
	APIKey  string
}

// Source implements nft.TaskSource over HTTP.
type Source struct {
	base   *url.URL
	apiKey string
	http   HTTPGetter
	logger *zap.Logger
}

// New validates cfg and builds a Source.
func New(cfg Config, getter HTTPGetter, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("task source base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse task source url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("task source url %q must be http(s)", cfg.BaseURL)
	}
	if getter == nil {
		return nil, fmt.Errorf("http getter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{base: base, apiKey: cfg.APIKey, http: getter, logger: logger.Named("tasks")}, nil
}

// Fetch returns the tasks for network. Entries with a missing address or an
// inverted range are logged and dropped; a bad response as a whole fails
// with nft.ErrTaskSource.
func (s *Source) Fetch(ctx context.Context, network string) ([]nft.Task, error) {
	req := collyfetcher.Request{URL: s.endpoint(network)}
	if s.apiKey != "" {
		req.Headers = http.Header{"X-Api-Key": []string{s.apiKey}}
	}
	resp, err := s.http.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", nft.ErrTaskSource, network, err)
	}
	return s.parse(network, resp.Body)
}

func (s *Source) endpoint(network string) string {
	u := *s.base
	q := u.Query()
	q.Set("network", network)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Source) parse(network string, body []byte) ([]nft.Task, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %s: response is not valid json", nft.ErrTaskSource, network)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: %s: expected a json array, got %s", nft.ErrTaskSource, network, root.Type)
	}

	var out []nft.Task
	for i, item := range root.Array() {
		task := nft.Task{
			ContractAddress: strings.TrimSpace(item.Get("contractAddress").String()),
			Network:         network,
			StartToken:      item.Get("startToken").Int(),
			EndToken:        item.Get("endToken").Int(),
		}
		if n := item.Get("network").String(); n != "" {
			task.Network = n
		}
		if err := task.Validate(); err != nil {
			s.logger.Warn("dropping task", zap.String("chain", network), zap.Int("position", i), zap.Error(err))
			continue
		}
		out = append(out, task)
	}
	return out, nil
}
