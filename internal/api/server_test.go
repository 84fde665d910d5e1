package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/progress/sinks"
	"github.com/JakeFAU/mixtape-indexer/internal/store"
)

type fakeStatus struct{ status sinks.Status }

func (f fakeStatus) Snapshot() sinks.Status { return f.status }

func newTestServer(t *testing.T, mutate func(*Deps)) (*Server, store.Layout) {
	t.Helper()
	reg, err := chain.NewRegistry(chain.Defaults())
	require.NoError(t, err)
	layout := store.Layout{Root: t.TempDir()}
	deps := Deps{
		Chains:    reg,
		Indexed:   store.NewIndexedSet(layout),
		Directory: store.NewDirectoryFile(layout),
		Status:    fakeStatus{status: sinks.Status{LastRunID: "run-1", Chains: []sinks.ChainStatus{{Chain: "ethereum", TokensStored: 3}}}},
	}
	if mutate != nil {
		mutate(&deps)
	}
	return NewServer(deps, nil), layout
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := do(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusOK, do(t, s, "/readyz").Code)

	failing, _ := newTestServer(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("postgres unreachable") }
	})
	rec = do(t, failing, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres unreachable")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	_ = do(t, s, "/healthz")
	rec := do(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "indexer_http_requests_total")
}

func TestStatus(t *testing.T) {
	t.Parallel()

	next := time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC)
	s, _ := newTestServer(t, func(d *Deps) {
		d.NextRunAt = func() time.Time { return next }
	})
	rec := do(t, s, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		LastRunID string              `json:"last_run_id"`
		NextRunAt time.Time           `json:"next_run_at"`
		Chains    []sinks.ChainStatus `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.LastRunID)
	assert.True(t, next.Equal(body.NextRunAt))
	require.Len(t, body.Chains, 1)
	assert.Equal(t, 3, body.Chains[0].TokensStored)
}

func TestListChains(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := do(t, s, "/v1/chains")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Chains []chainView `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Chains, 4)
	assert.Equal(t, chainView{Name: "ethereum", Prefix: "eth", Standard: "erc721"}, body.Chains[0])
	assert.Equal(t, "fantom", body.Chains[3].Name)
}

func TestIndexedAndDirectory(t *testing.T) {
	t.Parallel()

	s, layout := newTestServer(t, nil)
	eth, _ := s.deps.Chains.Get("ethereum")
	require.NoError(t, store.NewIndexedSet(layout).MarkIndexed(eth, "0xABC"))
	require.NoError(t, store.NewDirectoryFile(layout).Save(eth, []nft.DirectoryEntry{
		{Contract: "0xABC", Name: "Tapes", Symbol: "TAPE", Image: "ipfs://Qm/1.png"},
	}))

	rec := do(t, s, "/v1/chains/Ethereum/indexed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chain":"ethereum","collections":["0xABC"]}`, rec.Body.String())

	rec = do(t, s, "/v1/chains/ethereum/directory")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"contract":"0xABC","name":"Tapes","symbol":"TAPE","image":"ipfs://Qm/1.png"}]`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, s, "/v1/chains/solana/indexed").Code)
}

func TestDirectoryCorrupt(t *testing.T) {
	t.Parallel()

	s, layout := newTestServer(t, nil)
	poly, _ := s.deps.Chains.Get("polygon")
	path := layout.DirectoryFile(poly)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("[{"), 0o600))

	rec := do(t, s, "/v1/chains/polygon/directory")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
