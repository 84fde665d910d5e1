package resolver

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

const (
	cidV0 = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	cidV1 = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
)

var (
	testGateways = []string{"https://ipfs.io/ipfs/", "https://dweb.link/ipfs/"}
	testPinning  = []string{"https://gateway.pinata.cloud/ipfs/"}
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(testGateways, testPinning)
	require.NoError(t, err)
	return r
}

func TestExtractCID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		uri      string
		wantCID  string
		wantPath string
	}{
		{"bare scheme", "ipfs://" + cidV0, cidV0, ""},
		{"scheme with file", "ipfs://" + cidV0 + "/1.json", cidV0, "1.json"},
		{"legacy double ipfs", "ipfs://ipfs/" + cidV0 + "/7", cidV0, "7"},
		{"gateway path", "https://cloudflare-ipfs.com/ipfs/" + cidV1 + "/meta/3", cidV1, "meta/3"},
		{"pinning gateway", "https://gateway.pinata.cloud/ipfs/" + cidV0 + "/2", cidV0, "2"},
		{"subdomain gateway", "https://" + cidV1 + ".ipfs.nftstorage.link/4", cidV1, "4"},
		{"trailing slash", "ipfs://" + cidV0 + "/", cidV0, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cid, path, ok := ExtractCID(tt.uri)
			require.True(t, ok)
			assert.Equal(t, tt.wantCID, cid)
			assert.Equal(t, tt.wantPath, path)
		})
	}

	_, _, ok := ExtractCID("https://example.com/meta/1")
	assert.False(t, ok)
	_, _, ok = ExtractCID("https://notacid.ipfs.example.com/1")
	assert.False(t, ok)
}

func TestNextGatewayWraps(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	got := []string{r.NextGateway(), r.NextGateway(), r.NextGateway()}
	assert.Equal(t, []string{testGateways[0], testGateways[1], testGateways[0]}, got)
}

func TestResolveRotatesGatewaysAcrossCalls(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	first, err := r.Resolve("ipfs://" + cidV0 + "/1")
	require.NoError(t, err)
	second, err := r.Resolve("ipfs://" + cidV0 + "/1")
	require.NoError(t, err)
	third, err := r.Resolve("ipfs://" + cidV0 + "/1")
	require.NoError(t, err)

	assert.Equal(t, "https://ipfs.io/ipfs/"+cidV0+"/1", first.URL)
	assert.Equal(t, "https://dweb.link/ipfs/"+cidV0+"/1", second.URL)
	assert.Equal(t, first.URL, third.URL)
}

func TestCandidatesFallbackFollowsPrimary(t *testing.T) {
	t.Parallel()

	gateways := []string{"https://a.example/ipfs/", "https://b.example/ipfs/", "https://c.example/ipfs/"}
	r, err := New(gateways, nil)
	require.NoError(t, err)

	var locs []Location
	for i := 0; i < len(gateways); i++ {
		loc, err := r.Resolve("ipfs://" + cidV0 + "/1.json")
		require.NoError(t, err)
		locs = append(locs, loc)
	}
	// Other goroutines keep turning the rotation between Resolve and
	// Candidates.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.NextGateway()
		}()
	}
	wg.Wait()

	for i, loc := range locs {
		assert.Equal(t, i, loc.Gateway)
		want := []string{
			gateways[i] + cidV0 + "/1.json",
			gateways[(i+1)%len(gateways)] + cidV0 + "/1.json",
		}
		assert.Equal(t, want, r.Candidates(loc, 1))
		assert.Equal(t, want, r.Candidates(loc, 1), "repeat calls are stable")
	}
}

func TestResolveClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		uri  string
		kind Kind
		url  string
	}{
		{"ipfs scheme", "ipfs://" + cidV0 + "/5", KindIPFS, "https://ipfs.io/ipfs/" + cidV0 + "/5"},
		{"pinning", "https://gateway.pinata.cloud/ipfs/" + cidV0 + "/5", KindPinning, "https://ipfs.io/ipfs/" + cidV0 + "/5"},
		{"http", "https://api.example.com/token/5", KindHTTP, "https://api.example.com/token/5"},
		{"http base", "https://api.example.com/token/", KindBasePath, "https://api.example.com/token"},
		{"bare path", "api.example.com/meta", KindBasePath, "https://api.example.com/meta"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newResolver(t)
			loc, err := r.Resolve(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, loc.Kind)
			assert.Equal(t, tt.url, loc.URL)
		})
	}
}

func TestResolveDataURI(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	payload := `{"name":"Tape, Side A","image":"ipfs://x"}`

	for _, uri := range []string{
		"data:application/json;utf-8," + payload,
		"data:application/json," + payload,
		"data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(payload)),
		"data:application/json,%7B%22name%22%3A%22Tape%2C%20Side%20A%22%2C%22image%22%3A%22ipfs%3A%2F%2Fx%22%7D",
	} {
		loc, err := r.Resolve(uri)
		require.NoError(t, err, uri)
		assert.Equal(t, KindDataURI, loc.Kind)
		assert.JSONEq(t, payload, string(loc.Document))
	}
}

func TestResolveMalformedDataURI(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	for _, uri := range []string{
		"data:application/json;utf-8,{not json",
		"data:application/json;base64,!!!",
		"data:application/json",
	} {
		_, err := r.Resolve(uri)
		assert.True(t, errors.Is(err, ErrMalformedDataURI), uri)
	}
}

func TestResolveEmpty(t *testing.T) {
	t.Parallel()

	_, err := newResolver(t).Resolve("  ")
	assert.ErrorIs(t, err, nft.ErrResolution)
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	r := newResolver(t)

	loc, err := r.Resolve("https://api.example.com/token/9")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://api.example.com/token/9", "https://api.example.com/token/9.json"}, r.Candidates(loc, 9))

	loc, err = r.Resolve("https://api.example.com/token/")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://api.example.com/token/9.json", "https://api.example.com/token/9"}, r.Candidates(loc, 9))

	loc, err = r.Resolve("ipfs://" + cidV0 + "/9.json")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://ipfs.io/ipfs/" + cidV0 + "/9.json",
		"https://dweb.link/ipfs/" + cidV0 + "/9.json",
	}, r.Candidates(loc, 9))

	loc, err = r.Resolve("ipfs://" + cidV0)
	require.NoError(t, err)
	got := r.Candidates(loc, 9)
	require.Len(t, got, 5)
	assert.Equal(t, "https://dweb.link/ipfs/"+cidV0+"/9.json", got[2])
	assert.Equal(t, "https://dweb.link/ipfs/"+cidV0+"/9", got[3])
	assert.Equal(t, "https://ipfs.io/ipfs/"+cidV0, got[4])

	loc, err = r.Resolve(`data:application/json,{"a":1}`)
	require.NoError(t, err)
	assert.Empty(t, r.Candidates(loc, 9))
}

func TestNormalizeImage(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	assert.Equal(t, "ipfs://"+cidV0+"/1.png", r.NormalizeImage("https://gateway.pinata.cloud/ipfs/"+cidV0+"/1.png"))
	assert.Equal(t, "https://example.com/1.png", r.NormalizeImage("https://example.com/1.png"))
}

func TestHTTPURL(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	u, err := r.HTTPURL("ipfs://" + cidV0 + "/1.png")
	require.NoError(t, err)
	assert.Equal(t, "https://ipfs.io/ipfs/"+cidV0+"/1.png", u)

	_, err = r.HTTPURL(`data:application/json,{}`)
	assert.ErrorIs(t, err, nft.ErrResolution)
}

func TestExpandID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://x/"+strings.Repeat("0", 62)+"1a.json", ExpandID("https://x/{id}.json", 26))
	assert.Equal(t, "https://x/1", ExpandID("https://x/1", 1))
}

func TestParseCID(t *testing.T) {
	t.Parallel()

	c, err := ParseCID(cidV1)
	require.NoError(t, err)
	assert.Equal(t, cidV1, c.String())

	_, err = ParseCID("not-a-cid")
	assert.Error(t, err)
}

func TestNewRequiresGateway(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	assert.Error(t, err)

	r, err := New([]string{"https://ipfs.io/ipfs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://ipfs.io/ipfs/", r.NextGateway())
}
