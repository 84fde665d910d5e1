// Package resolver classifies token URIs and turns them into fetchable
// locations. It owns the IPFS gateway rotation: every IPFS rewrite takes the
// next gateway from a fixed list, wrapping at the end.
package resolver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	gocid "github.com/ipfs/go-cid"

	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

// ErrMalformedDataURI marks an inline document that cannot be decoded. It is
// never worth retrying.
var ErrMalformedDataURI = errors.New("malformed data uri")

// Kind is the classification of a token URI.
type Kind int

// URI kinds in classification order.
const (
	KindDataURI Kind = iota + 1
	KindPinning
	KindIPFS
	KindHTTP
	KindBasePath
)

func (k Kind) String() string {
	switch k {
	case KindDataURI:
		return "data"
	case KindPinning:
		return "pinning"
	case KindIPFS:
		return "ipfs"
	case KindHTTP:
		return "http"
	case KindBasePath:
		return "base_path"
	default:
		return "unknown"
	}
}

// Location is a classified token URI.
type Location struct {
	Kind Kind
	Raw  string
	// CID and Path are set for IPFS and pinning locations. Path has no
	// leading slash.
	CID  string
	Path string
	// URL is the primary fetch target; empty for data URIs.
	URL string
	// Gateway is the rotation index URL was built from. Alternates start
	// at the gateway after it.
	Gateway int
	// Document holds the decoded payload of a data URI.
	Document []byte
}

// Resolver holds the gateway rotation and the pinning prefixes to rewrite.
type Resolver struct {
	mu       sync.Mutex
	gateways []string
	next     int
	pinning  []string
}

// New builds a Resolver. Gateways are used in order and must end in "/ipfs/"
// style prefixes to which a CID is appended.
func New(gateways, pinningPrefixes []string) (*Resolver, error) {
	if len(gateways) == 0 {
		return nil, fmt.Errorf("at least one ipfs gateway is required")
	}
	r := &Resolver{}
	for _, g := range gateways {
		g = strings.TrimSpace(g)
		if g == "" {
			return nil, fmt.Errorf("empty ipfs gateway")
		}
		if !strings.HasSuffix(g, "/") {
			g += "/"
		}
		r.gateways = append(r.gateways, g)
	}
	for _, p := range pinningPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			r.pinning = append(r.pinning, p)
		}
	}
	return r, nil
}

// NextGateway returns the next gateway in rotation.
func (r *Resolver) NextGateway() string {
	return r.gateways[r.advance()]
}

func (r *Resolver) advance() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.next
	r.next = (r.next + 1) % len(r.gateways)
	return i
}

// Resolve classifies uri and computes its primary fetch location.
func (r *Resolver) Resolve(uri string) (Location, error) {
	raw := strings.TrimSpace(uri)
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty uri", nft.ErrResolution)
	}
	loc := Location{Raw: raw}

	if hasPrefixFold(raw, "data:") {
		doc, err := decodeDataURI(raw)
		if err != nil {
			return Location{}, err
		}
		loc.Kind = KindDataURI
		loc.Document = doc
		return loc, nil
	}

	for _, prefix := range r.pinning {
		if strings.HasPrefix(raw, prefix) {
			cid, path, ok := splitCID(strings.TrimPrefix(raw, prefix))
			if !ok {
				return Location{}, fmt.Errorf("%w: no cid in %q", nft.ErrResolution, raw)
			}
			loc.Kind, loc.CID, loc.Path = KindPinning, cid, path
			loc.Gateway = r.advance()
			loc.URL = gatewayURL(r.gateways[loc.Gateway], cid, path)
			return loc, nil
		}
	}

	if cid, path, ok := ExtractCID(raw); ok {
		loc.Kind, loc.CID, loc.Path = KindIPFS, cid, path
		loc.Gateway = r.advance()
		loc.URL = gatewayURL(r.gateways[loc.Gateway], cid, path)
		return loc, nil
	}

	if strings.HasSuffix(raw, "/") || !hasPrefixFold(raw, "http://") && !hasPrefixFold(raw, "https://") {
		loc.Kind = KindBasePath
		loc.URL = strings.TrimSuffix(raw, "/")
		if !strings.Contains(loc.URL, "://") {
			loc.URL = "https://" + loc.URL
		}
		return loc, nil
	}

	loc.Kind = KindHTTP
	loc.URL = raw
	return loc, nil
}

// Candidates lists the URLs to try for one attempt, in order. It does not
// touch the rotation, so the same location always yields the same list.
func (r *Resolver) Candidates(loc Location, tokenID int64) []string {
	id := strconv.FormatInt(tokenID, 10)
	var out []string
	switch loc.Kind {
	case KindHTTP:
		out = withJSONSuffix(loc.URL)
	case KindBasePath:
		out = []string{loc.URL + "/" + id + ".json", loc.URL + "/" + id}
	case KindIPFS, KindPinning:
		out = withJSONSuffix(loc.URL)
		if loc.Path == "" {
			out = append(out, loc.URL+"/"+id+".json", loc.URL+"/"+id)
		}
		if len(r.gateways) > 1 {
			alt := r.gateways[(loc.Gateway+1)%len(r.gateways)]
			out = append(out, gatewayURL(alt, loc.CID, loc.Path))
		}
	}
	return dedupe(out)
}

// HTTPURL resolves an image or document reference to a single fetchable URL.
func (r *Resolver) HTTPURL(uri string) (string, error) {
	loc, err := r.Resolve(uri)
	if err != nil {
		return "", err
	}
	switch loc.Kind {
	case KindHTTP, KindIPFS, KindPinning:
		return loc.URL, nil
	default:
		return "", fmt.Errorf("%w: %s uri %q has no single url", nft.ErrResolution, loc.Kind, uri)
	}
}

// NormalizeImage rewrites pinning-service image links to ipfs:// form.
func (r *Resolver) NormalizeImage(image string) string {
	for _, prefix := range r.pinning {
		if strings.HasPrefix(image, prefix) {
			return "ipfs://" + strings.TrimPrefix(image, prefix)
		}
	}
	return image
}

// ExtractCID pulls the CID and trailing path out of any IPFS-style URI:
// ipfs://<cid>/<path>, ipfs://ipfs/<cid>, or anything containing ipfs/<cid>.
// Subdomain gateways (https://<cid>.ipfs.<host>/<path>) are recognised when
// the first host label decodes as a CID.
func ExtractCID(uri string) (cid, path string, ok bool) {
	switch {
	case hasPrefixFold(uri, "ipfs://"):
		rest := uri[len("ipfs://"):]
		rest = strings.TrimPrefix(rest, "ipfs/")
		return splitCID(rest)
	case strings.Contains(uri, "ipfs/"):
		return splitCID(uri[strings.Index(uri, "ipfs/")+len("ipfs/"):])
	}
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	labels := strings.Split(u.Hostname(), ".")
	if len(labels) < 3 || labels[1] != "ipfs" {
		return "", "", false
	}
	if _, err := gocid.Decode(labels[0]); err != nil {
		return "", "", false
	}
	return labels[0], strings.TrimPrefix(u.EscapedPath(), "/"), true
}

// ParseCID validates a content identifier.
func ParseCID(s string) (gocid.Cid, error) {
	c, err := gocid.Decode(strings.TrimSpace(s))
	if err != nil {
		return gocid.Undef, fmt.Errorf("parse cid %q: %w", s, err)
	}
	return c, nil
}

// ExpandID substitutes the ERC-1155 {id} placeholder with the 64-character
// lowercase hex form of tokenID.
func ExpandID(uri string, tokenID int64) string {
	if !strings.Contains(uri, "{id}") {
		return uri
	}
	return strings.ReplaceAll(uri, "{id}", fmt.Sprintf("%064x", tokenID))
}

func splitCID(s string) (cid, path string, ok bool) {
	cid, path, _ = strings.Cut(s, "/")
	if cid == "" {
		return "", "", false
	}
	return cid, strings.TrimSuffix(path, "/"), true
}

func gatewayURL(gateway, cid, path string) string {
	if path == "" {
		return gateway + cid
	}
	return gateway + cid + "/" + path
}

func withJSONSuffix(u string) []string {
	if strings.HasSuffix(strings.ToLower(u), ".json") {
		return []string{u}
	}
	return []string{u, u + ".json"}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func decodeDataURI(raw string) ([]byte, error) {
	header, payload, found := strings.Cut(raw[len("data:"):], ",")
	if !found {
		return nil, fmt.Errorf("%w: missing payload separator", ErrMalformedDataURI)
	}
	var body []byte
	if strings.Contains(strings.ToLower(header), ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
		}
		body = decoded
	} else {
		body = []byte(payload)
		if !json.Valid(body) {
			if unescaped, err := url.PathUnescape(payload); err == nil {
				body = []byte(unescaped)
			}
		}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: payload is not json", ErrMalformedDataURI)
	}
	if trimmed := bytes.TrimSpace(body); trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a json object", ErrMalformedDataURI)
	}
	return body, nil
}
