// Package contract reads token URIs and collection fields over JSON-RPC.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

const metadataABI = `[
  {"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"uri","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// absentMarkers are substrings of RPC errors meaning the token id is past
// the end of the collection.
var absentMarkers = []string{"nonexistent token", "revert"}

// Caller performs eth_call. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer connects to an RPC endpoint.
type Dialer func(ctx context.Context, rawURL string) (Caller, error)

// Option customizes a Reader.
type Option func(*Reader)

// WithDialer replaces the ethclient dialer, mostly for tests.
func WithDialer(d Dialer) Option {
	return func(r *Reader) {
		r.dial = d
	}
}

// Reader calls metadata accessors on ERC-721 and ERC-1155 contracts. RPC
// clients are dialed on first use and cached per endpoint.
type Reader struct {
	abi    abi.ABI
	dial   Dialer
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]Caller
}

// NewReader builds a Reader.
func NewReader(logger *zap.Logger, opts ...Option) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(metadataABI))
	if err != nil {
		return nil, fmt.Errorf("parse metadata abi: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reader{
		abi:     parsed,
		dial:    dialEthclient,
		logger:  logger.Named("contract"),
		clients: make(map[string]Caller),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func dialEthclient(ctx context.Context, rawURL string) (Caller, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// TokenURI reads the token URI using the chain's preferred accessor. When
// that fails it tries the other accessor on the primary endpoint, then the
// preferred accessor on the secondary endpoint if one is configured.
func (r *Reader) TokenURI(ctx context.Context, ch chain.Chain, contract string, tokenID int64) (string, error) {
	preferred := ch.Standard.Accessor()
	if !common.IsHexAddress(contract) {
		return "", &nft.ReadError{Contract: contract, TokenID: tokenID, Method: preferred, Err: fmt.Errorf("invalid address")}
	}
	addr := common.HexToAddress(contract)
	id := big.NewInt(tokenID)

	uri, primaryErr := r.callString(ctx, ch.RPCURL, addr, preferred, id)
	if primaryErr == nil {
		return uri, nil
	}
	errs := []error{fmt.Errorf("%s on primary: %w", preferred, primaryErr)}

	alternate := ch.Standard.Alternate()
	uri, err := r.callString(ctx, ch.RPCURL, addr, alternate, id)
	if err == nil {
		r.logger.Debug("token uri read via alternate accessor",
			zap.String("chain", ch.Name), zap.String("contract", contract), zap.String("method", alternate))
		return uri, nil
	}
	errs = append(errs, fmt.Errorf("%s on primary: %w", alternate, err))

	if ch.SecondaryRPCURL != "" {
		uri, err = r.callString(ctx, ch.SecondaryRPCURL, addr, preferred, id)
		if err == nil {
			r.logger.Debug("token uri read via secondary endpoint",
				zap.String("chain", ch.Name), zap.String("contract", contract))
			return uri, nil
		}
		errs = append(errs, fmt.Errorf("%s on secondary: %w", preferred, err))
	}

	return "", &nft.ReadError{
		Contract: contract,
		TokenID:  tokenID,
		Method:   preferred,
		Absent:   isAbsent(primaryErr),
		Err:      errors.Join(errs...),
	}
}

// Name reads the collection name.
func (r *Reader) Name(ctx context.Context, ch chain.Chain, contract string) (string, error) {
	return r.collectionField(ctx, ch, contract, "name")
}

// Symbol reads the collection symbol.
func (r *Reader) Symbol(ctx context.Context, ch chain.Chain, contract string) (string, error) {
	return r.collectionField(ctx, ch, contract, "symbol")
}

func (r *Reader) collectionField(ctx context.Context, ch chain.Chain, contract, method string) (string, error) {
	if !common.IsHexAddress(contract) {
		return "", &nft.ReadError{Contract: contract, Method: method, Err: fmt.Errorf("invalid address")}
	}
	addr := common.HexToAddress(contract)
	v, err := r.callString(ctx, ch.RPCURL, addr, method)
	if err != nil && ch.SecondaryRPCURL != "" {
		v, err = r.callString(ctx, ch.SecondaryRPCURL, addr, method)
	}
	if err != nil {
		return "", &nft.ReadError{Contract: contract, Method: method, Err: err}
	}
	return v, nil
}

func (r *Reader) callString(ctx context.Context, rpcURL string, to common.Address, method string, args ...any) (string, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	client, err := r.client(ctx, rpcURL)
	if err != nil {
		return "", err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", fmt.Errorf("%s returned no data", method)
	}
	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return "", fmt.Errorf("unpack %s: got %d values", method, len(values))
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unpack %s: got %T", method, values[0])
	}
	return s, nil
}

func (r *Reader) client(ctx context.Context, rpcURL string) (Caller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[rpcURL]; ok {
		return c, nil
	}
	c, err := r.dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	r.clients[rpcURL] = c
	return c, nil
}

// Close releases cached RPC clients.
func (r *Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for url, c := range r.clients {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(r.clients, url)
	}
}

func isAbsent(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range absentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
