// Package chain describes the EVM networks the indexer knows about. Per-chain
// behaviour lives in the Chain value so callers never branch on names.
package chain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Standard selects which token-URI accessor a chain's collections expose.
type Standard string

// Supported token standards.
const (
	ERC721  Standard = "erc721"
	ERC1155 Standard = "erc1155"
)

// Accessor returns the contract method used to read a token URI.
func (s Standard) Accessor() string {
	if s == ERC1155 {
		return "uri"
	}
	return "tokenURI"
}

// Alternate returns the accessor tried when the preferred one fails.
func (s Standard) Alternate() string {
	if s == ERC1155 {
		return "tokenURI"
	}
	return "uri"
}

// Valid reports whether s is a known standard.
func (s Standard) Valid() bool {
	return s == ERC721 || s == ERC1155
}

// Chain is the immutable configuration for one network.
type Chain struct {
	Name            string   `mapstructure:"name"`
	Prefix          string   `mapstructure:"prefix"`
	Standard        Standard `mapstructure:"standard"`
	RPCURL          string   `mapstructure:"rpc_url"`
	SecondaryRPCURL string   `mapstructure:"secondary_rpc_url"`
	SampleTokenID   int64    `mapstructure:"sample_token_id"`
}

// IndexedDir is the directory holding the chain's indexed-set file.
func (c Chain) IndexedDir(root string) string {
	return filepath.Join(root, c.Prefix+"-indexed")
}

// DirectoryDir is the directory holding the chain's directory file.
func (c Chain) DirectoryDir(root string) string {
	return filepath.Join(root, c.Prefix+"-directory")
}

// ContractDir is the per-contract folder under the chain's namespace.
func (c Chain) ContractDir(root, contract string) string {
	return filepath.Join(root, c.Name, contract)
}

// Validate ensures the chain can be used by the reader and the store.
func (c Chain) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("chain name is required")
	}
	if strings.TrimSpace(c.Prefix) == "" {
		return fmt.Errorf("chain %s: prefix is required", c.Name)
	}
	if !c.Standard.Valid() {
		return fmt.Errorf("chain %s: unknown standard %q", c.Name, c.Standard)
	}
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("chain %s: rpc_url is required", c.Name)
	}
	if c.SampleTokenID < 0 {
		return fmt.Errorf("chain %s: sample_token_id must be >= 0", c.Name)
	}
	return nil
}

// Defaults returns the built-in chain table in scheduling order.
func Defaults() []Chain {
	return []Chain{
		{Name: "ethereum", Prefix: "eth", Standard: ERC721, RPCURL: "https://ethereum.rpc.thirdweb.com", SampleTokenID: 1},
		{Name: "polygon", Prefix: "poly", Standard: ERC1155, RPCURL: "https://polygon.rpc.thirdweb.com", SampleTokenID: 0},
		{Name: "avalanche", Prefix: "avax", Standard: ERC721, RPCURL: "https://avalanche.rpc.thirdweb.com", SampleTokenID: 1},
		{Name: "fantom", Prefix: "ftm", Standard: ERC1155, RPCURL: "https://fantom.rpc.thirdweb.com", SampleTokenID: 0},
	}
}
