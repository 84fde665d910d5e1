package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

// ErrCorruptDirectory marks a directory file that exists but cannot be
// decoded.
var ErrCorruptDirectory = errors.New("corrupt directory file")

// DirectoryFile reads and writes a chain's directory.json, a JSON array of
// entries.
type DirectoryFile struct {
	layout Layout
}

// NewDirectoryFile builds a DirectoryFile rooted at layout.
func NewDirectoryFile(layout Layout) *DirectoryFile {
	return &DirectoryFile{layout: layout}
}

// Load returns the chain's entries. A missing file is empty; an unreadable
// one returns an error matching ErrCorruptDirectory.
func (d *DirectoryFile) Load(ch chain.Chain) ([]nft.DirectoryEntry, error) {
	path := d.layout.DirectoryFile(ch)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []nft.DirectoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var entries []nft.DirectoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptDirectory, path, err)
	}
	if entries == nil {
		entries = []nft.DirectoryEntry{}
	}
	return entries, nil
}

// Save replaces the chain's directory file.
func (d *DirectoryFile) Save(ch chain.Chain, entries []nft.DirectoryEntry) error {
	if entries == nil {
		entries = []nft.DirectoryEntry{}
	}
	if err := WriteJSONAtomic(d.layout.DirectoryFile(ch), entries); err != nil {
		return fmt.Errorf("write directory for %s: %w", ch.Name, err)
	}
	return nil
}
