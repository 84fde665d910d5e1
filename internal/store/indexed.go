package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
)

type indexedFile struct {
	Collections []string `json:"collections"`
}

// IndexedSet is the file-backed set of fully processed contracts per chain.
// Addresses compare case-insensitively; the first spelling seen is kept.
type IndexedSet struct {
	layout Layout
	mu     sync.Mutex
}

// NewIndexedSet builds an IndexedSet rooted at layout.
func NewIndexedSet(layout Layout) *IndexedSet {
	return &IndexedSet{layout: layout}
}

// List returns the chain's indexed addresses in insertion order. A missing
// file is an empty set.
func (s *IndexedSet) List(ch chain.Chain) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ch)
}

// IsIndexed reports whether contract is in the chain's set.
func (s *IndexedSet) IsIndexed(ch chain.Chain, contract string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load(ch)
	if err != nil {
		return false, err
	}
	return containsFold(list, contract), nil
}

// MarkIndexed adds contract to the chain's set. Marking an address that is
// already present leaves the file untouched.
func (s *IndexedSet) MarkIndexed(ch chain.Chain, contract string) error {
	contract = strings.TrimSpace(contract)
	if contract == "" {
		return fmt.Errorf("mark indexed: empty contract address")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load(ch)
	if err != nil {
		return err
	}
	if containsFold(list, contract) {
		return nil
	}
	list = append(list, contract)
	if err := WriteJSONAtomic(s.layout.IndexedFile(ch), indexedFile{Collections: list}); err != nil {
		return fmt.Errorf("write indexed set for %s: %w", ch.Name, err)
	}
	return nil
}

func (s *IndexedSet) load(ch chain.Chain) ([]string, error) {
	path := s.layout.IndexedFile(ch)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f indexedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out := make([]string, 0, len(f.Collections))
	for _, addr := range f.Collections {
		if !containsFold(out, addr) {
			out = append(out, addr)
		}
	}
	return out, nil
}

func containsFold(list []string, addr string) bool {
	for _, existing := range list {
		if strings.EqualFold(existing, addr) {
			return true
		}
	}
	return false
}
