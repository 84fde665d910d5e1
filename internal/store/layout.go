package store

import (
	"path/filepath"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
)

const (
	indexedFileName   = "indexed.json"
	directoryFileName = "directory.json"
	recordDBName      = "mixtape.db"
	// RecordCollection is the table every record log writes to.
	RecordCollection = "metadata"
)

// Layout maps chains and contracts onto paths under Root.
type Layout struct {
	Root string
}

// IndexedFile is <root>/<prefix>-indexed/indexed.json.
func (l Layout) IndexedFile(ch chain.Chain) string {
	return filepath.Join(ch.IndexedDir(l.Root), indexedFileName)
}

// DirectoryFile is <root>/<prefix>-directory/directory.json.
func (l Layout) DirectoryFile(ch chain.Chain) string {
	return filepath.Join(ch.DirectoryDir(l.Root), directoryFileName)
}

// ContractDir is <root>/<chain>/<contract>.
func (l Layout) ContractDir(ch chain.Chain, contract string) string {
	return ch.ContractDir(l.Root, contract)
}

// CIDDir is <root>/ipfs/<cid>, used when indexing straight from a CID.
func (l Layout) CIDDir(cid string) string {
	return filepath.Join(l.Root, "ipfs", cid)
}

// RecordDB is the SQLite file inside a contract or CID folder.
func RecordDB(dir string) string {
	return filepath.Join(dir, recordDBName)
}
