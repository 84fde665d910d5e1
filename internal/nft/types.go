package nft

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Task is one unit of indexing work received from the task source.
type Task struct {
	ContractAddress string `json:"contractAddress"`
	Network         string `json:"network"`
	StartToken      int64  `json:"startToken"`
	EndToken        int64  `json:"endToken"`
}

// Validate checks the task range and that the address is a 20-byte hex
// address, which also keeps it safe to use as a path component.
func (t Task) Validate() error {
	if t.ContractAddress == "" {
		return fmt.Errorf("task: contract address is required")
	}
	if !common.IsHexAddress(t.ContractAddress) {
		return fmt.Errorf("task: %q is not a hex contract address", t.ContractAddress)
	}
	if t.StartToken < 0 {
		return fmt.Errorf("task %s: start token %d is negative", t.ContractAddress, t.StartToken)
	}
	if t.EndToken < t.StartToken {
		return fmt.Errorf("task %s: end token %d before start token %d", t.ContractAddress, t.EndToken, t.StartToken)
	}
	return nil
}

// Record is the persisted metadata document for one token. Fields holds the
// source JSON object verbatim; Index always wins over any "index" key in it.
type Record struct {
	Index  int64
	Fields map[string]any
}

// MarshalJSON flattens the record so the index sits beside the source fields.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["index"] = r.Index
	return json.Marshal(out)
}

// UnmarshalJSON splits a stored document back into the index and the fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if raw, ok := fields["index"]; ok {
		n, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("decode record: index is %T, want number", raw)
		}
		r.Index = int64(n)
		delete(fields, "index")
	}
	r.Fields = fields
	return nil
}

// Image returns the record's image field when it is a string.
func (r Record) Image() string {
	s, _ := r.Fields["image"].(string)
	return s
}

// StoredRecord is a record as it comes back out of a record log.
type StoredRecord struct {
	Seq       int64
	Record    Record
	WrittenAt time.Time
}

// DirectoryEntry summarises an indexed collection for the per-chain
// directory file.
type DirectoryEntry struct {
	Contract string `json:"contract"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Image    string `json:"image"`
}

// Document is a fetched metadata payload before it becomes a Record.
type Document struct {
	SourceURL string
	Body      []byte
}
