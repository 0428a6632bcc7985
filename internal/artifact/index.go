package artifact

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// IndexEntry is the remote file a content hash resolves to.
type IndexEntry struct {
	FileID     string    `json:"file_id"`
	FileName   string    `json:"file_name"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DedupeIndex maps SHA-256 hex digests to Drive files. It is shared across
// runs: loaded whole before a run and replaced whole after it.
type DedupeIndex struct {
	ByHash map[string]IndexEntry `json:"by_hash"`
}

// NewDedupeIndex returns an empty index.
func NewDedupeIndex() *DedupeIndex {
	return &DedupeIndex{ByHash: make(map[string]IndexEntry)}
}

// LoadIndex reads the index at path. A missing file is an empty index; an
// unreadable one is an error wrapping ErrCorrupt.
func LoadIndex(path string) (*DedupeIndex, error) {
	idx := NewDedupeIndex()
	if err := ReadJSON(path, idx); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDedupeIndex(), nil
		}
		return nil, fmt.Errorf("load dedupe index: %w", err)
	}
	if idx.ByHash == nil {
		idx.ByHash = make(map[string]IndexEntry)
	}
	return idx, nil
}

// Lookup returns the entry for sha, if any.
func (d *DedupeIndex) Lookup(sha string) (IndexEntry, bool) {
	e, ok := d.ByHash[sha]
	return e, ok && e.FileID != ""
}

// Put records the remote file for sha, replacing any previous mapping.
func (d *DedupeIndex) Put(sha string, e IndexEntry) {
	d.ByHash[sha] = e
}

// Len returns the number of known hashes.
func (d *DedupeIndex) Len() int { return len(d.ByHash) }

// Save atomically replaces the index file.
func (d *DedupeIndex) Save(path string) error {
	if err := WriteJSON(path, d); err != nil {
		return fmt.Errorf("save dedupe index: %w", err)
	}
	return nil
}
