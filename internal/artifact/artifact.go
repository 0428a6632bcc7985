package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorrupt is returned when an artifact exists but cannot be decoded.
var ErrCorrupt = errors.New("artifact is corrupt")

// Artifact file names, fixed across runs so cron jobs can chain stages.
const (
	TrendsFile   = "bubble_trends.json"
	SelectedFile = "selected_tags.json"
	ManifestFile = "ads_uploads_manifest.json"
	IndexFile    = "ads_dedupe_index.json"
	ReportFile   = "ads_created.json"
)

// Paths locates every hand-off file inside one directory.
type Paths struct {
	Dir string
}

func (p Paths) Trends() string   { return filepath.Join(p.Dir, TrendsFile) }
func (p Paths) Selected() string { return filepath.Join(p.Dir, SelectedFile) }
func (p Paths) Manifest() string { return filepath.Join(p.Dir, ManifestFile) }
func (p Paths) Index() string    { return filepath.Join(p.Dir, IndexFile) }
func (p Paths) Report() string   { return filepath.Join(p.Dir, ReportFile) }

// WriteJSON replaces path with v as indented JSON. The bytes go to a temp file
// in the same directory first, so readers only ever see a complete document.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes path into v. A missing file wraps os.ErrNotExist; a
// file that does not decode wraps ErrCorrupt.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w: %v", path, ErrCorrupt, err)
	}
	return nil
}
