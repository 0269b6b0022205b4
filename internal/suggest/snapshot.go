package suggest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"tally/internal/log"
)

const snapshotVersion = 1

type snapshot struct {
	Version int    `json:"version"`
	Items   []Item `json:"items"`
}

// Save writes the index to the snapshot file, replacing it atomically.
// It is a no-op for an in-memory engine.
func (e *Engine) Save() error {
	if e.path == "" {
		return nil
	}
	e.mu.Lock()
	items := e.snapshotLocked()
	e.mu.Unlock()

	data, err := json.Marshal(snapshot{Version: snapshotVersion, Items: items})
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}
	return writeFileAtomic(e.path, data)
}

// Load replaces the index with the snapshot file. A missing file yields an
// empty index. Any read or decode failure also leaves the index empty and is
// returned for the caller to log.
func (e *Engine) Load() error {
	if e.path == "" {
		return nil
	}

	items, err := readSnapshot(e.path)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
	e.items = make(map[itemKey]*Item, len(items))
	if err == nil {
		for i := range items {
			it := items[i]
			n := it.Normalized()
			if n == "" {
				continue
			}
			key := itemKey{normalized: n, category: it.CategoryID}
			if prev, ok := e.items[key]; ok {
				prev.Frequency += it.Frequency
				if it.LastUsed.After(prev.LastUsed) {
					prev.LastUsed = it.LastUsed
				}
				continue
			}
			e.items[key] = &it
		}
	}
	e.rebuildLocked()

	if err != nil {
		e.logger.Warn("Suggestion snapshot unreadable, starting empty",
			log.FieldPath, e.path,
			log.FieldError, err)
		return err
	}
	return nil
}

func readSnapshot(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read suggestions: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	// Older snapshots are a bare array of items.
	if trimmed[0] == '[' {
		var items []Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode suggestions: %w", err)
		}
		return items, nil
	}

	var s snapshot
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported suggestions version %d", s.Version)
	}
	return s.Items, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create suggestions directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".suggestions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write suggestions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync suggestions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close suggestions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace suggestions: %w", err)
	}
	return nil
}

// persist saves after a mutation; failures only get logged because the
// in-memory index stays authoritative.
func (e *Engine) persist(op string) {
	if err := e.Save(); err != nil {
		e.logger.Error("Failed to save suggestion snapshot",
			log.FieldOperation, op,
			log.FieldPath, e.path,
			log.FieldError, err)
	}
}
