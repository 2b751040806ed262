// Package bus implements the durable, file-backed coordination layer used
// between processes that poll at different cadences: an atomic document
// store, append-only per-channel record logs and a liveness-by-freshness
// sentinel check. All primitives tolerate missing files by returning
// documented fallbacks; only write failures propagate, since they indicate
// environment problems the caller must react to.
package bus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReadDocument loads a JSON document from path into v and reports whether it
// succeeded. On a missing or unparsable file v is left untouched, so callers
// pre-populate v with their fallback value.
func ReadDocument(path string, v any) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// WriteDocument serializes v and atomically replaces the document at path via
// a sibling temporary file and rename. Readers never observe a partially
// written document; concurrent writers are last-writer-wins.
func WriteDocument(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", filepath.Base(path), err)
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}

	// The temp file must live on the same filesystem as the target for the
	// rename to be atomic.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}
