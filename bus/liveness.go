package bus

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Touch stamps the sentinel file at path with the current time, creating it
// (and parent directories) if absent. Producers call this as a heartbeat
// substitute that avoids any two-way handshake.
func Touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sentinel dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open sentinel: %w", err)
	}
	f.Close()

	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("stamp sentinel: %w", err)
	}
	return nil
}

// Fresh reports whether the sentinel file's last-modified time is within
// maxAge of the current time. A missing sentinel is simply not fresh.
func Fresh(path string, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	age := time.Since(info.ModTime())
	return age >= 0 && age <= maxAge
}
