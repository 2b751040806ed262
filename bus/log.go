package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RecordVersion is the schema version tag stamped on appended records.
// Records carrying a different version are skipped on read.
const RecordVersion = 1

// Record is one immutable entry in a per-channel append-only log: exactly one
// JSON object per line, ordered by append position. Consumers track a byte
// offset into the file as their read cursor, never a line count.
type Record struct {
	Version   int             `json:"v"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts"`
}

// NewRecord builds a record of the given kind with a JSON-marshalled payload
// and the current wall clock in unix milliseconds.
func NewRecord(kind string, payload any) (Record, error) {
	rec := Record{Version: RecordVersion, Kind: kind, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Record{}, fmt.Errorf("marshal %q payload: %w", kind, err)
		}
		rec.Payload = raw
	}
	return rec, nil
}

// DecodePayload unmarshals the record payload into v.
func (r Record) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("record %q has no payload", r.Kind)
	}
	return json.Unmarshal(r.Payload, v)
}

// valid gates records on read: a record must carry the current version tag
// and a kind. Anything else is skipped, not propagated as an error.
func (r Record) valid() bool {
	return r.Version == RecordVersion && r.Kind != ""
}

// Append writes one newline-terminated record to the channel log at path,
// creating parent directories and the file itself if absent. Write failures
// propagate to the caller.
func Append(path string, rec Record) error {
	if rec.Version == 0 {
		rec.Version = RecordVersion
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// ReadSince returns every valid record appended at or after the given byte
// offset, plus the new offset (the file size at read time). The offset is
// clamped to the current file size so truncation and rotation degrade
// gracefully. Blank lines and records failing schema validation are skipped.
// A missing file yields an empty list and offset zero, not an error.
func ReadSince(path string, offset int64) ([]Record, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log: %w", err)
	}
	size := info.Size()

	if offset < 0 {
		offset = 0
	}
	if offset > size {
		offset = size
	}
	if offset == size {
		return nil, size, nil
	}

	raw := make([]byte, size-offset)
	if _, err := f.ReadAt(raw, offset); err != nil {
		return nil, offset, fmt.Errorf("read log range: %w", err)
	}

	var records []Record
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil || !rec.valid() {
			continue
		}
		records = append(records, rec)
	}
	return records, size, nil
}
