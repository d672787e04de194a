package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"durakv/internal/common"
)

// SnapshotDocument is the base index file layout: the full key directory plus
// checkpoint counters, serialized as one JSON document.
type SnapshotDocument struct {
	Index     map[string]common.RecordMetadata `json:"index"`
	Stats     SnapshotStats                    `json:"stats"`
	UpdatedAt int64                            `json:"updatedAt"`
}

type SnapshotStats struct {
	LastCheckpointTime int64 `json:"lastCheckpointTime"`
	Checkpoints        int64 `json:"checkpoints"`
}

// WriteSnapshot persists the document next to the target path and renames it
// into place. The rename is the commit point: a crash before it leaves the
// previous base file untouched, a crash after it leaves the new one whole.
// On any failure the temp file is removed and the old base stays
// authoritative. Returns the serialized document size.
func WriteSnapshot(path string, doc SnapshotDocument, forceSync bool) (int64, error) {
	doc.UpdatedAt = time.Now().UnixMilli()

	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode index snapshot: %w", err)
	}

	tmpPath := path + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot temp file: %w", err)
	}

	if _, err := tmpFile.Write(body); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if forceSync {
		if err := tmpFile.Sync(); err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return 0, fmt.Errorf("failed to sync snapshot: %w", err)
		}
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return int64(len(body)), nil
}

// LoadSnapshot reads the base index file. A missing file is ErrNoSnapshot,
// which recovery treats as an empty index.
func LoadSnapshot(path string) (SnapshotDocument, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SnapshotDocument{}, ErrNoSnapshot
		}
		return SnapshotDocument{}, fmt.Errorf("failed to read index snapshot: %w", err)
	}

	var doc SnapshotDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return SnapshotDocument{}, fmt.Errorf("failed to decode index snapshot: %w", err)
	}
	if doc.Index == nil {
		doc.Index = make(map[string]common.RecordMetadata)
	}
	return doc, nil
}
