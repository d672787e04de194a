package engine

import (
	"time"

	"durakv/internal/common"
	"durakv/internal/storage"
)

// Checkpoint snapshots the index to the base file and truncates the WAL.
func (e *Engine) Checkpoint(forceSync bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosing || e.state == stateClosed {
		return ErrClosed
	}
	return e.performCheckpointLocked(forceSync, false)
}

// performCheckpointLocked writes the full index as a document, renames it
// over the base file (the commit point), then truncates the WAL. A failure
// anywhere before the rename leaves the prior base and the WAL authoritative.
func (e *Engine) performCheckpointLocked(forceSync, duringClose bool) error {
	if e.checkpointRunning && !duringClose {
		return nil
	}
	e.checkpointRunning = true
	defer func() { e.checkpointRunning = false }()

	// Bring the index up to date with everything queued; skipped during
	// close because Close has already run the final flushes.
	if !duringClose {
		if err := e.flushToWALLocked(forceSync); err != nil {
			return err
		}
	}

	e.observer.Emit(common.EventCheckpointStart)

	doc := storage.SnapshotDocument{
		Index: e.index.Snapshot(),
		Stats: storage.SnapshotStats{
			LastCheckpointTime: e.stats.LastCheckpointTime,
			Checkpoints:        e.stats.Checkpoints,
		},
	}

	size, err := storage.WriteSnapshot(e.cfg.IndexFilePath, doc, forceSync)
	if err != nil {
		e.observer.Emit(common.EventError, err)
		return err
	}

	if err := e.wal.Truncate(forceSync); err != nil {
		e.observer.Emit(common.EventError, err)
		return err
	}
	e.stats.BytesWrittenToWAL = 0

	e.stats.Checkpoints++
	e.stats.LastCheckpointTime = time.Now().UnixMilli()
	e.stats.IndexSizeBytes = size

	e.observer.Emit(common.EventCheckpointEnd, size)
	return nil
}
