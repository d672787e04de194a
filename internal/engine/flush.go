package engine

import (
	"fmt"

	"durakv/internal/common"
	"durakv/internal/serializer"
)

// Flush pushes dirty values into the data log and queued index changes into
// the WAL. With forceSync both files are fsynced.
func (e *Engine) Flush(forceSync bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosing || e.state == stateClosed {
		return ErrClosed
	}
	if err := e.flushDataLocked(forceSync); err != nil {
		return err
	}
	return e.flushToWALLocked(forceSync)
}

// scheduleDataFlushLocked defers one data flush to run after the current
// operation releases the lock. Repeat calls while one is queued are no-ops,
// so a burst of writes coalesces into a single batch.
func (e *Engine) scheduleDataFlushLocked() {
	if e.dataFlushScheduled || e.state != stateOpen {
		return
	}
	e.dataFlushScheduled = true
	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.dataFlushScheduled = false
		if e.state != stateOpen {
			return
		}
		e.flushDataLocked(false)
		e.flushToWALLocked(false)
	}()
}

func (e *Engine) scheduleIndexFlushLocked() {
	if e.indexFlushScheduled || e.state != stateOpen {
		return
	}
	e.indexFlushScheduled = true
	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.indexFlushScheduled = false
		if e.state != stateOpen {
			return
		}
		e.flushToWALLocked(false)
	}()
}

// flushDataLocked appends every dirty value to the data log, installs the
// fresh metadata, and queues the matching WAL entries. A failed append puts
// the key back in the dirty set for the next flush; a value that cannot be
// serialized is dropped from the batch since retrying cannot help it.
func (e *Engine) flushDataLocked(forceSync bool) error {
	if len(e.dirtyKeys) == 0 {
		return nil
	}

	batch := e.dirtyKeys
	e.dirtyKeys = make(map[string]struct{})

	var bytesWritten int64
	flushed := 0

	for key := range batch {
		value, ok := e.cache.Peek(key)
		if !ok {
			continue
		}

		encoded, err := serializer.Encode(value)
		if err != nil {
			e.observer.Emit(common.EventError, fmt.Errorf("serialize %q: %w", key, err))
			continue
		}

		offset := e.writeCursor
		if _, err := e.dataLog.AppendAt(encoded, offset); err != nil {
			e.dirtyKeys[key] = struct{}{}
			e.observer.Emit(common.EventError, fmt.Errorf("append %q: %w", key, err))
			continue
		}
		e.writeCursor += int64(len(encoded))

		meta := common.RecordMetadata{
			Offset: offset,
			Size:   int64(len(encoded)),
			Kind:   value.Kind,
		}
		if entry, hasTTL := e.ttlTable[key]; hasTTL {
			meta.ExpiresAt = entry.expiresAt
		}

		if old, ok := e.index.Get(key); ok {
			e.wastedSpace += old.Size
		}
		e.index.Put(key, meta)
		e.pendingChanges[key] = common.PendingChange{Op: common.OpSet, Meta: meta}

		bytesWritten += int64(len(encoded))
		e.stats.BytesWrittenToDataFile += int64(len(encoded))
		flushed++
	}

	if forceSync && bytesWritten > 0 {
		if err := e.dataLog.Sync(); err != nil {
			e.observer.Emit(common.EventError, fmt.Errorf("sync data log: %w", err))
			return err
		}
	}

	if flushed > 0 {
		e.observer.Emit(common.EventDataFlush, flushed)
	}
	return nil
}

// flushToWALLocked writes the pending index changes as one contiguous batch.
// The pending set is swapped out first so new writes queue independently; on
// failure the batch merges back without clobbering anything newer.
func (e *Engine) flushToWALLocked(forceSync bool) error {
	if len(e.pendingChanges) == 0 {
		return nil
	}

	batch := e.pendingChanges
	e.pendingChanges = make(map[string]common.PendingChange)

	entries := make([]common.WALEntry, 0, len(batch))
	for key, change := range batch {
		entries = append(entries, common.WALEntry{Op: change.Op, Key: key, Meta: change.Meta})
	}

	written, err := e.wal.AppendBatch(entries, forceSync || e.cfg.SyncOnWrite)
	if err != nil {
		for key, change := range batch {
			if _, exists := e.pendingChanges[key]; !exists {
				e.pendingChanges[key] = change
			}
		}
		if _, statErr := e.wal.StatSize(); statErr != nil {
			e.observer.Emit(common.EventError, statErr)
		}
		e.observer.Emit(common.EventError, fmt.Errorf("WAL flush: %w", err))
		return err
	}

	e.stats.BytesWrittenToWAL += written
	e.observer.Emit(common.EventIndexWALFlush, len(entries))

	if e.wal.Size() >= e.cfg.WALSizeThresholdBytes {
		return e.performCheckpointLocked(false, false)
	}
	return nil
}
