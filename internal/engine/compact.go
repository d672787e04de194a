package engine

import (
	"fmt"
	"os"
	"time"

	"durakv/internal/common"
	"durakv/internal/serializer"
)

// Compact rewrites the data log with only the live records and swaps it in
// atomically. Live values keep their expiry; dead space drops to zero.
func (e *Engine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosing || e.state == stateClosed {
		e.observer.Emit(common.EventWarn, "compact rejected: engine closing")
		return ErrClosed
	}
	if e.state == stateCompacting {
		e.observer.Emit(common.EventWarn, "compact rejected: already compacting")
		return ErrCompactionInProgress
	}
	return e.compactLocked()
}

func (e *Engine) shouldCompactLocked() bool {
	if e.writeCursor == 0 || e.state != stateOpen {
		return false
	}
	ratio := float64(e.wastedSpace) / float64(e.writeCursor)
	return ratio >= e.cfg.CompactionThresholdRatio
}

func (e *Engine) compactLocked() error {
	e.state = stateCompacting
	defer func() {
		if e.state == stateCompacting {
			e.state = stateOpen
		}
	}()

	// Everything queued has to be on disk before the log is rebuilt.
	if err := e.flushDataLocked(true); err != nil {
		return err
	}
	if err := e.flushToWALLocked(true); err != nil {
		return err
	}

	e.observer.Emit(common.EventCompactStart)

	tmpPath := e.cfg.DatabaseFilePath + ".compacting"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		e.observer.Emit(common.EventError, fmt.Errorf("open compaction file: %w", err))
		return err
	}

	rebuilt := make(map[string]common.RecordMetadata, e.index.Len())
	var cursor int64

	writeFailed := func(err error) error {
		tmpFile.Close()
		os.Remove(tmpPath)
		e.observer.Emit(common.EventError, err)
		return err
	}

	for key, meta := range e.index.Snapshot() {
		var encoded []byte
		if value, ok := e.cache.Peek(key); ok {
			encoded, err = serializer.Encode(value)
			if err != nil {
				return writeFailed(fmt.Errorf("compact serialize %q: %w", key, err))
			}
		} else {
			encoded, err = e.dataLog.ReadExact(meta.Offset, meta.Size)
			if err != nil {
				return writeFailed(fmt.Errorf("compact read %q: %w", key, err))
			}
		}

		if _, err := tmpFile.Write(encoded); err != nil {
			return writeFailed(fmt.Errorf("compact write %q: %w", key, err))
		}

		rebuilt[key] = common.RecordMetadata{
			Offset:    cursor,
			Size:      int64(len(encoded)),
			Kind:      meta.Kind,
			ExpiresAt: meta.ExpiresAt,
		}
		cursor += int64(len(encoded))
	}

	if err := tmpFile.Sync(); err != nil {
		return writeFailed(fmt.Errorf("sync compaction file: %w", err))
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		e.observer.Emit(common.EventError, err)
		return err
	}

	if err := e.dataLog.Close(); err != nil {
		e.observer.Emit(common.EventError, err)
	}
	if err := os.Rename(tmpPath, e.cfg.DatabaseFilePath); err != nil {
		os.Remove(tmpPath)
		// Get the old log back into service so the store stays usable.
		if reopenErr := e.dataLog.Reopen(e.cfg.DatabaseFilePath); reopenErr != nil {
			e.observer.Emit(common.EventError, reopenErr)
		}
		e.observer.Emit(common.EventError, fmt.Errorf("commit compaction: %w", err))
		return err
	}
	if err := e.dataLog.Reopen(e.cfg.DatabaseFilePath); err != nil {
		e.observer.Emit(common.EventError, err)
		return err
	}

	e.index.Replace(rebuilt)
	e.writeCursor = cursor

	// Every metadata entry moved, so the old base file and WAL are stale.
	if err := e.performCheckpointLocked(true, false); err != nil {
		return err
	}

	e.wastedSpace = 0
	e.stats.BytesWrittenToDataFile = cursor
	e.stats.Compactions++
	e.stats.LastCompactionTime = time.Now().UnixMilli()

	e.observer.Emit(common.EventCompactEnd, cursor)
	return nil
}
