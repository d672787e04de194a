// Package engine ties the data log, index, WAL and read cache together into
// a durable single-writer key-value store. One mutex serializes every state
// mutation; file I/O happens under it so the data-append-before-WAL-entry
// ordering can never be observed out of order.
package engine

import (
	"fmt"
	"sync"
	"time"

	"durakv/internal/cache"
	"durakv/internal/common"
	"durakv/internal/config"
	"durakv/internal/serializer"
	"durakv/internal/storage"
)

type engineState int

const (
	stateOpen engineState = iota
	stateCompacting
	stateClosing
	stateClosed
)

type ttlEntry struct {
	expiresAt int64
	timer     *time.Timer
}

type Engine struct {
	mu sync.Mutex

	cfg      config.SystemConfiguration
	observer common.EventSink

	dataLog *storage.DataLog
	wal     *storage.WriteAheadLog
	index   *storage.Index
	cache   *cache.LruCache

	// dirtyKeys holds keys whose cached value has not reached the data log.
	dirtyKeys map[string]struct{}
	// pendingChanges holds index mutations awaiting a WAL flush,
	// last-writer-wins per key.
	pendingChanges map[string]common.PendingChange
	ttlTable       map[string]*ttlEntry

	writeCursor int64
	wastedSpace int64

	state               engineState
	checkpointRunning   bool
	dataFlushScheduled  bool
	indexFlushScheduled bool

	stats EngineStats

	stopChan chan struct{}
}

// Open builds an engine over the configured files, runs crash recovery and
// starts the periodic flush/checkpoint/compaction tasks. A nil sink discards
// events.
func Open(cfg config.SystemConfiguration, sink common.EventSink) (*Engine, error) {
	if sink == nil {
		sink = common.NopSink{}
	}
	if cfg.WALFilePath == "" {
		cfg.WALFilePath = cfg.IndexFilePath + ".wal"
	}
	if cfg.MaxKeyBytes <= 0 {
		cfg.MaxKeyBytes = config.DefaultMaxKeyBytes
	}
	if cfg.CheckpointIntervalMillis <= 0 {
		cfg.CheckpointIntervalMillis = config.DefaultCheckpointIntervalMillis
	}
	if cfg.CompactionIntervalMillis <= 0 {
		cfg.CompactionIntervalMillis = config.DefaultCompactionIntervalMillis
	}
	if cfg.WALSizeThresholdBytes <= 0 {
		cfg.WALSizeThresholdBytes = config.DefaultWALSizeThresholdBytes
	}
	if cfg.CompactionThresholdRatio <= 0 {
		cfg.CompactionThresholdRatio = config.DefaultCompactionThresholdRatio
	}

	dataLog, err := storage.OpenDataLog(cfg.DatabaseFilePath)
	if err != nil {
		return nil, err
	}
	cursor, err := dataLog.Size()
	if err != nil {
		dataLog.Close()
		return nil, err
	}

	wal, err := storage.OpenWriteAheadLog(cfg.WALFilePath)
	if err != nil {
		dataLog.Close()
		return nil, err
	}

	e := &Engine{
		cfg:            cfg,
		observer:       sink,
		dataLog:        dataLog,
		wal:            wal,
		index:          storage.NewIndex(),
		dirtyKeys:      make(map[string]struct{}),
		pendingChanges: make(map[string]common.PendingChange),
		ttlTable:       make(map[string]*ttlEntry),
		writeCursor:    cursor,
		stopChan:       make(chan struct{}),
	}
	e.cache = cache.NewLruCache(cfg.MaxMemoryKeys, e.onCacheEviction)

	// Timers armed during recovery can fire immediately; the lock keeps
	// them out until the index is whole.
	e.mu.Lock()
	if err := e.recover(); err != nil {
		e.mu.Unlock()
		dataLog.Close()
		wal.Close()
		return nil, err
	}
	if cfg.PreloadOnOpen {
		e.preload()
	}
	e.mu.Unlock()

	go e.runBackgroundLoop()
	e.observer.Emit(common.EventLog, fmt.Sprintf("store open: data=%s index=%s wal=%s",
		cfg.DatabaseFilePath, cfg.IndexFilePath, cfg.WALFilePath))
	e.observer.Emit(common.EventReady)
	return e, nil
}

// recover rebuilds the index from the base snapshot plus the WAL tail.
func (e *Engine) recover() error {
	doc, err := storage.LoadSnapshot(e.cfg.IndexFilePath)
	if err != nil && err != storage.ErrNoSnapshot {
		return fmt.Errorf("failed to recover index: %w", err)
	}
	if err == nil {
		for key, meta := range doc.Index {
			e.index.Put(key, meta)
		}
		e.stats.Checkpoints = doc.Stats.Checkpoints
		e.stats.LastCheckpointTime = doc.Stats.LastCheckpointTime
	}

	now := time.Now().UnixMilli()
	replayed, truncated, err := e.wal.Replay(func(entry common.WALEntry) {
		switch entry.Op {
		case common.OpSet:
			if entry.Meta.ExpiresAt != 0 && entry.Meta.ExpiresAt <= now {
				e.index.Delete(entry.Key)
				return
			}
			e.index.Put(entry.Key, entry.Meta)
			if entry.Meta.ExpiresAt != 0 {
				e.scheduleTTLLocked(entry.Key, entry.Meta.ExpiresAt)
			}
		case common.OpDelete:
			e.index.Delete(entry.Key)
			e.cancelTTLLocked(entry.Key)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to replay WAL: %w", err)
	}
	if truncated {
		e.observer.Emit(common.EventWarn, "WAL replay halted at a truncated entry; tail discarded")
	}

	// Snapshots can also carry expiries that need timers or have lapsed.
	for key, meta := range e.index.Snapshot() {
		if meta.ExpiresAt == 0 {
			continue
		}
		if meta.ExpiresAt <= now {
			e.index.Delete(key)
			e.cancelTTLLocked(key)
			continue
		}
		if _, scheduled := e.ttlTable[key]; !scheduled {
			e.scheduleTTLLocked(key, meta.ExpiresAt)
		}
	}

	e.wastedSpace = e.writeCursor - e.index.LiveBytes()
	if e.wastedSpace < 0 {
		e.wastedSpace = 0
	}

	e.observer.Emit(common.EventWALReplayed, map[string]int{
		"replayedOps":    replayed,
		"finalIndexSize": e.index.Len(),
	})
	return nil
}

// preload warms the cache with live values, stopping at the cache cap.
func (e *Engine) preload() {
	loaded := 0
	e.index.Range(func(key string, meta common.RecordMetadata) bool {
		if e.cfg.MaxMemoryKeys > 0 && loaded >= e.cfg.MaxMemoryKeys {
			return false
		}
		buf, err := e.dataLog.ReadExact(meta.Offset, meta.Size)
		if err != nil {
			e.observer.Emit(common.EventError, fmt.Errorf("preload read %q: %w", key, err))
			return true
		}
		value, err := serializer.Decode(buf)
		if err != nil {
			e.observer.Emit(common.EventError, fmt.Errorf("preload decode %q: %w", key, err))
			return true
		}
		e.cache.Insert(key, value)
		loaded++
		return true
	})
}

// onCacheEviction keeps the dirty set inside the cache (a dirty key must be
// resident to be flushed). Only capacity evictions land here.
func (e *Engine) onCacheEviction(key string) {
	delete(e.dirtyKeys, key)
}

// Set stores a value with the configured default TTL, or with no TTL when no
// default is set, in which case any TTL already on the key is cleared.
func (e *Engine) Set(key string, value common.Value) error {
	return e.set(key, value, 0, false)
}

// SetWithTTL stores a value that expires ttlMillis from now. A non-positive
// TTL cancels an existing one without scheduling a new expiry.
func (e *Engine) SetWithTTL(key string, value common.Value, ttlMillis int64) error {
	return e.set(key, value, ttlMillis, true)
}

func (e *Engine) set(key string, value common.Value, ttlMillis int64, ttlGiven bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosing || e.state == stateClosed {
		e.observer.Emit(common.EventWarn, "set rejected: engine closing")
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > e.cfg.MaxKeyBytes {
		return fmt.Errorf("%w (%d bytes)", ErrKeyTooLarge, e.cfg.MaxKeyBytes)
	}
	if !value.Kind.Valid() {
		return fmt.Errorf("%w: %d", serializer.ErrUnsupportedKind, value.Kind)
	}

	e.cache.Insert(key, value)
	e.dirtyKeys[key] = struct{}{}

	if !ttlGiven && e.cfg.DefaultTTLMillis > 0 {
		ttlMillis = e.cfg.DefaultTTLMillis
		ttlGiven = true
	}

	if ttlGiven && ttlMillis > 0 {
		e.scheduleTTLLocked(key, time.Now().UnixMilli()+ttlMillis)
	} else {
		// No TTL (or an explicit non-positive one): drop any live timer and
		// queue an index update that clears the persisted expiry.
		if _, hadTTL := e.ttlTable[key]; hadTTL {
			e.cancelTTLLocked(key)
			if meta, ok := e.index.Get(key); ok && meta.ExpiresAt != 0 {
				meta.ExpiresAt = 0
				e.index.Put(key, meta)
				e.pendingChanges[key] = common.PendingChange{Op: common.OpSet, Meta: meta}
			}
		}
	}

	e.stats.Writes++
	e.observer.Emit(common.EventSet, key, value)

	if e.cfg.SyncOnWrite {
		e.flushDataLocked(true)
		e.flushToWALLocked(true)
	} else {
		e.scheduleDataFlushLocked()
		e.scheduleIndexFlushLocked()
	}
	return nil
}

// Get returns the value bound to key. Reads hit the cache first and fall
// back to the data log through the index.
func (e *Engine) Get(key string) (common.Value, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosing || e.state == stateClosed {
		return common.Value{}, false
	}
	e.stats.Reads++

	if value, ok := e.cache.Retrieve(key); ok {
		e.stats.Hits++
		e.observer.Emit(common.EventGet, key, value)
		return value, true
	}

	meta, ok := e.index.Get(key)
	if !ok {
		e.stats.Misses++
		e.observer.Emit(common.EventMiss, key)
		return common.Value{}, false
	}

	buf, err := e.dataLog.ReadExact(meta.Offset, meta.Size)
	if err != nil {
		e.observer.Emit(common.EventError, fmt.Errorf("read %q: %w", key, err))
		return common.Value{}, false
	}
	e.stats.DiskReads++
	e.stats.BytesReadFromDataFile += meta.Size

	value, err := serializer.Decode(buf)
	if err != nil {
		e.observer.Emit(common.EventError, fmt.Errorf("decode %q: %w", key, err))
		return common.Value{}, false
	}

	e.cache.Insert(key, value)
	e.observer.Emit(common.EventGet, key, value)
	return value, true
}

// Has reports whether the key is live. Expired keys have already been
// removed by their timers, so presence implies not-expired.
func (e *Engine) Has(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateClosing || e.state == stateClosed {
		return false
	}
	if e.index.Has(key) {
		return true
	}
	_, dirty := e.dirtyKeys[key]
	return dirty
}

// Delete removes the key and reports whether it existed.
func (e *Engine) Delete(key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosing || e.state == stateClosed {
		e.observer.Emit(common.EventWarn, "delete rejected: engine closing")
		return false, ErrClosed
	}
	return e.deleteLocked(key), nil
}

func (e *Engine) deleteLocked(key string) bool {
	existed := false

	if meta, ok := e.index.Get(key); ok {
		existed = true
		e.wastedSpace += meta.Size
		e.index.Delete(key)
		e.pendingChanges[key] = common.PendingChange{Op: common.OpDelete}
	} else if change, ok := e.pendingChanges[key]; ok && change.Op == common.OpSet {
		// Flushed to the data log but not yet to the WAL.
		existed = true
		e.wastedSpace += change.Meta.Size
		e.pendingChanges[key] = common.PendingChange{Op: common.OpDelete}
	}

	if e.cache.Contains(key) {
		existed = true
		e.cache.Remove(key)
	}
	if _, dirty := e.dirtyKeys[key]; dirty {
		delete(e.dirtyKeys, key)
	}
	e.cancelTTLLocked(key)

	if !existed {
		return false
	}

	e.stats.Deletes++
	e.observer.Emit(common.EventDelete, key)

	if e.cfg.SyncOnWrite {
		e.flushToWALLocked(true)
	} else {
		e.scheduleIndexFlushLocked()
	}
	return true
}

// Clear wipes every key, truncates both logs and checkpoints an empty index.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosing || e.state == stateClosed {
		return ErrClosed
	}

	oldSize := e.index.Len()

	e.cache.Clear()
	e.dirtyKeys = make(map[string]struct{})
	e.pendingChanges = make(map[string]common.PendingChange)
	for key := range e.ttlTable {
		e.cancelTTLLocked(key)
	}
	e.index.Clear()

	if err := e.dataLog.Truncate(); err != nil {
		e.observer.Emit(common.EventError, err)
		return err
	}
	e.writeCursor = 0
	e.wastedSpace = 0

	if err := e.wal.Truncate(true); err != nil {
		e.observer.Emit(common.EventError, err)
		return err
	}

	if err := e.performCheckpointLocked(true, false); err != nil {
		return err
	}

	e.observer.Emit(common.EventClear, oldSize)
	return nil
}

// Keys lists every live key in no particular order. Keys written but not
// yet flushed count as live, matching what Get observes.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.index.Keys()
	for key := range e.dirtyKeys {
		if !e.index.Has(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Size is the number of live keys, unflushed writes included.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	size := e.index.Len()
	for key := range e.dirtyKeys {
		if !e.index.Has(key) {
			size++
		}
	}
	return size
}

// Close flushes everything, checkpoints, and releases the files. Idempotent
// and terminal: the engine cannot be reopened.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.state == stateClosing || e.state == stateClosed {
		e.mu.Unlock()
		return nil
	}
	e.state = stateClosing
	close(e.stopChan)
	e.observer.Emit(common.EventClosing)

	for key := range e.ttlTable {
		e.cancelTTLLocked(key)
	}

	e.flushDataLocked(true)
	e.flushToWALLocked(true)
	e.performCheckpointLocked(true, true)

	dataErr := e.dataLog.Close()
	walErr := e.wal.Close()

	e.state = stateClosed
	e.observer.Emit(common.EventClose)
	e.mu.Unlock()

	if dataErr != nil {
		return dataErr
	}
	return walErr
}

// runBackgroundLoop drives the periodic flush, checkpoint and
// compaction-check tasks until Close.
func (e *Engine) runBackgroundLoop() {
	var flushC <-chan time.Time
	if e.cfg.FlushIntervalMillis > 0 {
		flushTicker := time.NewTicker(time.Duration(e.cfg.FlushIntervalMillis) * time.Millisecond)
		defer flushTicker.Stop()
		flushC = flushTicker.C
	}

	checkpointTicker := time.NewTicker(time.Duration(e.cfg.CheckpointIntervalMillis) * time.Millisecond)
	defer checkpointTicker.Stop()
	compactTicker := time.NewTicker(time.Duration(e.cfg.CompactionIntervalMillis) * time.Millisecond)
	defer compactTicker.Stop()

	for {
		select {
		case <-flushC:
			e.mu.Lock()
			if e.state == stateOpen {
				e.flushDataLocked(false)
				e.flushToWALLocked(false)
			}
			e.mu.Unlock()
		case <-checkpointTicker.C:
			e.mu.Lock()
			if e.state == stateOpen {
				e.performCheckpointLocked(false, false)
			}
			e.mu.Unlock()
		case <-compactTicker.C:
			e.mu.Lock()
			if e.state == stateOpen && e.shouldCompactLocked() {
				e.compactLocked()
			}
			e.mu.Unlock()
		case <-e.stopChan:
			return
		}
	}
}
