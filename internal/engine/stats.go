package engine

// EngineStats is a point-in-time snapshot of the engine's counters.
// BytesWrittenToWAL counts bytes since the last checkpoint truncated the log.
type EngineStats struct {
	Reads                  int64 `json:"reads"`
	Writes                 int64 `json:"writes"`
	Deletes                int64 `json:"deletes"`
	Hits                   int64 `json:"hits"`
	Misses                 int64 `json:"misses"`
	DiskReads              int64 `json:"diskReads"`
	BytesWrittenToDataFile int64 `json:"bytesWrittenToDataFile"`
	BytesReadFromDataFile  int64 `json:"bytesReadFromDataFile"`
	BytesWrittenToWAL      int64 `json:"bytesWrittenToWAL"`
	Compactions            int64 `json:"compactions"`
	LastCompactionTime     int64 `json:"lastCompactionTime"`
	WastedSpace            int64 `json:"wastedSpace"`
	IndexSizeBytes         int64 `json:"indexSizeBytes"`
	WALSizeBytes           int64 `json:"walSizeBytes"`
	Checkpoints            int64 `json:"checkpoints"`
	LastCheckpointTime     int64 `json:"lastCheckpointTime"`
	ActiveKeys             int   `json:"activeKeys"`
	MemoryStoreKeys        int   `json:"memoryStoreKeys"`
	PendingDataWrites      int   `json:"pendingDataWrites"`
	PendingIndexChanges    int   `json:"pendingIndexChanges"`
	DataFileSize           int64 `json:"dataFileSize"`
}

// Stats returns a consistent snapshot of all counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.stats
	snapshot.WastedSpace = e.wastedSpace
	snapshot.WALSizeBytes = e.wal.Size()
	snapshot.ActiveKeys = e.index.Len()
	snapshot.MemoryStoreKeys = e.cache.Len()
	snapshot.PendingDataWrites = len(e.dirtyKeys)
	snapshot.PendingIndexChanges = len(e.pendingChanges)
	snapshot.DataFileSize = e.writeCursor
	return snapshot
}
