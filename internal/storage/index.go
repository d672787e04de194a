package storage

import "durakv/internal/common"

// Index is the in-memory key directory. It has no persistence duties; the
// WAL and checkpoint machinery record its mutations. The engine serializes
// all access, so there is no lock here.
type Index struct {
	entries map[string]common.RecordMetadata
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]common.RecordMetadata)}
}

func (ix *Index) Get(key string) (common.RecordMetadata, bool) {
	meta, ok := ix.entries[key]
	return meta, ok
}

func (ix *Index) Put(key string, meta common.RecordMetadata) {
	ix.entries[key] = meta
}

func (ix *Index) Delete(key string) {
	delete(ix.entries, key)
}

func (ix *Index) Has(key string) bool {
	_, ok := ix.entries[key]
	return ok
}

func (ix *Index) Len() int {
	return len(ix.entries)
}

func (ix *Index) Keys() []string {
	keys := make([]string, 0, len(ix.entries))
	for key := range ix.entries {
		keys = append(keys, key)
	}
	return keys
}

// Range calls fn for every entry until fn returns false.
func (ix *Index) Range(fn func(key string, meta common.RecordMetadata) bool) {
	for key, meta := range ix.entries {
		if !fn(key, meta) {
			return
		}
	}
}

// LiveBytes sums the sizes of every live record.
func (ix *Index) LiveBytes() int64 {
	var total int64
	for _, meta := range ix.entries {
		total += meta.Size
	}
	return total
}

// Replace swaps the whole mapping, used when compaction rebuilds the index.
func (ix *Index) Replace(entries map[string]common.RecordMetadata) {
	ix.entries = entries
}

// Snapshot copies the mapping for checkpointing.
func (ix *Index) Snapshot() map[string]common.RecordMetadata {
	out := make(map[string]common.RecordMetadata, len(ix.entries))
	for key, meta := range ix.entries {
		out[key] = meta
	}
	return out
}

func (ix *Index) Clear() {
	ix.entries = make(map[string]common.RecordMetadata)
}
