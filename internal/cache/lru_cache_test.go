package cache

import (
	"testing"

	"durakv/internal/common"
)

func TestLruCache_InsertRetrieveEvict(t *testing.T) {
	var evicted []string
	cache := NewLruCache(2, func(key string) { evicted = append(evicted, key) })

	cache.Insert("key1", common.StringValue("value1"))

	retrieved, found := cache.Retrieve("key1")
	if !found {
		t.Fatal("failed to retrieve inserted key")
	}
	if retrieved.Str != "value1" {
		t.Errorf("value mismatch: %q", retrieved.Str)
	}

	cache.Insert("key2", common.StringValue("value2"))
	cache.Insert("key3", common.StringValue("value3")) // evicts key1

	if cache.Contains("key1") {
		t.Error("key1 should have been evicted")
	}
	if !cache.Contains("key3") {
		t.Error("key3 should be present")
	}
	if len(evicted) != 1 || evicted[0] != "key1" {
		t.Errorf("eviction callback got %v", evicted)
	}
	if cache.Len() != 2 {
		t.Errorf("cache should hold exactly 2 keys, has %d", cache.Len())
	}
}

func TestLruCache_RetrieveBumpsRecency(t *testing.T) {
	cache := NewLruCache(2, nil)
	cache.Insert("a", common.NumberValue(1))
	cache.Insert("b", common.NumberValue(2))

	// Touch "a" so "b" becomes the eviction candidate.
	cache.Retrieve("a")
	cache.Insert("c", common.NumberValue(3))

	if cache.Contains("b") {
		t.Error("b should have been evicted after a was bumped")
	}
	if !cache.Contains("a") || !cache.Contains("c") {
		t.Error("a and c should survive")
	}
}

func TestLruCache_UpdateExistingDoesNotEvict(t *testing.T) {
	var evicted []string
	cache := NewLruCache(2, func(key string) { evicted = append(evicted, key) })

	cache.Insert("a", common.NumberValue(1))
	cache.Insert("b", common.NumberValue(2))
	cache.Insert("a", common.NumberValue(10))

	if len(evicted) != 0 {
		t.Errorf("overwrite should not evict, got %v", evicted)
	}
	got, _ := cache.Retrieve("a")
	if got.Number != 10 {
		t.Errorf("overwrite lost: %v", got.Number)
	}
}

func TestLruCache_RemoveSkipsCallback(t *testing.T) {
	var evicted []string
	cache := NewLruCache(2, func(key string) { evicted = append(evicted, key) })

	cache.Insert("a", common.NumberValue(1))
	cache.Remove("a")

	if cache.Contains("a") {
		t.Error("a should be removed")
	}
	if len(evicted) != 0 {
		t.Error("explicit removal must not fire the eviction callback")
	}
}

func TestLruCache_ZeroCapacityIsUnbounded(t *testing.T) {
	cache := NewLruCache(0, nil)
	for i := 0; i < 1000; i++ {
		cache.Insert(string(rune('a'+i%26))+string(rune('0'+i/26)), common.NumberValue(float64(i)))
	}
	if cache.Len() < 100 {
		t.Errorf("unbounded cache evicted entries: %d", cache.Len())
	}
}

func TestLruCache_PeekDoesNotBump(t *testing.T) {
	cache := NewLruCache(2, nil)
	cache.Insert("a", common.NumberValue(1))
	cache.Insert("b", common.NumberValue(2))

	cache.Peek("a")
	cache.Insert("c", common.NumberValue(3))

	if cache.Contains("a") {
		t.Error("peek should not protect a from eviction")
	}
}

func TestLruCache_Clear(t *testing.T) {
	cache := NewLruCache(0, nil)
	cache.Insert("a", common.NumberValue(1))
	cache.Clear()
	if cache.Len() != 0 || cache.Contains("a") {
		t.Error("clear left entries behind")
	}
}
