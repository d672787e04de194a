package internal

import (
	"fmt"
	"strconv"
	"testing"

	"durakv/internal/common"
	"durakv/internal/config"
	"durakv/internal/engine"
	factory "durakv/internal/testing"
)

func benchEngine(b *testing.B, opts ...func(*config.SystemConfiguration)) *engine.Engine {
	b.Helper()
	dir := b.TempDir()

	cfg := config.Defaults()
	cfg.DatabaseFilePath = dir + "/kv.db"
	cfg.IndexFilePath = dir + "/kv.index"
	cfg.WALFilePath = dir + "/kv.index.wal"
	cfg.CompactionIntervalMillis = 3_600_000
	cfg.CheckpointIntervalMillis = 3_600_000
	for _, opt := range opts {
		opt(&cfg)
	}

	e, err := engine.Open(cfg, nil)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { e.Close() })
	return e
}

func BenchmarkEngineWrite(b *testing.B) {
	e := benchEngine(b)
	value := common.StringValue("val")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.Set(strconv.Itoa(i), value); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEngineWriteSyncOnWrite(b *testing.B) {
	e := benchEngine(b, func(c *config.SystemConfiguration) {
		c.SyncOnWrite = true
	})
	value := common.StringValue("val")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.Set(strconv.Itoa(i), value); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEngineCachedRead(b *testing.B) {
	e := benchEngine(b)
	e.Set("hot", common.StringValue("val"))
	e.Flush(true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := e.Get("hot"); !ok {
			b.Fatal("key missing")
		}
	}
}

func BenchmarkEngineDiskRead(b *testing.B) {
	e := benchEngine(b, func(c *config.SystemConfiguration) {
		c.MaxMemoryKeys = 1
		c.PreloadOnOpen = false
	})
	for i := 0; i < 100; i++ {
		e.Set(strconv.Itoa(i), common.StringValue("val"))
	}
	e.Flush(true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Alternate keys so the single-slot cache never answers.
		if _, ok := e.Get(strconv.Itoa(i % 100)); !ok {
			b.Fatal("key missing")
		}
	}
}

// TestEndToEnd_WriteDeleteCompactReopen walks a full store lifetime through
// the public surface only.
func TestEndToEnd_WriteDeleteCompactReopen(t *testing.T) {
	f := factory.NewTestFactory(t)
	cfg := f.Configuration()

	e, err := engine.Open(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		if err := e.Set(fmt.Sprintf("key-%03d", i), common.NumberValue(float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Flush(true); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		e.Delete(fmt.Sprintf("key-%03d", i))
	}
	if err := e.Compact(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := engine.Open(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if reopened.Size() != 50 {
		t.Fatalf("expected 50 survivors, got %d", reopened.Size())
	}
	for i := 50; i < 100; i++ {
		key := fmt.Sprintf("key-%03d", i)
		if v, ok := reopened.Get(key); !ok || v.Number != float64(i) {
			t.Fatalf("%s wrong after full lifecycle: %v %v", key, v, ok)
		}
	}
}
