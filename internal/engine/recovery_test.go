package engine

import (
	"os"
	"testing"

	"durakv/internal/common"
	"durakv/internal/config"
)

// -----------------------------------------------------------------------------
// Durability / Crash Recovery
// -----------------------------------------------------------------------------

func TestRecovery_CleanCloseAndReopen(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)

	e.Set("a", common.NumberValue(1))
	e.Set("b", common.StringValue("two"))
	e.SetWithTTL("c", common.BoolValue(true), 600_000)
	e.Close()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()

	if v, ok := reopened.Get("a"); !ok || v.Number != 1 {
		t.Errorf("a lost: %v %v", v, ok)
	}
	if v, ok := reopened.Get("b"); !ok || v.Str != "two" {
		t.Errorf("b lost: %v %v", v, ok)
	}
	if v, ok := reopened.Get("c"); !ok || !v.Bool {
		t.Errorf("c lost: %v %v", v, ok)
	}
	if reopened.Size() != 3 {
		t.Errorf("size after reopen: %d", reopened.Size())
	}
}

func TestRecovery_CrashKeepsOnlyFlushedWrite(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)
	e.suppressDeferredFlushes()

	e.Set("a", common.NumberValue(1))
	if err := e.Flush(true); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	e.Set("a", common.NumberValue(2)) // never flushed
	e.killForTest()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()

	if v, ok := reopened.Get("a"); !ok || v.Number != 1 {
		t.Errorf("expected the flushed value 1, got %v %v", v, ok)
	}
}

func TestRecovery_CrashAfterSecondFlushKeepsLatest(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)
	e.suppressDeferredFlushes()

	e.Set("a", common.NumberValue(1))
	e.Flush(true)
	firstRecordSize := e.Stats().DataFileSize

	e.Set("a", common.NumberValue(2))
	e.Flush(true)
	e.killForTest()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()

	if v, ok := reopened.Get("a"); !ok || v.Number != 2 {
		t.Errorf("expected the latest flushed value 2, got %v %v", v, ok)
	}
	if got := reopened.Stats().WastedSpace; got < firstRecordSize {
		t.Errorf("dead first record not accounted: wasted=%d, first=%d", got, firstRecordSize)
	}
}

func TestRecovery_DeleteSurvivesCrash(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)
	e.suppressDeferredFlushes()

	e.Set("a", common.NumberValue(1))
	e.Flush(true)
	e.Delete("a")
	e.Flush(true)
	e.killForTest()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()
	if reopened.Has("a") {
		t.Error("deleted key resurrected by recovery")
	}
}

func TestRecovery_UnflushedWritesAreLost(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)
	e.suppressDeferredFlushes()

	e.Set("ghost", common.NumberValue(1))
	e.killForTest()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()
	if reopened.Has("ghost") {
		t.Error("unflushed write survived a crash")
	}
}

func TestRecovery_TruncatedWALTailDiscarded(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)
	e.suppressDeferredFlushes()

	e.Set("a", common.NumberValue(1))
	e.Flush(true)
	e.Set("b", common.NumberValue(2))
	e.Flush(true)
	e.killForTest()

	// Tear the last WAL entry as a crash mid-append would.
	info, err := os.Stat(cfg.WALFilePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(cfg.WALFilePath, info.Size()-4); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink()
	reopened := openEngine(t, cfg, sink)
	defer reopened.Close()

	if !reopened.Has("a") {
		t.Error("whole entry before the tear was lost")
	}
	if reopened.Has("b") {
		t.Error("torn entry was applied")
	}
	if sink.count(common.EventWarn) == 0 {
		t.Error("no warning for the discarded tail")
	}
	if sink.count(common.EventWALReplayed) != 1 {
		t.Error("wal_replayed missing")
	}

	// The store keeps working after a damaged tail.
	if err := reopened.Set("c", common.NumberValue(3)); err != nil {
		t.Errorf("write after torn-tail recovery failed: %v", err)
	}
	if err := reopened.Flush(true); err != nil {
		t.Errorf("flush after torn-tail recovery failed: %v", err)
	}
}

func TestRecovery_CheckpointAloneRestoresState(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)
	e.suppressDeferredFlushes()

	e.Set("a", common.StringValue("base"))
	e.Flush(true)
	if err := e.Checkpoint(true); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	if fileSize(t, cfg.WALFilePath) != 0 {
		t.Fatal("checkpoint did not truncate the WAL")
	}
	e.killForTest()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()
	if v, ok := reopened.Get("a"); !ok || v.Str != "base" {
		t.Errorf("base snapshot alone did not restore the key: %v %v", v, ok)
	}
}

func TestRecovery_SnapshotPlusWALTail(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)
	e.suppressDeferredFlushes()

	e.Set("old", common.NumberValue(1))
	e.Flush(true)
	e.Checkpoint(true)

	// Changes after the checkpoint live only in the WAL.
	e.Set("new", common.NumberValue(2))
	e.Set("old", common.NumberValue(10))
	e.Flush(true)
	e.Delete("doomed")
	e.killForTest()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()

	if v, ok := reopened.Get("old"); !ok || v.Number != 10 {
		t.Errorf("WAL overwrite lost: %v %v", v, ok)
	}
	if v, ok := reopened.Get("new"); !ok || v.Number != 2 {
		t.Errorf("WAL insert lost: %v %v", v, ok)
	}
}

func TestRecovery_WALThresholdTriggersCheckpoint(t *testing.T) {
	sink := newRecordingSink()
	e := openEngine(t, testConfig(t, func(c *config.SystemConfiguration) {
		c.WALSizeThresholdBytes = 64
	}), sink)
	defer e.Close()

	for i := 0; i < 8; i++ {
		e.Set("key-with-some-length", common.StringValue("padding padding padding"))
		e.Flush(true)
	}

	if e.Stats().Checkpoints == 0 {
		t.Error("size-based checkpoint never ran")
	}
	if sink.count(common.EventCheckpointEnd) == 0 {
		t.Error("checkpoint_end never emitted")
	}
	if got := e.Stats().WALSizeBytes; got >= 64 {
		t.Errorf("WAL not truncated by checkpoint: %d", got)
	}
}

func TestRecovery_CheckpointCountersPersist(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)

	e.Set("a", common.NumberValue(1))
	e.Flush(true)
	e.Checkpoint(true)
	checkpoints := e.Stats().Checkpoints
	e.Close()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()
	// Close runs one more checkpoint after the explicit one.
	if got := reopened.Stats().Checkpoints; got < checkpoints {
		t.Errorf("checkpoint counter went backwards: %d -> %d", checkpoints, got)
	}
}

func TestRecovery_SyncOnWriteIsDurableWithoutFlushCalls(t *testing.T) {
	cfg := testConfig(t, func(c *config.SystemConfiguration) {
		c.SyncOnWrite = true
	})
	e := openEngine(t, cfg, nil)

	e.Set("a", common.NumberValue(7))
	e.killForTest()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()
	if v, ok := reopened.Get("a"); !ok || v.Number != 7 {
		t.Errorf("syncOnWrite write lost in crash: %v %v", v, ok)
	}
}

func TestRecovery_PreloadWarmsCache(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)
	e.Set("a", common.NumberValue(1))
	e.Close()

	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()

	before := reopened.Stats().DiskReads
	reopened.Get("a")
	if reopened.Stats().DiskReads != before {
		t.Error("preloaded key still read from disk")
	}
}

func TestRecovery_PreloadDisabledReadsLazily(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg, nil)
	e.Set("a", common.NumberValue(1))
	e.Close()

	cfg.PreloadOnOpen = false
	reopened := openEngine(t, cfg, nil)
	defer reopened.Close()

	if reopened.Stats().MemoryStoreKeys != 0 {
		t.Error("cache warm despite preload off")
	}
	before := reopened.Stats().DiskReads
	if v, ok := reopened.Get("a"); !ok || v.Number != 1 {
		t.Fatalf("lazy read failed: %v %v", v, ok)
	}
	if reopened.Stats().DiskReads != before+1 {
		t.Error("lazy read did not hit the disk")
	}
}
