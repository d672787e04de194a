package testing

import (
	"path/filepath"
	"sync"
	"testing"

	"durakv/internal/common"
	"durakv/internal/config"
	"durakv/internal/engine"
)

// TestEngineFactory builds engines over per-test file paths so tests can
// close, reopen and crash them freely.
type TestEngineFactory struct {
	t       *testing.T
	RootDir string
}

func NewTestFactory(t *testing.T) *TestEngineFactory {
	return &TestEngineFactory{t: t, RootDir: t.TempDir()}
}

// Configuration returns engine options rooted in the factory dir. Periodic
// background work is pushed far out so tests control flush timing.
func (f *TestEngineFactory) Configuration(opts ...func(*config.SystemConfiguration)) config.SystemConfiguration {
	cfg := config.Defaults()
	cfg.DatabaseFilePath = filepath.Join(f.RootDir, "kv.db")
	cfg.IndexFilePath = filepath.Join(f.RootDir, "kv.index")
	cfg.WALFilePath = filepath.Join(f.RootDir, "kv.index.wal")
	cfg.FlushIntervalMillis = 0
	cfg.CompactionIntervalMillis = 3_600_000
	cfg.CheckpointIntervalMillis = 3_600_000

	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// CreateEngine opens an engine, failing the test on error.
func (f *TestEngineFactory) CreateEngine(sink common.EventSink, opts ...func(*config.SystemConfiguration)) *engine.Engine {
	e, err := engine.Open(f.Configuration(opts...), sink)
	if err != nil {
		f.t.Fatalf("Factory failed to open engine: %v", err)
	}
	return e
}

// RecordingSink captures emitted events for assertions.
type RecordingSink struct {
	mu     sync.Mutex
	events []RecordedEvent
}

type RecordedEvent struct {
	Name string
	Args []interface{}
}

func (s *RecordingSink) Emit(event string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, RecordedEvent{Name: event, Args: args})
}

// Count returns how many times the named event fired.
func (s *RecordingSink) Count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Name == event {
			n++
		}
	}
	return n
}

// Events returns a copy of everything recorded so far.
func (s *RecordingSink) Events() []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedEvent, len(s.events))
	copy(out, s.events)
	return out
}
