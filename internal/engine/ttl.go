package engine

import (
	"time"

	"durakv/internal/common"
)

// scheduleTTLLocked arms (or re-arms) the expiry timer for a key.
func (e *Engine) scheduleTTLLocked(key string, expiresAt int64) {
	if existing, ok := e.ttlTable[key]; ok {
		existing.timer.Stop()
	}

	delay := time.Duration(expiresAt-time.Now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	entry := &ttlEntry{expiresAt: expiresAt}
	entry.timer = time.AfterFunc(delay, func() {
		e.handleExpiry(key, expiresAt)
	})
	e.ttlTable[key] = entry
}

func (e *Engine) cancelTTLLocked(key string) {
	if entry, ok := e.ttlTable[key]; ok {
		entry.timer.Stop()
		delete(e.ttlTable, key)
	}
}

// handleExpiry runs on the timer goroutine. The expiry stamp check guards
// against a timer that fired after its key was rescheduled, so each expiry
// deletes at most once.
func (e *Engine) handleExpiry(key string, expiresAt int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosing || e.state == stateClosed {
		return
	}
	entry, ok := e.ttlTable[key]
	if !ok || entry.expiresAt != expiresAt {
		return
	}

	delete(e.ttlTable, key)
	e.deleteLocked(key)
	e.observer.Emit(common.EventExpired, key)
}
