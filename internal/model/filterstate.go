package model

import (
	"sync"
	"time"
)

// FilterState holds the process-wide received-timestamp cutoff. It is
// mutated only by explicit operator action and read by the coordinator on
// every message, so access is guarded.
type FilterState struct {
	mu     sync.RWMutex
	cutoff time.Time
	set    bool
}

// SetCutoff installs a new cutoff timestamp.
func (f *FilterState) SetCutoff(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = t
	f.set = true
}

// Clear removes the cutoff; all messages are admitted afterwards.
func (f *FilterState) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = time.Time{}
	f.set = false
}

// Cutoff returns the current cutoff and whether one is set.
func (f *FilterState) Cutoff() (time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cutoff, f.set
}

// Admits reports whether a message received at t passes the filter.
// The cutoff boundary is inclusive: receivedAt == cutoff is admitted.
func (f *FilterState) Admits(t time.Time) bool {
	cutoff, ok := f.Cutoff()
	if !ok {
		return true
	}
	return !t.Before(cutoff)
}
