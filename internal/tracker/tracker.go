// Package tracker watches for systemic failure of the captioned-transcript
// path across a whole batch.
//
// When the remote captioning service starts blocking our address, every
// remaining video would waste a slow round trip before falling back. The
// tracker counts consecutive disqualifying failures and, once the configured
// threshold is hit, latches into fallback-only mode for the rest of the run.
package tracker

import "sync"

const DefaultThreshold = 3

// Tracker is safe for concurrent use. Construct one per batch with New and
// pass it down explicitly; it is never reset within a run.
type Tracker struct {
	mu           sync.Mutex
	threshold    int
	consecutive  int
	fallbackOnly bool
}

func New(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{threshold: threshold}
}

// Failure records one disqualifying captioned-transcript failure. The
// fallback-only latch engages the instant the counter reaches the threshold.
func (t *Tracker) Failure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutive++
	if t.consecutive >= t.threshold {
		t.fallbackOnly = true
	}
}

// Success records a fully successful captioned transcript. It resets the
// counter but never clears the latch: once the service is blocking us,
// an occasional success is not evidence that it stopped.
func (t *Tracker) Success() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutive = 0
}

// FallbackOnly reports whether the captioned path should be skipped for all
// remaining videos in this run.
func (t *Tracker) FallbackOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.fallbackOnly
}

// Failures returns the current consecutive-failure count.
func (t *Tracker) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.consecutive
}
