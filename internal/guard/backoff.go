package guard

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ExponentialBackoff computes cooldown delays for consecutive failures.
// The delay for failure n is min(maxDelay, base * multiplier^(n-1)); zero
// or negative n yields no delay.
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// NewExponentialBackoff returns a backoff with the given base and cap.
// A multiplier below 1 is clamped to 2.
func NewExponentialBackoff(base, max time.Duration, multiplier float64, jitter bool) *ExponentialBackoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if multiplier < 1 {
		multiplier = 2
	}
	return &ExponentialBackoff{Base: base, Max: max, Multiplier: multiplier, Jitter: jitter}
}

// Calculate returns the delay after n consecutive failures
func (b *ExponentialBackoff) Calculate(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	delay := float64(b.Base) * math.Pow(b.Multiplier, float64(n-1))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter {
		delay += delay * 0.2 * rand.Float64()
		if delay > float64(b.Max) {
			delay = float64(b.Max)
		}
	}
	return time.Duration(delay)
}

// BackoffTracker keeps per-project failure counts and the time each project
// may next be contacted.
type BackoffTracker struct {
	mu      sync.Mutex
	backoff *ExponentialBackoff
	states  map[string]*backoffState

	now func() time.Time
}

type backoffState struct {
	failures int
	until    time.Time
}

// NewBackoffTracker creates a tracker using the given delay schedule
func NewBackoffTracker(backoff *ExponentialBackoff) *BackoffTracker {
	return &BackoffTracker{
		backoff: backoff,
		states:  make(map[string]*backoffState),
		now:     time.Now,
	}
}

// RecordError notes a failure for the project and extends its cooldown
func (t *BackoffTracker) RecordError(projectKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[projectKey]
	if !ok {
		state = &backoffState{}
		t.states[projectKey] = state
	}
	state.failures++
	state.until = t.now().Add(t.backoff.Calculate(state.failures))
}

// RecordSuccess clears any accumulated failures for the project
func (t *BackoffTracker) RecordSuccess(projectKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, projectKey)
}

// IsInBackoff reports whether the project is still cooling down
func (t *BackoffTracker) IsInBackoff(projectKey string) bool {
	return t.RemainingBackoff(projectKey) > 0
}

// RemainingBackoff returns how long the project must still wait, or zero
func (t *BackoffTracker) RemainingBackoff(projectKey string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[projectKey]
	if !ok {
		return 0
	}
	remaining := state.until.Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ConsecutiveFailures returns the current failure streak for the project
func (t *BackoffTracker) ConsecutiveFailures(projectKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[projectKey]
	if !ok {
		return 0
	}
	return state.failures
}
