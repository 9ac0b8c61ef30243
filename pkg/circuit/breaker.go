// Package circuit implements a small closed/open circuit breaker used to
// guard optional external collaborators — the WebAuthn attestation
// metadata service and internal/audit's alert sink — so a string of
// failures degrades to "signal absent" instead of a retry storm against
// a dead dependency. StateHalfOpen is declared but the breaker never
// enters it.
package circuit

import "sync"

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// StateChange reports whether a Record call caused a state transition.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker is a failure-count/success-count breaker. It opens after
// FailureThreshold consecutive failures and closes again after
// SuccessThreshold consecutive successes are recorded while open, or on
// Reset. It has no cooldown timer of its own.
type Breaker struct {
	mu sync.Mutex

	name string

	failureThreshold int
	successThreshold int

	state           State
	consecutiveFail int
	consecutiveOK   int
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures required
// to open the circuit. Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) { b.failureThreshold = n }
}

// WithSuccessThreshold sets the number of consecutive successes required
// to close the circuit again. Default 1.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) { b.successThreshold = n }
}

// New creates a Breaker in the closed state.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 1,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's identifier, used in metrics labels and logs.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker is currently open (calls should use
// the fallback path).
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// RecordFailure registers a failed call. It returns whether the caller
// should now use its fallback, and whether this call opened the circuit.
func (b *Breaker) RecordFailure() (useFallback bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveOK = 0
	b.consecutiveFail++

	if b.state == StateOpen {
		return true, StateChange{}
	}

	if b.consecutiveFail >= b.failureThreshold {
		wasOpen := b.state == StateOpen
		b.state = StateOpen
		return true, StateChange{Opened: !wasOpen}
	}
	return false, StateChange{}
}

// RecordSuccess registers a successful call. It returns whether the
// caller should now use the primary path, and whether this call closed
// the circuit.
func (b *Breaker) RecordSuccess() (usePrimary bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail = 0

	if b.state != StateOpen {
		return true, StateChange{}
	}

	b.consecutiveOK++
	if b.consecutiveOK >= b.successThreshold {
		b.state = StateClosed
		b.consecutiveOK = 0
		return true, StateChange{Closed: true}
	}
	// still open, but counted towards the half-open success run
	return false, StateChange{}
}

// Reset forces the breaker back to closed, clearing counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFail = 0
	b.consecutiveOK = 0
}
