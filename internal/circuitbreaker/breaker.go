// Package circuitbreaker stops calling a collaborator that keeps failing.
// Keys are stage names ("synthesis", "render").
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type keyState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker opens a key after threshold consecutive failures and lets one
// trial call through once cooldown has passed. threshold <= 0 disables it.
type Breaker struct {
	mu        sync.Mutex
	states    map[string]*keyState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		states:    make(map[string]*keyState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (b *Breaker) Allow(key string) error {
	if b == nil || b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[key]
	if !ok {
		return nil
	}
	switch s.state {
	case stateOpen:
		if b.now().Sub(s.openedAt) >= b.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *Breaker) RecordSuccess(key string) {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.states[key]; ok {
		s.state = stateClosed
		s.consecutiveFailures = 0
	}
}

func (b *Breaker) RecordFailure(key string) {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[key]
	if !ok {
		s = &keyState{}
		b.states[key] = s
	}
	s.consecutiveFailures++
	// a failed half-open trial call reopens immediately
	if s.state == stateHalfOpen || s.consecutiveFailures >= b.threshold {
		s.state = stateOpen
		s.openedAt = b.now()
	}
}

// State reports "closed", "open" or "half-open" for key.
func (b *Breaker) State(key string) string {
	if b == nil {
		return stateClosed.String()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.states[key]; ok {
		return s.state.String()
	}
	return stateClosed.String()
}
