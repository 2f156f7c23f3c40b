package resilience

import (
	"sync"
	"time"
)

// CircuitBreaker blocks new attempts after repeated counted failures.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
	counts    func(error) bool
	now       func() time.Time
}

// NewCircuitBreaker opens after threshold consecutive failures for which counts
// returns true. A nil counts treats every error as a failure.
func NewCircuitBreaker(threshold int, cooldown time.Duration, counts func(error) bool) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if counts == nil {
		counts = func(error) bool { return true }
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, counts: counts, now: time.Now}
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.openUntil)
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	if err == nil || !c.counts(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.threshold {
		c.openUntil = c.now().Add(c.cooldown)
		c.failures = 0
	}
}
