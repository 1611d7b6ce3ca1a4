package session

import (
	"sync"
	"time"
)

// Timer is a cancellable countdown. It invokes onTick with the remaining
// count after each interval and onExpire exactly once when the count
// reaches zero. There is no pause semantic.
type Timer struct {
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewTimer creates a timer that ticks at the given interval. The exam clock
// uses one second; tests use shorter intervals.
func NewTimer(interval time.Duration) *Timer {
	return &Timer{
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the countdown from seconds in a background goroutine. A
// non-positive seed expires on the first tick.
func (t *Timer) Start(seconds int, onTick func(remaining int), onExpire func()) {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		remaining := seconds
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				remaining--
				if remaining <= 0 {
					onTick(0)
					onExpire()
					return
				}
				onTick(remaining)
			}
		}
	}()
}

// Stop cancels the countdown. Safe to call more than once and after expiry;
// stopping deterministically prevents any further tick from firing.
func (t *Timer) Stop() {
	t.once.Do(func() { close(t.stop) })
}
