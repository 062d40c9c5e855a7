// Package sweep runs a function periodically on a background goroutine.
package sweep

import (
	"sync"
	"time"
)

// Sweeper calls a function on every tick until stopped.
type Sweeper struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Start begins calling fn every interval. A non-positive interval returns a
// Sweeper that never ticks; Stop is still safe to call on it.
func Start(interval time.Duration, fn func()) *Sweeper {
	s := &Sweeper{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if interval <= 0 || fn == nil {
		close(s.done)
		return s
	}
	go s.run(interval, fn)
	return s
}

func (s *Sweeper) run(interval time.Duration, fn func()) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn()
		case <-s.stop:
			return
		}
	}
}

// Stop ends the sweep and waits for an in-flight call to return.
// Stop is idempotent. It must not be called from fn.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
