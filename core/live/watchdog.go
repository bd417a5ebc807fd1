package live

import (
	"sync"
	"time"

	"github.com/maximhq/bifrost-live/core/clock"
)

// watchdog calls tick on every interval until stopped.
type watchdog struct {
	ticker clock.Ticker
	done   chan struct{}
	once   sync.Once
}

func startWatchdog(clk clock.Clock, interval time.Duration, tick func()) *watchdog {
	w := &watchdog{
		ticker: clk.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-w.done:
				return
			case <-w.ticker.Chan():
				tick()
			}
		}
	}()
	return w
}

// stop is idempotent and does not wait for an in-flight tick.
func (w *watchdog) stop() {
	w.once.Do(func() {
		w.ticker.Stop()
		close(w.done)
	})
}

// healthSnapshot is the state one watchdog tick judges.
type healthSnapshot struct {
	connected      bool
	pendingFlow    bool
	connectedAt    time.Time
	lastActivityAt time.Time
	now            time.Time
	threshold      time.Duration
	grace          time.Duration
}

// silentTooLong reports whether the upstream should be treated as hung, and
// for how long it has been silent. An idle connection is never hung.
func (s healthSnapshot) silentTooLong() (bool, time.Duration) {
	if !s.connected || !s.pendingFlow {
		return false, 0
	}
	if s.now.Before(s.connectedAt.Add(s.grace)) {
		return false, 0
	}
	silence := s.now.Sub(s.lastActivityAt)
	return silence > s.threshold, silence
}
