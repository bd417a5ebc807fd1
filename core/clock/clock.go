// Package clock abstracts time for the live bridge so that watchdog ticks,
// retry delays and latency measurements can be driven deterministically in tests.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source every timing-sensitive component takes.
type Clock = clockwork.Clock

// Ticker delivers periodic ticks on Chan(). Late ticks are dropped.
type Ticker = clockwork.Ticker

// FakeClock only moves when Advance is called.
type FakeClock = clockwork.FakeClock

// Real returns a Clock backed by the time package.
func Real() Clock { return clockwork.NewRealClock() }

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock { return clockwork.NewFakeClockAt(initial) }
