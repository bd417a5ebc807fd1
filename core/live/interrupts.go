package live

import (
	"time"

	"github.com/maximhq/bifrost-live/core/schemas"
)

// interruptState tracks the one explicit interrupt a session may have in flight.
type interruptState struct {
	pendingAt time.Time
	reason    string
}

func (s *interruptState) pending() bool {
	return !s.pendingAt.IsZero()
}

func (s *interruptState) reset() {
	*s = interruptState{}
}

// request records an interrupt sent upstream at now.
func (s *interruptState) request(reason string, now time.Time) *schemas.LiveEvent {
	s.pendingAt = now
	s.reason = reason
	return &schemas.LiveEvent{Type: schemas.LiveEventInterruptRequested, Reason: reason}
}

// acknowledge handles an upstream interrupted signal. Latency is reported only
// for a pending request; the interrupted event is suppressed when there was
// neither assistant output nor a pending request. State is always cleared.
func (s *interruptState) acknowledge(now time.Time, hadOutput bool) []*schemas.LiveEvent {
	defer s.reset()

	var events []*schemas.LiveEvent
	wasPending := s.pending()
	if wasPending {
		events = append(events, &schemas.LiveEvent{
			Type:      schemas.LiveEventInterruptLatency,
			LatencyMs: schemas.Ptr(schemas.Millis(now.Sub(s.pendingAt))),
			Reason:    s.reason,
		})
	}
	if hadOutput || wasPending {
		events = append(events, &schemas.LiveEvent{
			Type:      schemas.LiveEventInterrupted,
			Reason:    s.reason,
			HadOutput: schemas.Ptr(hadOutput),
		})
	}
	return events
}
