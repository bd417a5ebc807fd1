package live

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maximhq/bifrost-live/core/schemas"
)

// turnState aggregates one client-prompt-to-response cycle. Zero times mean unset.
type turnState struct {
	startedAt          time.Time
	text               []string
	roundTripMeasured  bool
	roundTripStartedAt time.Time
	roundTripSource    schemas.Modality
}

// inProgress reports whether a turn is open or a round trip is waiting on output.
func (t *turnState) inProgress() bool {
	return !t.startedAt.IsZero() || len(t.text) > 0 || !t.roundTripStartedAt.IsZero()
}

// hasOutput reports whether assistant output has been observed in the open turn.
func (t *turnState) hasOutput() bool {
	return !t.startedAt.IsZero() || len(t.text) > 0
}

func (t *turnState) reset() {
	*t = turnState{}
}

// markClientTurnStart begins a fresh round trip for a client send. Any turn in
// progress is discarded first; the return value reports whether that happened.
func (t *turnState) markClientTurnStart(modality schemas.Modality, now time.Time) bool {
	discarded := t.inProgress()
	if discarded {
		t.reset()
	}
	t.roundTripStartedAt = now
	t.roundTripSource = modality
	t.roundTripMeasured = false
	return discarded
}

// observe folds one normalized output into the turn. It returns at most one
// round trip event and at most one turn completion, in that order.
func (t *turnState) observe(out *schemas.NormalizedOutput, now time.Time) []*schemas.LiveEvent {
	var events []*schemas.LiveEvent

	if out.HasContent() {
		if t.startedAt.IsZero() {
			t.startedAt = now
		}
		if out.Text != "" {
			t.text = append(t.text, out.Text)
		}
		if !t.roundTripMeasured && !t.roundTripStartedAt.IsZero() {
			t.roundTripMeasured = true
			events = append(events, &schemas.LiveEvent{
				Type:        schemas.LiveEventRoundTrip,
				RoundTripMs: schemas.Ptr(schemas.Millis(now.Sub(t.roundTripStartedAt))),
				Modality:    t.roundTripSource,
			})
		}
	}

	if out.TurnComplete {
		if ev := t.complete(now); ev != nil {
			events = append(events, ev)
		}
		t.reset()
	}
	return events
}

func (t *turnState) complete(now time.Time) *schemas.LiveEvent {
	started := t.startedAt
	if started.IsZero() {
		started = t.roundTripStartedAt
	}
	if started.IsZero() {
		return nil
	}

	ev := &schemas.LiveEvent{
		Type:           schemas.LiveEventTurnCompleted,
		TurnDurationMs: schemas.Ptr(schemas.Millis(now.Sub(started))),
		TextChars:      schemas.Ptr(0),
		HadOutput:      schemas.Ptr(t.hasOutput()),
		Modality:       t.roundTripSource,
	}
	if text := strings.TrimSpace(strings.Join(t.text, "\n")); text != "" {
		ev.Text = schemas.Ptr(text)
		ev.TextChars = schemas.Ptr(utf8.RuneCountInString(text))
	}
	return ev
}
