// Package failover tracks the (model, auth profile) combinations a live bridge
// may connect with and walks them in a fixed order as connections fail.
//
// The walk is profile-major: the model index advances fastest, so the cheapest
// retry (same credentials, next model) is always tried first. When the model
// list wraps, the next profile that is out of cooldown is selected; if every
// profile is cooling down, the one whose cooldown ends soonest is used so that
// a session never starves.
//
// A CandidateSet performs no I/O and is not safe for concurrent use; the owning
// bridge serializes access under its own mutex.
package failover

import (
	"time"

	"github.com/maximhq/bifrost-live/core/clock"
	"github.com/maximhq/bifrost-live/core/schemas"
)

// AuthProfileState is the mutable failure bookkeeping for one credential.
type AuthProfileState struct {
	Profile       schemas.AuthProfileConfig
	FailureCount  int
	CooldownUntil time.Time
	LastUsedAt    time.Time
}

// Name returns the profile's display name.
func (s *AuthProfileState) Name() string {
	return s.Profile.Name
}

// Candidate is one (model, profile) combination.
type Candidate struct {
	Model   string
	Profile *AuthProfileState
}

// Live converts the candidate to its event representation.
func (c Candidate) Live() *schemas.LiveCandidate {
	out := &schemas.LiveCandidate{Model: c.Model}
	if c.Profile != nil {
		out.AuthProfile = c.Profile.Name()
	}
	return out
}

// Rotation describes a single move through the candidate order.
type Rotation struct {
	From   Candidate
	To     Candidate
	Reason string
}

// CandidateSet is the ordered model list and ordered profile list of one bridge.
type CandidateSet struct {
	models     []string
	profiles   []*AuthProfileState
	modelIdx   int
	profileIdx int
	cooldown   time.Duration
	clock      clock.Clock
}

// NewCandidateSet seeds a candidate set from shared configuration. Profile
// state is copied so cooldowns never leak between bridges.
func NewCandidateSet(models []string, profiles []schemas.AuthProfileConfig, cooldown time.Duration, clk clock.Clock) *CandidateSet {
	if clk == nil {
		clk = clock.Real()
	}
	if len(models) == 0 {
		models = []string{""}
	}
	set := &CandidateSet{
		models:   append([]string(nil), models...),
		cooldown: cooldown,
		clock:    clk,
	}
	for _, p := range profiles {
		set.profiles = append(set.profiles, &AuthProfileState{Profile: copyProfile(p)})
	}
	if len(set.profiles) == 0 {
		set.profiles = []*AuthProfileState{{Profile: schemas.AuthProfileConfig{Name: "anonymous"}}}
	}
	return set
}

func copyProfile(p schemas.AuthProfileConfig) schemas.AuthProfileConfig {
	out := p
	if p.Headers != nil {
		out.Headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Current returns the active candidate and stamps the profile's LastUsedAt.
func (s *CandidateSet) Current() Candidate {
	c := s.peek()
	c.Profile.LastUsedAt = s.clock.Now()
	return c
}

func (s *CandidateSet) peek() Candidate {
	return Candidate{Model: s.models[s.modelIdx], Profile: s.profiles[s.profileIdx]}
}

// Size returns the number of distinct (model, profile) combinations.
func (s *CandidateSet) Size() int {
	return len(s.models) * len(s.profiles)
}

// Profiles returns the profile states in configured order.
func (s *CandidateSet) Profiles() []*AuthProfileState {
	return s.profiles
}

// MarkFailure records a failure against the current profile and starts its
// cooldown. The same cooldown applies whatever the failure cause.
func (s *CandidateSet) MarkFailure(reason string) *AuthProfileState {
	p := s.profiles[s.profileIdx]
	p.FailureCount++
	p.CooldownUntil = s.clock.Now().Add(s.cooldown)
	return p
}

// MarkSuccess clears the current profile's failure count and cooldown.
func (s *CandidateSet) MarkSuccess() {
	p := s.profiles[s.profileIdx]
	p.FailureCount = 0
	p.CooldownUntil = time.Time{}
	p.LastUsedAt = s.clock.Now()
}

// Rotate advances to the next candidate and reports the move.
func (s *CandidateSet) Rotate(reason string) Rotation {
	from := s.peek()
	if s.modelIdx < len(s.models)-1 {
		s.modelIdx++
	} else {
		s.modelIdx = 0
		s.profileIdx = s.nextProfile()
	}
	return Rotation{From: from, To: s.peek(), Reason: reason}
}

// nextProfile scans forward circularly from the profile after the current one,
// ending on the current one. The first profile out of cooldown wins; otherwise
// the earliest cooldown wins, ties going to scan order.
func (s *CandidateSet) nextProfile() int {
	n := len(s.profiles)
	now := s.clock.Now()
	soonest := -1
	for step := 1; step <= n; step++ {
		idx := (s.profileIdx + step) % n
		p := s.profiles[idx]
		if !p.CooldownUntil.After(now) {
			return idx
		}
		if soonest < 0 || p.CooldownUntil.Before(s.profiles[soonest].CooldownUntil) {
			soonest = idx
		}
	}
	return soonest
}
