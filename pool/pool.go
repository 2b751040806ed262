// Package pool ranks interchangeable credential profiles by remaining quota
// and cool-down state so rotation picks the next usable profile
// deterministically. Profiles are issued externally; only their selection and
// rotation state is mutated here.
package pool

import (
	"errors"
	"sort"
	"time"
)

// ErrExhausted reports that no profile in the pool is currently usable.
// Exhaustion is surfaced, never silently defaulted.
var ErrExhausted = errors.New("credential pool exhausted: no usable profile")

// Status is the computed (never stored) classification of a profile's
// current usability.
type Status string

const (
	// StatusActive marks the last-used profile when it is not limited.
	StatusActive Status = "ACTIVE"
	// StatusStandby marks a usable profile that is not the active one.
	StatusStandby Status = "STANDBY"
	// StatusLimited marks a disabled or currently rate-limited profile.
	StatusLimited Status = "LIMITED"
)

// Profile is one rotation-eligible credential identity.
type Profile struct {
	ProfileKey             string  `json:"profileKey"`
	Email                  string  `json:"email,omitempty"`
	BearerToken            string  `json:"bearerToken,omitempty"`
	RemainingQuota         float64 `json:"remainingQuota"`
	ResetAtMillis          int64   `json:"resetAtMillis"`
	RateLimitedUntilMillis int64   `json:"rateLimitedUntilMillis,omitempty"`
	Disabled               bool    `json:"disabled,omitempty"`
}

// Limited reports whether the profile is disabled or rate-limited at now.
func (p Profile) Limited(now time.Time) bool {
	return p.Disabled || p.RateLimitedUntilMillis > now.UnixMilli()
}

// StatusAt derives the profile status relative to the currently active
// profile key.
func (p Profile) StatusAt(now time.Time, activeKey string) Status {
	switch {
	case p.Limited(now):
		return StatusLimited
	case p.ProfileKey == activeKey:
		return StatusActive
	default:
		return StatusStandby
	}
}

// DisplayID is the identifier used for tie-breaking and display: the stored
// email, an email extracted from the bearer token, or the profile key as a
// last resort.
func (p Profile) DisplayID() string {
	if p.Email != "" {
		return p.Email
	}
	if email := EmailFromToken(p.BearerToken); email != "" {
		return email
	}
	return p.ProfileKey
}

// Rank returns the usable profiles ordered best-first: limited profiles are
// excluded, then ascending remaining quota, ties broken by ascending reset
// time, remaining ties by lexicographic display identifier.
func Rank(profiles []Profile, now time.Time) []Profile {
	ranked := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		if !p.Limited(now) {
			ranked = append(ranked, p)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.RemainingQuota != b.RemainingQuota {
			return a.RemainingQuota < b.RemainingQuota
		}
		if a.ResetAtMillis != b.ResetAtMillis {
			return a.ResetAtMillis < b.ResetAtMillis
		}
		return a.DisplayID() < b.DisplayID()
	})
	return ranked
}

// SwapNext picks the best-ranked profile that is not the currently active
// one, falling back to the best-ranked profile overall when every other
// candidate is excluded. An empty ranking is reported as ErrExhausted.
func SwapNext(profiles []Profile, activeKey string, now time.Time) (Profile, error) {
	ranked := Rank(profiles, now)
	if len(ranked) == 0 {
		return Profile{}, ErrExhausted
	}
	for _, p := range ranked {
		if p.ProfileKey != activeKey {
			return p, nil
		}
	}
	return ranked[0], nil
}
