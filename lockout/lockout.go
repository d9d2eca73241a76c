// Package lockout tracks failed login attempts on an account record and decides when
// the account is temporarily locked. It is pure: stores apply RecordFailure atomically
// against the stored Record so concurrent failures cannot overwrite each other.
package lockout

import (
	"errors"
	"time"
)

// Record is the lockout state stored on the account.
type Record struct {
	FailedAttempts int
	LastFailedAt   time.Time
	LockoutUntil   time.Time
}

// Locked reports whether the record holds an unexpired lockout at now.
func (r Record) Locked(now time.Time) bool {
	return !r.LockoutUntil.IsZero() && now.Before(r.LockoutUntil)
}

// Tracker applies the failure/success/lock rules.
type Tracker struct {
	MaxAttempts  int
	ResetWindow  time.Duration
	LockDuration time.Duration
}

// DefaultTracker locks for 15 minutes after 5 failures within 15 minutes.
func DefaultTracker() Tracker {
	return Tracker{MaxAttempts: 5, ResetWindow: 15 * time.Minute, LockDuration: 15 * time.Minute}
}

// Validate rejects non-positive settings.
func (t Tracker) Validate() error {
	if t.MaxAttempts < 1 || t.ResetWindow <= 0 || t.LockDuration <= 0 {
		return errors.New("lockout: max attempts, reset window and lock duration must be positive")
	}
	return nil
}

// RecordFailure counts a failed credential check. A failure after ResetWindow of
// quiet, or after an expired lockout, starts a new count at 1. Reaching MaxAttempts
// sets LockoutUntil.
func (t Tracker) RecordFailure(r Record, now time.Time) Record {
	if t.restarts(r, now) {
		r = Record{FailedAttempts: 1}
	} else {
		r.FailedAttempts++
	}
	r.LastFailedAt = now
	if r.FailedAttempts >= t.MaxAttempts {
		r.LockoutUntil = now.Add(t.LockDuration)
	}
	return r
}

func (t Tracker) restarts(r Record, now time.Time) bool {
	if r.LastFailedAt.IsZero() || now.Sub(r.LastFailedAt) > t.ResetWindow {
		return true
	}
	return !r.LockoutUntil.IsZero() && !now.Before(r.LockoutUntil)
}

// LockedBy reports whether next is the failure that crossed MaxAttempts. Exactly one
// of any number of concurrent failures sees this.
func (t Tracker) LockedBy(next Record) bool {
	return next.FailedAttempts == t.MaxAttempts
}

// RecordSuccess clears the counter and any lockout.
func (t Tracker) RecordSuccess(Record) Record {
	return Record{}
}

// IsLocked reports whether r is locked at now. An expired lockout is cleared in the
// returned record and changed is true so the caller can persist the healed state.
func (t Tracker) IsLocked(r Record, now time.Time) (locked bool, healed Record, changed bool) {
	if r.LockoutUntil.IsZero() {
		return false, r, false
	}
	if now.Before(r.LockoutUntil) {
		return true, r, false
	}
	return false, Record{}, true
}
