package breaker

import (
	"strconv"
	"time"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Snapshot is the persisted breaker record for one dependency.
type Snapshot struct {
	State          State
	FailureCount   int64
	SuccessCount   int64
	LastFailure    time.Time
	LastSuccess    time.Time
	// NextRetryAt is the end of the OPEN period. While HALF_OPEN it is the lease on the
	// outstanding probes; probes that never report back are forgotten when it passes.
	NextRetryAt    time.Time
	// Probes counts HALF_OPEN calls admitted and not yet recorded.
	Probes         int64
	TotalCalls     int64
	TotalFailures  int64
	TotalSuccesses int64
	TotalRejected  int64
}

// Admission is the result of asking whether a call may proceed.
type Admission struct {
	Previous State
	Snapshot Snapshot
	Admitted bool
}

func (s *Snapshot) normalize() {
	if s.State == "" {
		s.State = StateClosed
	}
}

// acquire decides whether a call may run, moving OPEN to HALF_OPEN once the retry time
// has passed. HALF_OPEN admits at most cfg.probeLimit() calls at a time.
func (s *Snapshot) acquire(cfg Config, now time.Time) Admission {
	s.normalize()
	prev := s.State
	admitted := true
	if s.State == StateOpen {
		if now.Before(s.NextRetryAt) {
			admitted = false
		} else {
			s.State = StateHalfOpen
			s.SuccessCount = 0
			s.Probes = 0
		}
	}
	if admitted && s.State == StateHalfOpen {
		limit := cfg.probeLimit()
		switch {
		case s.Probes < limit:
			s.Probes++
			s.NextRetryAt = now.Add(cfg.OpenTimeout)
		case !now.Before(s.NextRetryAt):
			s.Probes = 1
			s.NextRetryAt = now.Add(cfg.OpenTimeout)
		default:
			admitted = false
		}
	}
	if admitted {
		s.TotalCalls++
	} else {
		s.TotalRejected++
	}
	return Admission{Previous: prev, Snapshot: *s, Admitted: admitted}
}

func (s *Snapshot) recordSuccess(cfg Config, now time.Time) {
	s.normalize()
	s.TotalSuccesses++
	s.LastSuccess = now
	switch s.State {
	case StateHalfOpen:
		s.SuccessCount++
		if s.Probes > 0 {
			s.Probes--
		}
		if s.SuccessCount >= int64(cfg.SuccessThreshold) {
			s.State = StateClosed
			s.FailureCount = 0
			s.SuccessCount = 0
			s.Probes = 0
			s.NextRetryAt = time.Time{}
		}
	case StateClosed:
		s.FailureCount = 0
	}
}

func (s *Snapshot) recordFailure(cfg Config, now time.Time) {
	s.normalize()
	s.TotalFailures++
	switch s.State {
	case StateHalfOpen:
		s.FailureCount++
		s.State = StateOpen
		s.SuccessCount = 0
		s.Probes = 0
		s.NextRetryAt = now.Add(cfg.OpenTimeout)
		s.LastFailure = now
	case StateClosed:
		if cfg.MonitoringWindow > 0 && !s.LastFailure.IsZero() && now.Sub(s.LastFailure) > cfg.MonitoringWindow {
			s.FailureCount = 0
		}
		s.FailureCount++
		s.LastFailure = now
		s.SuccessCount = 0
		if s.FailureCount >= int64(cfg.FailureThreshold) {
			s.State = StateOpen
			s.NextRetryAt = now.Add(cfg.OpenTimeout)
		}
	default:
		s.FailureCount++
		s.LastFailure = now
	}
}

func msToTime(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func snapshotFromHash(h map[string]string) Snapshot {
	s := Snapshot{
		State:          State(h["state"]),
		FailureCount:   parseInt(h["failures"]),
		SuccessCount:   parseInt(h["successes"]),
		LastFailure:    msToTime(h["last_failure"]),
		LastSuccess:    msToTime(h["last_success"]),
		NextRetryAt:    msToTime(h["next_retry"]),
		Probes:         parseInt(h["probes"]),
		TotalCalls:     parseInt(h["total_calls"]),
		TotalFailures:  parseInt(h["total_failures"]),
		TotalSuccesses: parseInt(h["total_successes"]),
		TotalRejected:  parseInt(h["total_rejected"]),
	}
	s.normalize()
	return s
}
