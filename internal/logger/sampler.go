package logger

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Sampler rate-limits a repetitive warning so a long dependency outage produces a
// steady trickle of log lines instead of one per request. Suppressed lines are
// counted and reported on the next emitted line.
type Sampler struct {
	log        *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewSampler allows burst lines immediately and then one per interval.
func NewSampler(log *slog.Logger, interval time.Duration, burst int) *Sampler {
	if burst < 1 {
		burst = 1
	}
	return &Sampler{
		log:     OrDiscard(log),
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Warn logs msg when the limiter allows it.
func (s *Sampler) Warn(msg string, args ...any) {
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		return
	}
	if n := s.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	s.log.Warn(msg, args...)
}

// Suppressed returns the number of lines dropped since the last emitted one.
func (s *Sampler) Suppressed() int64 {
	return s.suppressed.Load()
}
