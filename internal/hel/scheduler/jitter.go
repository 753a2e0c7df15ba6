package scheduler

import (
	"math/rand"
	"time"

	"github.com/timescale/hel/internal/hel/config"
)

// firstFireDelay picks a source's initial fire time (spec §4.J): a uniform
// random offset between zero and the configured jitter (or the full
// interval when no jitter is set), so that a freshly started Hel process
// doesn't slam every source at once.
func firstFireDelay(s config.ScheduleSpec) time.Duration {
	spread := s.JitterSecs
	if spread <= 0 {
		spread = s.IntervalSecs
	}
	if spread <= 0 {
		return 0
	}
	return time.Duration(rand.Intn(spread+1)) * time.Second
}

// nextFireDelay picks the delay from one tick's start to the next
// (spec §4.J): interval plus a uniform +/-jitter offset,
// clamped to never go negative. Mirrors resilience.jittered's
// symmetric-spread shape, applied to a schedule instead of a backoff.
func nextFireDelay(s config.ScheduleSpec) time.Duration {
	base := time.Duration(s.IntervalSecs) * time.Second
	if s.JitterSecs <= 0 {
		return base
	}
	spread := time.Duration(s.JitterSecs) * time.Second
	offset := time.Duration((rand.Float64()*2 - 1) * float64(spread))
	d := base + offset
	if d < 0 {
		d = 0
	}
	return d
}
