package scheduler

import (
	"testing"
	"time"

	"github.com/timescale/hel/internal/hel/config"
)

func TestFirstFireDelay_WithinJitterBound(t *testing.T) {
	s := config.ScheduleSpec{IntervalSecs: 60, JitterSecs: 10}
	for i := 0; i < 50; i++ {
		d := firstFireDelay(s)
		if d < 0 || d > 10*time.Second {
			t.Fatalf("firstFireDelay = %v, want within [0,10s]", d)
		}
	}
}

func TestFirstFireDelay_FallsBackToInterval(t *testing.T) {
	s := config.ScheduleSpec{IntervalSecs: 30}
	for i := 0; i < 50; i++ {
		d := firstFireDelay(s)
		if d < 0 || d > 30*time.Second {
			t.Fatalf("firstFireDelay = %v, want within [0,30s]", d)
		}
	}
}

func TestNextFireDelay_NoJitterReturnsInterval(t *testing.T) {
	s := config.ScheduleSpec{IntervalSecs: 45}
	if d := nextFireDelay(s); d != 45*time.Second {
		t.Fatalf("nextFireDelay = %v, want 45s", d)
	}
}

func TestNextFireDelay_WithinJitterBound(t *testing.T) {
	s := config.ScheduleSpec{IntervalSecs: 60, JitterSecs: 5}
	for i := 0; i < 50; i++ {
		d := nextFireDelay(s)
		if d < 55*time.Second || d > 65*time.Second {
			t.Fatalf("nextFireDelay = %v, want within [55s,65s]", d)
		}
	}
}

func TestNextFireDelay_NeverNegative(t *testing.T) {
	s := config.ScheduleSpec{IntervalSecs: 1, JitterSecs: 100}
	for i := 0; i < 100; i++ {
		if d := nextFireDelay(s); d < 0 {
			t.Fatalf("nextFireDelay = %v, want >= 0", d)
		}
	}
}
