package policy

import (
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func cp(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func TestDecideNext(t *testing.T) {
	tests := []struct {
		name       string
		checkpoint *time.Time
		every      time.Duration
		minGap     time.Duration
		now        time.Time
		want       time.Time
	}{
		{
			name:       "no checkpoint enforces minimum gap from now",
			checkpoint: nil,
			every:      2 * time.Hour,
			minGap:     2 * time.Hour,
			now:        base,
			want:       base.Add(2 * time.Hour),
		},
		{
			name:       "interval not elapsed keeps original cadence",
			checkpoint: cp(-1 * time.Hour),
			every:      2 * time.Hour,
			minGap:     2 * time.Hour,
			now:        base,
			want:       base.Add(1 * time.Hour), // checkpoint + 2h
		},
		{
			name:       "interval elapsed schedules immediately",
			checkpoint: cp(-3 * time.Hour),
			every:      2 * time.Hour,
			minGap:     2 * time.Hour,
			now:        base,
			want:       base, // max(now, checkpoint+2h) = now
		},
		{
			name:       "half hour into interval waits the remainder",
			checkpoint: cp(-30 * time.Minute),
			every:      2 * time.Hour,
			minGap:     2 * time.Hour,
			now:        base,
			want:       base.Add(90 * time.Minute),
		},
		{
			name:       "interval elapsed but min gap not yet satisfied",
			checkpoint: cp(-time.Hour),
			every:      30 * time.Minute,
			minGap:     2 * time.Hour,
			now:        base,
			want:       base.Add(time.Hour), // checkpoint + minGap
		},
		{
			name:       "min gap dominates a shorter interval",
			checkpoint: cp(0),
			every:      time.Hour,
			minGap:     2 * time.Hour,
			now:        base,
			want:       base.Add(2 * time.Hour),
		},
		{
			name:       "clock behind checkpoint clamps forward",
			checkpoint: cp(time.Hour), // checkpoint one hour in the "future"
			every:      2 * time.Hour,
			minGap:     2 * time.Hour,
			now:        base,
			want:       base.Add(3 * time.Hour), // checkpoint + interval
		},
		{
			name:       "exactly at interval boundary",
			checkpoint: cp(-2 * time.Hour),
			every:      2 * time.Hour,
			minGap:     time.Hour,
			now:        base,
			want:       base,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideNext(tt.checkpoint, tt.every, tt.minGap, tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("DecideNext() = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestDecideNext_Invariants sweeps a grid of checkpoints, intervals, and
// call times and checks the spacing and no-past guarantees hold everywhere.
func TestDecideNext_Invariants(t *testing.T) {
	offsets := []time.Duration{
		-6 * time.Hour, -3 * time.Hour, -90 * time.Minute,
		-1 * time.Minute, 0, 30 * time.Minute, 2 * time.Hour,
	}
	intervals := []time.Duration{30 * time.Minute, 2 * time.Hour, 8 * time.Hour}
	gaps := []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour}

	for _, off := range offsets {
		for _, every := range intervals {
			for _, gap := range gaps {
				c := base.Add(off)
				got := DecideNext(&c, every, gap, base)

				if got.Before(base) {
					t.Fatalf("scheduled into the past: cp=%s every=%s gap=%s got=%s",
						off, every, gap, got)
				}
				if got.Before(c.Add(gap)) {
					t.Fatalf("minimum gap violated: cp=%s every=%s gap=%s got=%s",
						off, every, gap, got)
				}
			}
		}
	}
}

func TestDecideNext_NoCheckpointIgnoresInterval(t *testing.T) {
	for _, every := range []time.Duration{time.Minute, time.Hour, 24 * time.Hour} {
		got := DecideNext(nil, every, 2*time.Hour, base)
		if want := base.Add(2 * time.Hour); !got.Equal(want) {
			t.Errorf("every=%s: got %s, want %s", every, got, want)
		}
	}
}
