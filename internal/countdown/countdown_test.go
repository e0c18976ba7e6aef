package countdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ref = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRead(t *testing.T) {
	d := Durations{engine.StatusBetting: 10 * time.Second}

	cases := []struct {
		name     string
		status   engine.Status
		now      time.Time
		wantSecs int
		wantText string
	}{
		{"fresh round", engine.StatusBetting, ref, 10, "Starting in 10s"},
		{"partial second rounds up", engine.StatusBetting, ref.Add(8500 * time.Millisecond), 2, "Starting in 2s"},
		{"expired clamps to zero", engine.StatusBetting, ref.Add(time.Minute), 0, "Starting..."},
		{"status without phase", engine.StatusPlaying, ref, 0, "Rolling"},
		{"resolved", engine.StatusResolved, ref, 0, "Finished"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Read(tc.status, ref, tc.now, d)
			assert.Equal(t, tc.wantSecs, got.Seconds)
			assert.Equal(t, tc.wantText, got.Text)
		})
	}
}

func TestRemaining_ZeroReference(t *testing.T) {
	d := Durations{engine.StatusBetting: 10 * time.Second}
	assert.Zero(t, Remaining(engine.StatusBetting, time.Time{}, ref, d))
}

// Ticks that arrive late still show the right value because each reading is
// recomputed from the reference, not decremented.
func TestTicker_RecomputesFromReference(t *testing.T) {
	var mu sync.Mutex
	clock := ref
	jumps := []time.Duration{0, 3 * time.Second, 7 * time.Second}
	calls := 0

	tk := &Ticker{
		Interval: 5 * time.Millisecond,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			if calls < len(jumps) {
				clock = ref.Add(jumps[calls])
			}
			calls++
			return clock
		},
	}

	d := Durations{engine.StatusBetting: 10 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readings := make(chan int, 16)
	done := make(chan struct{})
	go func() {
		tk.Run(ctx, func(now time.Time) {
			select {
			case readings <- Read(engine.StatusBetting, ref, now, d).Seconds:
			default:
			}
		})
		close(done)
	}()

	got := []int{}
	for len(got) < 3 {
		select {
		case s := <-readings:
			got = append(got, s)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for ticks, got %v", got)
		}
	}
	require.Equal(t, []int{10, 7, 3}, got)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("ticker did not stop on cancel")
	}
}

func TestReadRound_UsesPhaseReference(t *testing.T) {
	d := DefaultDurations[engine.GameJackpot]
	r := engine.Round{
		RoundID:        "j1",
		Game:           engine.GameJackpot,
		Status:         engine.StatusPlaying,
		StartedAt:      ref,
		PhaseStartedAt: ref.Add(30 * time.Second),
	}

	got := ReadRound(r, ref.Add(33*time.Second), d)
	assert.Equal(t, 7, got.Seconds)
	assert.Equal(t, "Rolling in 7s", got.Text)

	r.PhaseStartedAt = time.Time{}
	assert.Zero(t, ReadRound(r, ref.Add(33*time.Second), d).Seconds, "falls back to StartedAt")
}

func TestReadRound_CrashMultiplier(t *testing.T) {
	r := engine.Round{RoundID: "c1", Game: engine.GameCrash, Status: engine.StatusPlaying, PhaseStartedAt: ref}

	got := ReadRound(r, ref.Add(engine.CrashElapsed(2)), DefaultDurations[engine.GameCrash])
	assert.InDelta(t, 2.0, got.Multiplier, 0.01)

	r.Status = engine.StatusBetting
	assert.Zero(t, ReadRound(r, ref.Add(time.Second), DefaultDurations[engine.GameCrash]).Multiplier)
}
