// Package countdown derives round countdowns from a server reference timestamp.
//
// Nothing is decremented between ticks: every reading recomputes the remaining
// time from the absolute reference, so missed ticks and clock drift in the
// ticker do not accumulate.
package countdown

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/DoyleJ11/round-sync/internal/engine"
)

// Durations maps a status to the length of its phase. Statuses without an entry have no countdown.
type Durations map[engine.Status]time.Duration

var DefaultDurations = map[engine.Game]Durations{
	engine.GameCoinflip:   {engine.StatusPlaying: 5 * time.Second},
	engine.GameCrash:      {engine.StatusBetting: 10 * time.Second},
	engine.GameJackpot:    {engine.StatusBetting: 30 * time.Second, engine.StatusPlaying: 10 * time.Second},
	engine.GamePlinko:     {},
	engine.GameDreamTower: {},
}

type Reading struct {
	Status     engine.Status `json:"status"`
	Remaining  time.Duration `json:"remaining"`
	Seconds    int           `json:"seconds"`
	Text       string        `json:"text"`
	// Multiplier is the live crash multiplier while a crash round is in flight.
	Multiplier float64 `json:"multiplier,omitempty"`
}

func Remaining(status engine.Status, ref, now time.Time, d Durations) time.Duration {
	phase, ok := d[status]
	if !ok || ref.IsZero() {
		return 0
	}
	left := phase - now.Sub(ref)
	if left < 0 {
		return 0
	}
	return left
}

// Seconds rounds up so a countdown shows 1 until it really hits zero.
func Seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func Text(status engine.Status, seconds int) string {
	switch status {
	case engine.StatusBetting:
		if seconds > 0 {
			return fmt.Sprintf("Starting in %ds", seconds)
		}
		return "Starting..."
	case engine.StatusPlaying:
		if seconds > 0 {
			return fmt.Sprintf("Rolling in %ds", seconds)
		}
		return "Rolling"
	case engine.StatusResolved:
		return "Finished"
	case engine.StatusCancelled:
		return "Cancelled"
	default:
		return ""
	}
}

func Read(status engine.Status, ref, now time.Time, d Durations) Reading {
	left := Remaining(status, ref, now, d)
	secs := Seconds(left)
	return Reading{Status: status, Remaining: left, Seconds: secs, Text: Text(status, secs)}
}

// ReadRound reads the countdown of r from the start of its current phase, falling back
// to StartedAt for rounds that never recorded one.
func ReadRound(r engine.Round, now time.Time, d Durations) Reading {
	ref := r.PhaseStartedAt
	if ref.IsZero() {
		ref = r.StartedAt
	}
	rd := Read(r.Status, ref, now, d)
	if r.Game == engine.GameCrash && r.Status == engine.StatusPlaying && !ref.IsZero() {
		rd.Multiplier = engine.CrashMultiplier(now.Sub(ref))
	}
	return rd
}

type Ticker struct {
	Interval time.Duration
	Now      func() time.Time
}

func NewTicker() *Ticker {
	return &Ticker{Interval: time.Second, Now: time.Now}
}

// Run calls fn with the current time immediately and then on every tick until ctx is done.
func (t *Ticker) Run(ctx context.Context, fn func(now time.Time)) {
	fn(t.Now())

	tick := time.NewTicker(t.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			fn(t.Now())
		}
	}
}
