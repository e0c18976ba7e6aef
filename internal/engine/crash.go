package engine

import (
	"math"
	"time"
)

const crashGrowthPerMs = 0.00006

// CrashMultiplier is the displayed crash multiplier after elapsed, floored to 2 decimals.
func CrashMultiplier(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	ms := float64(elapsed.Milliseconds())
	return math.Floor(100*math.Exp(crashGrowthPerMs*ms)) / 100
}

// CrashElapsed is the inverse of CrashMultiplier: time needed to reach m.
func CrashElapsed(m float64) time.Duration {
	if m <= 1 {
		return 0
	}
	ms := math.Log(m) / crashGrowthPerMs
	return time.Duration(math.Ceil(ms)) * time.Millisecond
}
