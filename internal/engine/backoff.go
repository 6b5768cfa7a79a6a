package engine

import (
	"math"
	"time"
)

// nextInterval doubles the poll interval after a failed poll, capped at ceiling.
func nextInterval(current, ceiling time.Duration) time.Duration {
	next := time.Duration(math.Min(float64(current)*2, float64(ceiling)))
	if next <= 0 {
		return ceiling
	}
	return next
}

// progressPercent returns round(100 * finished / total).
func progressPercent(finished, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(finished) / float64(total)))
}
