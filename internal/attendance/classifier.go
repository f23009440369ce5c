package attendance

import (
	"time"

	"classattend/internal/model"
)

// LateThreshold is the last whole minute after a schedule's start at which a
// scan still counts as PRESENT.
const LateThreshold = 50

// ElapsedMinutes returns floor((now - start) / 1m). Scans before the start
// yield negative values.
func ElapsedMinutes(start, now time.Time) int {
	d := now.Sub(start)
	m := d / time.Minute
	if d%time.Minute < 0 {
		m--
	}
	return int(m)
}

// Classify maps a scan time to PRESENT or LATE. It never yields ABSENT; that
// status only exists for students who did not scan at all.
func Classify(start, now time.Time) (model.Status, int) {
	elapsed := ElapsedMinutes(start, now)
	if elapsed <= LateThreshold {
		return model.StatusPresent, elapsed
	}
	return model.StatusLate, elapsed
}
