package scheduler

import (
	"fmt"
	"sort"
	"time"
)

// Cadence describes how often a job fires. Exactly one mode is set:
// a fixed interval, or an explicit set of UTC hours (fired at minute 0).
// NextFireTime is pure, so cadences are unit-testable without waiting
// on wall-clock time.
type Cadence struct {
	// Interval fires the job every Interval, aligned to the interval
	// boundary. Mutually exclusive with Hours.
	Interval time.Duration

	// Hours fires the job once at each listed UTC hour (0-23).
	Hours []int
}

// Every returns an interval cadence.
func Every(interval time.Duration) Cadence {
	return Cadence{Interval: interval}
}

// AtHours returns a cadence firing at the given UTC hours.
func AtHours(hours ...int) Cadence {
	sorted := make([]int, len(hours))
	copy(sorted, hours)
	sort.Ints(sorted)
	return Cadence{Hours: sorted}
}

// Validate checks that exactly one mode is configured and its values
// are sane.
func (c Cadence) Validate() error {
	switch {
	case c.Interval > 0 && len(c.Hours) > 0:
		return fmt.Errorf("cadence: interval and hour-set are mutually exclusive")
	case c.Interval == 0 && len(c.Hours) == 0:
		return fmt.Errorf("cadence: either interval or hour-set required")
	case c.Interval < 0:
		return fmt.Errorf("cadence: interval must be positive (got %s)", c.Interval)
	case c.Interval > 0 && c.Interval < time.Minute:
		return fmt.Errorf("cadence: interval below 1m (got %s)", c.Interval)
	}
	seen := make(map[int]bool, len(c.Hours))
	for _, h := range c.Hours {
		if h < 0 || h > 23 {
			return fmt.Errorf("cadence: hour out of range: %d", h)
		}
		if seen[h] {
			return fmt.Errorf("cadence: duplicate hour: %d", h)
		}
		seen[h] = true
	}
	return nil
}

// NextFireTime returns the first time strictly after now at which the
// cadence fires. Pure function of its inputs.
func (c Cadence) NextFireTime(now time.Time) time.Time {
	if c.Interval > 0 {
		return now.Truncate(c.Interval).Add(c.Interval)
	}

	utc := now.UTC()
	for _, h := range c.Hours {
		candidate := time.Date(utc.Year(), utc.Month(), utc.Day(), h, 0, 0, 0, time.UTC)
		if candidate.After(now) {
			return candidate
		}
	}
	// All of today's hours have passed; first hour tomorrow.
	first := c.Hours[0]
	tomorrow := utc.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), first, 0, 0, 0, time.UTC)
}

// ExecutionsPerDay returns how many times the cadence fires per day.
// Used by the budget projection at registration time.
func (c Cadence) ExecutionsPerDay() float64 {
	if c.Interval > 0 {
		return float64(24*time.Hour) / float64(c.Interval)
	}
	return float64(len(c.Hours))
}

// String renders the cadence for logs and diagnostics.
func (c Cadence) String() string {
	if c.Interval > 0 {
		return fmt.Sprintf("every %s", c.Interval)
	}
	return fmt.Sprintf("at hours %v UTC", c.Hours)
}
