// Package schedule computes run times for 5-field cron patterns and converts
// between patterns and the friendly daily/weekly/monthly representation.
package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yourusername/network-backup-manager/internal/backuperr"
)

// starBit mirrors robfig/cron's marker for a field written as "*".
const starBit = 1 << 63

// maxAndIterations bounds the search when day-of-month and day-of-week are
// both restricted. 15 years of candidate days comfortably covers any
// satisfiable combination.
const maxAndIterations = 15 * 366

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Pattern is a parsed cron expression.
type Pattern struct {
	raw  string
	spec *cron.SpecSchedule
}

// Parse validates a 5-field pattern (minute hour day-of-month month
// day-of-week). Descriptors like @daily and 6-field patterns are rejected.
func Parse(pattern string) (*Pattern, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return nil, backuperr.Configuration("schedule.parse", "cron pattern is empty")
	}
	if fields := strings.Fields(trimmed); len(fields) != 5 {
		return nil, backuperr.Configuration("schedule.parse", "cron pattern %q must have 5 fields, got %d", trimmed, len(fields))
	}

	sched, err := parser.Parse(trimmed)
	if err != nil {
		return nil, backuperr.Configuration("schedule.parse", "invalid cron pattern %q: %v", trimmed, err)
	}

	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, backuperr.Configuration("schedule.parse", "unsupported cron pattern %q", trimmed)
	}

	return &Pattern{raw: trimmed, spec: spec}, nil
}

// Validate reports whether pattern parses.
func Validate(pattern string) error {
	_, err := Parse(pattern)
	return err
}

// String returns the normalized pattern text.
func (p *Pattern) String() string {
	return p.raw
}

// Next returns the earliest instant strictly after from that matches every
// field. When both day-of-month and day-of-week are restricted they must
// both match, unlike classic cron which ORs them.
func (p *Pattern) Next(from time.Time) (time.Time, error) {
	if !p.bothDaysRestricted() {
		next := p.spec.Next(from)
		if next.IsZero() {
			return time.Time{}, backuperr.Configuration("schedule.next", "cron pattern %q never fires", p.raw)
		}
		return next, nil
	}

	t := from
	for i := 0; i < maxAndIterations; i++ {
		t = p.spec.Next(t)
		if t.IsZero() {
			break
		}
		if p.spec.Dom&(1<<uint(t.Day())) != 0 && p.spec.Dow&(1<<uint(t.Weekday())) != 0 {
			return t, nil
		}
	}

	return time.Time{}, backuperr.Configuration("schedule.next", "cron pattern %q never fires", p.raw)
}

func (p *Pattern) bothDaysRestricted() bool {
	return p.spec.Dom&starBit == 0 && p.spec.Dow&starBit == 0
}

// Next parses pattern and returns its next run strictly after from.
func Next(pattern string, from time.Time) (time.Time, error) {
	p, err := Parse(pattern)
	if err != nil {
		return time.Time{}, err
	}
	return p.Next(from)
}

// Upcoming returns the next n run times after from.
func Upcoming(pattern string, from time.Time, n int) ([]time.Time, error) {
	p, err := Parse(pattern)
	if err != nil {
		return nil, err
	}

	runs := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		next, err := p.Next(t)
		if err != nil {
			return nil, err
		}
		runs = append(runs, next)
		t = next
	}
	return runs, nil
}
