package engine

import (
	"math"
	"time"
)

// dateKey formats a day for holiday lookup.
const dateKey = "2006-01-02"

// SlaCalculator converts SLA hours plus a start instant into a deadline,
// optionally clipped to a daily working window with weekends and holidays
// skipped. Output is deterministic for fixed inputs.
type SlaCalculator struct {
	working  WorkingHours
	holidays map[string]struct{}
}

// DefaultWorkingHours is the window used when a calculator is built without
// an explicit one.
var DefaultWorkingHours = WorkingHours{Start: 9, End: 17}

// NewSlaCalculator builds a calculator for the given working window and
// holiday dates (compared by calendar day in the start instant's location).
func NewSlaCalculator(working *WorkingHours, holidays []time.Time) *SlaCalculator {
	w := DefaultWorkingHours
	if working != nil {
		w = *working
	}
	hs := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		hs[h.Format(dateKey)] = struct{}{}
	}
	return &SlaCalculator{working: w, holidays: hs}
}

// EffectiveSlaHours applies the urgency multiplier to the rule's configured
// SLA hours. Urgency 1 is critical, 5 is very low; anything out of range
// leaves the hours unchanged.
func EffectiveSlaHours(slaHours float64, urgency int) float64 {
	switch urgency {
	case 1:
		return math.Max(1, slaHours*0.25)
	case 2:
		return math.Max(2, slaHours*0.5)
	case 4:
		return slaHours * 1.5
	case 5:
		return slaHours * 2
	}
	return slaHours
}

// Deadline computes the SLA deadline for an instance started at start. The
// urgency multiplier applies before any business-hours clipping.
func (c *SlaCalculator) Deadline(start time.Time, slaHours float64, urgency int, businessHoursOnly bool) time.Time {
	effective := EffectiveSlaHours(slaHours, urgency)
	budget := time.Duration(effective * float64(time.Hour))

	if !businessHoursOnly {
		return start.Add(budget)
	}
	return c.businessDeadline(start, budget)
}

// businessDeadline consumes the budget day by day, skipping weekend and
// holiday spans whole. Equivalent to an hour-by-hour walk but O(days).
func (c *SlaCalculator) businessDeadline(start time.Time, budget time.Duration) time.Time {
	// A degenerate window cannot absorb any hours; fall back to plain addition.
	if c.working.End <= c.working.Start {
		return start.Add(budget)
	}

	cursor := start
	remaining := budget

	for {
		if !c.isWorkingDay(cursor) {
			cursor = c.nextDayStart(cursor)
			continue
		}

		dayStart := time.Date(cursor.Year(), cursor.Month(), cursor.Day(),
			c.working.Start, 0, 0, 0, cursor.Location())
		dayEnd := time.Date(cursor.Year(), cursor.Month(), cursor.Day(),
			c.working.End, 0, 0, 0, cursor.Location())

		if cursor.Before(dayStart) {
			cursor = dayStart
		}
		if !cursor.Before(dayEnd) {
			cursor = c.nextDayStart(cursor)
			continue
		}

		available := dayEnd.Sub(cursor)
		if available >= remaining {
			return cursor.Add(remaining)
		}
		remaining -= available
		cursor = c.nextDayStart(cursor)
	}
}

// isWorkingDay is false on Saturdays, Sundays and configured holidays.
func (c *SlaCalculator) isWorkingDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	_, holiday := c.holidays[t.Format(dateKey)]
	return !holiday
}

// nextDayStart moves to the working window's start hour of the next
// calendar day.
func (c *SlaCalculator) nextDayStart(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(),
		c.working.Start, 0, 0, 0, t.Location())
}
