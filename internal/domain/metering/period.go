package metering

import (
	"time"

	"github.com/aimeter/backend/internal/domain/shared"
)

// CycleType is the length of a usage-accounting window
type CycleType string

const (
	CycleDaily   CycleType = "daily"
	CycleWeekly  CycleType = "weekly"
	CycleMonthly CycleType = "monthly"
	CycleYearly  CycleType = "yearly"
	CycleRolling CycleType = "rolling"
)

// IsValid returns true if the cycle type is known
func (c CycleType) IsValid() bool {
	switch c {
	case CycleDaily, CycleWeekly, CycleMonthly, CycleYearly, CycleRolling:
		return true
	}
	return false
}

// String returns the string representation of CycleType
func (c CycleType) String() string {
	return string(c)
}

// Alignment controls whether windows snap to calendar boundaries
type Alignment string

const (
	AlignmentCalendar Alignment = "calendar"
	AlignmentRolling  Alignment = "rolling"
)

// IsValid returns true if the alignment is known
func (a Alignment) IsValid() bool {
	return a == AlignmentCalendar || a == AlignmentRolling
}

// String returns the string representation of Alignment
func (a Alignment) String() string {
	return string(a)
}

// BillingPeriod is a half-open accounting window [Start, End)
type BillingPeriod struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	CycleType CycleType `json:"cycle_type"`
	Alignment Alignment `json:"alignment"`
}

// Contains reports whether t falls inside the window. End is exclusive.
func (p BillingPeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// PeriodCalculator computes billing windows for a fixed cycle configuration.
// It is immutable and safe for concurrent use.
type PeriodCalculator struct {
	cycle     CycleType
	alignment Alignment
	location  *time.Location
}

// NewPeriodCalculator creates a calculator. An empty timezone means UTC.
func NewPeriodCalculator(cycle CycleType, alignment Alignment, timezone string) (*PeriodCalculator, error) {
	if !cycle.IsValid() {
		return nil, shared.NewDomainError("INVALID_PERIOD_TYPE", "Unknown period type: "+string(cycle))
	}
	if !alignment.IsValid() {
		return nil, shared.NewDomainError("INVALID_PERIOD_ALIGNMENT", "Unknown period alignment: "+string(alignment))
	}
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, shared.NewDomainError("INVALID_TIMEZONE", "Unknown timezone: "+timezone)
	}
	return &PeriodCalculator{cycle: cycle, alignment: alignment, location: loc}, nil
}

// Location returns the timezone windows are computed in
func (c *PeriodCalculator) Location() *time.Location {
	return c.location
}

// Period returns the window containing ref
func (c *PeriodCalculator) Period(ref time.Time) BillingPeriod {
	return BillingPeriod{
		Start:     c.Start(ref),
		End:       c.End(ref),
		CycleType: c.cycle,
		Alignment: c.alignment,
	}
}

// Previous returns the window immediately before the one containing ref
func (c *PeriodCalculator) Previous(ref time.Time) BillingPeriod {
	return c.Period(c.Start(ref).Add(-time.Nanosecond))
}

// Start returns the inclusive start of the window containing ref
func (c *PeriodCalculator) Start(ref time.Time) time.Time {
	t := ref.In(c.location)
	switch c.cycle {
	case CycleDaily:
		return startOfDay(t)
	case CycleWeekly:
		if c.alignment == AlignmentCalendar {
			// ISO weeks start on Monday
			offset := (int(t.Weekday()) + 6) % 7
			return startOfDay(t).AddDate(0, 0, -offset)
		}
		return startOfDay(t).AddDate(0, 0, -int(t.Weekday()))
	case CycleMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.location)
	case CycleYearly:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, c.location)
	case CycleRolling:
		return t
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.location)
}

// End returns the exclusive end of the window containing ref, which is
// the instant the next window begins
func (c *PeriodCalculator) End(ref time.Time) time.Time {
	start := c.Start(ref)
	switch c.cycle {
	case CycleDaily:
		return start.AddDate(0, 0, 1)
	case CycleWeekly:
		return start.AddDate(0, 0, 7)
	case CycleMonthly:
		return start.AddDate(0, 1, 0)
	case CycleYearly:
		return start.AddDate(1, 0, 0)
	case CycleRolling:
		if c.alignment == AlignmentCalendar {
			return start.AddDate(0, 1, 0)
		}
		return start.AddDate(0, 0, 30)
	}
	return start.AddDate(0, 1, 0)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
