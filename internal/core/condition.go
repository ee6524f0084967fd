package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Condition decides whether a screening is eligible for a discount.
// Implementations must be pure and safe for concurrent use.
type Condition interface {
	IsSatisfiedBy(screening Screening) bool
}

// SequenceCondition matches the screening with a given sequence number.
type SequenceCondition struct {
	sequence int
}

func NewSequenceCondition(sequence int) (SequenceCondition, error) {
	if sequence < 1 {
		return SequenceCondition{}, fmt.Errorf("sequence %d must be >= 1: %w", sequence, ErrInvalidArgument)
	}
	return SequenceCondition{sequence: sequence}, nil
}

func (c SequenceCondition) Sequence() int {
	return c.sequence
}

func (c SequenceCondition) IsSatisfiedBy(screening Screening) bool {
	return screening.Sequence() == c.sequence
}

// TimeOfDay is an offset from midnight.
type TimeOfDay time.Duration

const endOfDay = TimeOfDay(24 * time.Hour)

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS". "24:00" is accepted so that a
// window can run to the end of the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("time of day %q must be HH:MM or HH:MM:SS: %w", s, ErrInvalidArgument)
	}

	limits := []int{24, 59, 59}
	values := make([]int, 3)
	for i, part := range parts {
		if len(part) != 2 {
			return 0, fmt.Errorf("time of day %q must use two-digit fields: %w", s, ErrInvalidArgument)
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("time of day %q is out of range: %w", s, ErrInvalidArgument)
		}
		values[i] = n
	}

	t := TimeOfDay(time.Duration(values[0])*time.Hour +
		time.Duration(values[1])*time.Minute +
		time.Duration(values[2])*time.Second)
	if t > endOfDay {
		return 0, fmt.Errorf("time of day %q is after 24:00: %w", s, ErrInvalidArgument)
	}
	return t, nil
}

func timeOfDayOf(t time.Time) TimeOfDay {
	hour, minute, second := t.Clock()
	return TimeOfDay(time.Duration(hour)*time.Hour +
		time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second +
		time.Duration(t.Nanosecond()))
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)
	if seconds == 0 {
		return fmt.Sprintf("%02d:%02d", hours, minutes)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// PeriodCondition matches screenings that start on a weekday inside the
// half-open window [start, end), read in the condition's location.
type PeriodCondition struct {
	day      time.Weekday
	start    TimeOfDay
	end      TimeOfDay
	location *time.Location
}

// NewPeriodCondition returns a window condition. A nil location means UTC.
func NewPeriodCondition(day time.Weekday, start, end TimeOfDay, location *time.Location) (PeriodCondition, error) {
	if day < time.Sunday || day > time.Saturday {
		return PeriodCondition{}, fmt.Errorf("day of week %d: %w", day, ErrInvalidArgument)
	}
	if start < 0 || start >= endOfDay {
		return PeriodCondition{}, fmt.Errorf("period start %s must be before 24:00: %w", start, ErrInvalidArgument)
	}
	if end <= start || end > endOfDay {
		return PeriodCondition{}, fmt.Errorf("period end %s must be after start %s: %w", end, start, ErrInvalidArgument)
	}
	if location == nil {
		location = time.UTC
	}

	return PeriodCondition{
		day:      day,
		start:    start,
		end:      end,
		location: location,
	}, nil
}

func (c PeriodCondition) Day() time.Weekday        { return c.day }
func (c PeriodCondition) Start() TimeOfDay         { return c.start }
func (c PeriodCondition) End() TimeOfDay           { return c.end }
func (c PeriodCondition) Location() *time.Location { return c.location }

func (c PeriodCondition) IsSatisfiedBy(screening Screening) bool {
	location := c.location
	if location == nil {
		location = time.UTC
	}

	local := screening.StartTime().In(location)
	if local.Weekday() != c.day {
		return false
	}

	t := timeOfDayOf(local)
	return c.start <= t && t < c.end
}
