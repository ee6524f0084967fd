package core

import (
	"fmt"
	"time"
)

// Screening holds the read-only facts about one showing that a discount
// condition may inspect.
type Screening struct {
	sequence  int
	startTime time.Time
	fee       Money
}

// NewScreening returns a screening with a 1-based sequence number within its
// day, its start instant and the base fee charged for it.
func NewScreening(sequence int, startTime time.Time, fee Money) (Screening, error) {
	if sequence < 1 {
		return Screening{}, fmt.Errorf("screening sequence %d must be >= 1: %w", sequence, ErrInvalidArgument)
	}
	if startTime.IsZero() {
		return Screening{}, fmt.Errorf("screening start time is required: %w", ErrInvalidArgument)
	}
	if fee.IsNegative() {
		return Screening{}, fmt.Errorf("screening fee %s must not be negative: %w", fee, ErrInvalidArgument)
	}

	return Screening{
		sequence:  sequence,
		startTime: startTime,
		fee:       fee,
	}, nil
}

func (s Screening) Sequence() int {
	return s.sequence
}

func (s Screening) StartTime() time.Time {
	return s.startTime
}

// Fee is the base fee of the screening before any discount.
func (s Screening) Fee() Money {
	return s.fee
}
