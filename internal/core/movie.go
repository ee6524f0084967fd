package core

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Movie is a priced entity: a base fee combined with the discount policy it
// was constructed with. A Movie is immutable and safe for concurrent use.
type Movie struct {
	title       string
	runningTime time.Duration
	fee         Money
	policy      DiscountPolicy
}

// Quote is the breakdown of one fee calculation.
type Quote struct {
	BaseFee  Money `json:"base_fee"`
	Discount Money `json:"discount"`
	Fee      Money `json:"fee"`
}

func NewMovie(title string, runningTime time.Duration, fee Money, policy DiscountPolicy) (*Movie, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("movie title is required: %w", ErrInvalidArgument)
	}
	if runningTime <= 0 {
		return nil, fmt.Errorf("movie running time %s must be positive: %w", runningTime, ErrInvalidArgument)
	}
	if fee.IsNegative() {
		return nil, fmt.Errorf("movie fee %s must not be negative: %w", fee, ErrInvalidArgument)
	}
	if isNilPolicy(policy) {
		return nil, fmt.Errorf("movie discount policy is required: %w", ErrInvalidArgument)
	}

	return &Movie{
		title:       title,
		runningTime: runningTime,
		fee:         fee,
		policy:      policy,
	}, nil
}

// isNilPolicy also catches a nil pointer stored in the interface, such as the
// first result of a failed NewAmountDiscountPolicy.
func isNilPolicy(policy DiscountPolicy) bool {
	if policy == nil {
		return true
	}
	v := reflect.ValueOf(policy)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return v.IsNil()
	}
	return false
}

func (m *Movie) Title() string {
	return m.title
}

func (m *Movie) RunningTime() time.Duration {
	return m.runningTime
}

func (m *Movie) Fee() Money {
	return m.fee
}

// CalculateFee returns the movie's fee minus the policy's discount for
// screening.
func (m *Movie) CalculateFee(screening Screening) Money {
	return m.fee.Subtract(m.policy.CalculateDiscountAmount(screening))
}

// Quote is CalculateFee with the discount reported alongside the result.
func (m *Movie) Quote(screening Screening) Quote {
	discount := m.policy.CalculateDiscountAmount(screening)
	return Quote{
		BaseFee:  m.fee,
		Discount: discount,
		Fee:      m.fee.Subtract(discount),
	}
}
