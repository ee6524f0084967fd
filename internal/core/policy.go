package core

import (
	"fmt"
	"strings"
)

// DiscountPolicy computes the discount to take off a screening's fee.
type DiscountPolicy interface {
	CalculateDiscountAmount(screening Screening) Money
}

// DiscountAmounter is the variant-specific step of a conditional policy: the
// discount granted once one of its conditions matched.
type DiscountAmounter interface {
	AmountFor(screening Screening) Money
}

// NoMatch selects the discount returned when none of a policy's conditions
// match a screening.
type NoMatch int

const (
	// NoMatchZero grants no discount.
	NoMatchZero NoMatch = iota
	// NoMatchBaseFee returns the screening's whole base fee as the discount.
	NoMatchBaseFee
)

// ParseNoMatch accepts "zero" and "base_fee" (case-insensitive).
func ParseNoMatch(s string) (NoMatch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zero":
		return NoMatchZero, nil
	case "base_fee", "base-fee":
		return NoMatchBaseFee, nil
	default:
		return NoMatchZero, fmt.Errorf("no-match fallback %q: %w", s, ErrInvalidArgument)
	}
}

// Valid reports whether n is one of the defined fallbacks.
func (n NoMatch) Valid() bool {
	return n == NoMatchZero || n == NoMatchBaseFee
}

func (n NoMatch) String() string {
	switch n {
	case NoMatchZero:
		return "zero"
	case NoMatchBaseFee:
		return "base_fee"
	default:
		return fmt.Sprintf("NoMatch(%d)", int(n))
	}
}

// CalculateDiscount walks conditions in order and returns hook's amount for
// the first one satisfied by screening. When none is satisfied the result is
// decided by fallback.
func CalculateDiscount(conditions []Condition, hook DiscountAmounter, fallback NoMatch, screening Screening) Money {
	for _, condition := range conditions {
		if condition.IsSatisfiedBy(screening) {
			return hook.AmountFor(screening)
		}
	}

	if fallback == NoMatchBaseFee {
		return screening.Fee()
	}
	return Zero
}

type conditionList struct {
	conditions []Condition
	fallback   NoMatch
}

func newConditionList(fallback NoMatch, conditions []Condition) (conditionList, error) {
	if !fallback.Valid() {
		return conditionList{}, fmt.Errorf("no-match fallback %d: %w", int(fallback), ErrInvalidArgument)
	}

	copied := make([]Condition, len(conditions))
	for i, condition := range conditions {
		if condition == nil {
			return conditionList{}, fmt.Errorf("condition %d is nil: %w", i, ErrInvalidArgument)
		}
		copied[i] = condition
	}

	return conditionList{conditions: copied, fallback: fallback}, nil
}

// Conditions returns the policy's conditions in evaluation order.
func (l conditionList) Conditions() []Condition {
	return append([]Condition(nil), l.conditions...)
}

// Fallback reports the policy's no-match behaviour.
func (l conditionList) Fallback() NoMatch {
	return l.fallback
}

// AmountDiscountPolicy takes a fixed amount off the fee.
type AmountDiscountPolicy struct {
	conditionList
	amount Money
}

func NewAmountDiscountPolicy(amount Money, fallback NoMatch, conditions ...Condition) (*AmountDiscountPolicy, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("discount amount %s must not be negative: %w", amount, ErrInvalidArgument)
	}

	list, err := newConditionList(fallback, conditions)
	if err != nil {
		return nil, err
	}

	return &AmountDiscountPolicy{conditionList: list, amount: amount}, nil
}

func (p *AmountDiscountPolicy) Amount() Money {
	return p.amount
}

func (p *AmountDiscountPolicy) AmountFor(Screening) Money {
	return p.amount
}

func (p *AmountDiscountPolicy) CalculateDiscountAmount(screening Screening) Money {
	return CalculateDiscount(p.conditions, p, p.fallback, screening)
}

// PercentDiscountPolicy takes a fraction of the screening fee off.
type PercentDiscountPolicy struct {
	conditionList
	fraction Fraction
}

func NewPercentDiscountPolicy(fraction Fraction, fallback NoMatch, conditions ...Condition) (*PercentDiscountPolicy, error) {
	list, err := newConditionList(fallback, conditions)
	if err != nil {
		return nil, err
	}

	return &PercentDiscountPolicy{conditionList: list, fraction: fraction}, nil
}

func (p *PercentDiscountPolicy) Fraction() Fraction {
	return p.fraction
}

func (p *PercentDiscountPolicy) AmountFor(screening Screening) Money {
	return screening.Fee().Scale(p.fraction)
}

func (p *PercentDiscountPolicy) CalculateDiscountAmount(screening Screening) Money {
	return CalculateDiscount(p.conditions, p, p.fallback, screening)
}

// NoneDiscountPolicy never discounts. It has no conditions and ignores any
// no-match fallback.
type NoneDiscountPolicy struct{}

func NewNoneDiscountPolicy() NoneDiscountPolicy {
	return NoneDiscountPolicy{}
}

func (NoneDiscountPolicy) AmountFor(Screening) Money {
	return Zero
}

func (NoneDiscountPolicy) CalculateDiscountAmount(Screening) Money {
	return Zero
}
