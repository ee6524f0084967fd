// Package pricing assembles movie pricing graphs. It is the only package that
// names concrete discount policy and condition variants; callers receive a
// ready-to-use *core.Movie and never see how it was wired.
package pricing

import "github.com/matt-riley/marquee/internal/core"

// PolicyType names a discount policy variant in a Definition.
type PolicyType string

const (
	PolicyAmount  PolicyType = "amount"
	PolicyPercent PolicyType = "percent"
	PolicyNone    PolicyType = "none"
)

// ConditionType names a discount condition variant in a Definition.
type ConditionType string

const (
	ConditionSequence ConditionType = "sequence"
	ConditionPeriod   ConditionType = "period"
)

// Definition holds the raw pricing parameters of a movie as authored by a
// client or stored in the database.
type Definition struct {
	Title              string           `json:"title"`
	RunningTimeMinutes int              `json:"running_time_minutes"`
	Fee                core.Money       `json:"fee"`
	Policy             PolicyDefinition `json:"policy"`
}

type PolicyDefinition struct {
	Type       PolicyType            `json:"type"`
	Amount     *core.Money           `json:"amount,omitempty"`
	Fraction   *core.Fraction        `json:"fraction,omitempty"`
	Conditions []ConditionDefinition `json:"conditions,omitempty"`
}

// ConditionDefinition is a tagged union: Sequence is read for sequence
// conditions, DayOfWeek/Start/End for period conditions.
type ConditionDefinition struct {
	Type      ConditionType `json:"type"`
	Sequence  int           `json:"sequence,omitempty"`
	DayOfWeek string        `json:"day_of_week,omitempty"`
	Start     string        `json:"start,omitempty"`
	End       string        `json:"end,omitempty"`
}
