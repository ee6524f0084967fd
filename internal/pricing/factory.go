package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/matt-riley/marquee/internal/core"
)

type settings struct {
	noMatch  core.NoMatch
	location *time.Location
}

func newSettings(opts []Option) (settings, error) {
	s := settings{noMatch: core.NoMatchZero, location: time.UTC}
	for _, opt := range opts {
		opt(&s)
	}
	if !s.noMatch.Valid() {
		return settings{}, fmt.Errorf("no-match fallback %s: %w", s.noMatch, core.ErrInvalidArgument)
	}
	return s, nil
}

// Option configures a Factory or a Lineup.
type Option func(*settings)

// WithNoMatch sets the discount reported when no condition of a built policy
// matches. The default is core.NoMatchZero.
func WithNoMatch(n core.NoMatch) Option {
	return func(s *settings) {
		s.noMatch = n
	}
}

// WithLocation sets the location period conditions are evaluated in. A nil
// location leaves the default of UTC in place.
func WithLocation(loc *time.Location) Option {
	return func(s *settings) {
		if loc != nil {
			s.location = loc
		}
	}
}

// Factory builds movies from Definitions. A Factory holds no mutable state
// and may be shared between goroutines.
type Factory struct {
	settings
}

// NewFactory returns a Factory configured by opts. It fails when an option
// carries a value no policy could be built with.
func NewFactory(opts ...Option) (*Factory, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	return &Factory{settings: s}, nil
}

func (f *Factory) NoMatch() core.NoMatch {
	return f.noMatch
}

func (f *Factory) Location() *time.Location {
	return f.location
}

// Build validates def and returns the movie it describes. Conditions are
// evaluated in the order they appear in def. Errors name the offending field
// and wrap core.ErrInvalidArgument.
func (f *Factory) Build(def Definition) (*core.Movie, error) {
	if strings.TrimSpace(def.Title) == "" {
		return nil, fmt.Errorf("title is required: %w", core.ErrInvalidArgument)
	}
	if def.Fee.IsNegative() {
		return nil, fmt.Errorf("fee %s must not be negative: %w", def.Fee, core.ErrInvalidArgument)
	}
	if def.RunningTimeMinutes <= 0 {
		return nil, fmt.Errorf("running_time_minutes must be positive: %w", core.ErrInvalidArgument)
	}

	policy, err := f.buildPolicy(def.Policy)
	if err != nil {
		return nil, err
	}

	movie, err := core.NewMovie(def.Title, time.Duration(def.RunningTimeMinutes)*time.Minute, def.Fee, policy)
	if err != nil {
		return nil, fmt.Errorf("movie: %w", err)
	}
	return movie, nil
}

func (f *Factory) buildPolicy(def PolicyDefinition) (core.DiscountPolicy, error) {
	switch PolicyType(strings.ToLower(string(def.Type))) {
	case PolicyAmount:
		if def.Amount == nil {
			return nil, fmt.Errorf("policy.amount is required for an amount policy: %w", core.ErrInvalidArgument)
		}
		conditions, err := f.buildConditions(def.Conditions)
		if err != nil {
			return nil, err
		}
		policy, err := core.NewAmountDiscountPolicy(*def.Amount, f.noMatch, conditions...)
		if err != nil {
			return nil, fmt.Errorf("policy.amount: %w", err)
		}
		return policy, nil

	case PolicyPercent:
		if def.Fraction == nil {
			return nil, fmt.Errorf("policy.fraction is required for a percent policy: %w", core.ErrInvalidArgument)
		}
		conditions, err := f.buildConditions(def.Conditions)
		if err != nil {
			return nil, err
		}
		policy, err := core.NewPercentDiscountPolicy(*def.Fraction, f.noMatch, conditions...)
		if err != nil {
			return nil, fmt.Errorf("policy.fraction: %w", err)
		}
		return policy, nil

	case PolicyNone:
		if len(def.Conditions) > 0 {
			return nil, fmt.Errorf("policy.conditions: a none policy takes no conditions: %w", core.ErrInvalidArgument)
		}
		return core.NewNoneDiscountPolicy(), nil

	case "":
		return nil, fmt.Errorf("policy.type is required: %w", core.ErrInvalidArgument)
	default:
		return nil, fmt.Errorf("policy.type %q is not one of amount, percent, none: %w", def.Type, core.ErrInvalidArgument)
	}
}

func (f *Factory) buildConditions(defs []ConditionDefinition) ([]core.Condition, error) {
	conditions := make([]core.Condition, 0, len(defs))
	for i, def := range defs {
		condition, err := f.buildCondition(def)
		if err != nil {
			return nil, fmt.Errorf("policy.conditions[%d].%w", i, err)
		}
		conditions = append(conditions, condition)
	}
	return conditions, nil
}

// buildCondition returns errors prefixed with the failing field name so that
// buildConditions can prepend the element path.
func (f *Factory) buildCondition(def ConditionDefinition) (core.Condition, error) {
	switch ConditionType(strings.ToLower(string(def.Type))) {
	case ConditionSequence:
		condition, err := core.NewSequenceCondition(def.Sequence)
		if err != nil {
			return nil, fmt.Errorf("sequence: %w", err)
		}
		return condition, nil

	case ConditionPeriod:
		day, err := ParseWeekday(def.DayOfWeek)
		if err != nil {
			return nil, fmt.Errorf("day_of_week: %w", err)
		}
		start, err := core.ParseTimeOfDay(def.Start)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		end, err := core.ParseTimeOfDay(def.End)
		if err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
		condition, err := core.NewPeriodCondition(day, start, end, f.location)
		if err != nil {
			field := "end"
			if time.Duration(start) >= 24*time.Hour {
				field = "start"
			}
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return condition, nil

	default:
		return nil, fmt.Errorf("type %q is not one of sequence, period: %w", def.Type, core.ErrInvalidArgument)
	}
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts an English weekday name or its three-letter
// abbreviation, in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if day, ok := weekdays[name]; ok {
		return day, nil
	}
	if len(name) == 3 {
		for full, day := range weekdays {
			if strings.HasPrefix(full, name) {
				return day, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown weekday %q: %w", s, core.ErrInvalidArgument)
}
