package pricing

import (
	"time"

	"github.com/matt-riley/marquee/internal/core"
)

// Lineup is a fixed-scenario factory: it wires a small catalogue of movies
// directly in code. It shares no state with Factory; both only depend on core.
type Lineup struct {
	settings
}

func NewLineup(opts ...Option) (*Lineup, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	return &Lineup{settings: s}, nil
}

// Avatar takes 800 off the first and tenth screening of the day and off
// Monday late-morning and Thursday daytime screenings.
func (l *Lineup) Avatar() (*core.Movie, error) {
	conditions, err := l.conditions(
		sequence(1),
		sequence(10),
		period(time.Monday, 10, 12),
		period(time.Thursday, 10, 21),
	)
	if err != nil {
		return nil, err
	}

	policy, err := core.NewAmountDiscountPolicy(core.NewMoney(800), l.noMatch, conditions...)
	if err != nil {
		return nil, err
	}
	return core.NewMovie("Avatar", 120*time.Minute, core.NewMoney(10000), policy)
}

// Titanic takes ten percent off Tuesday afternoon, the second screening of the
// day, and Thursday morning screenings.
func (l *Lineup) Titanic() (*core.Movie, error) {
	conditions, err := l.conditions(
		period(time.Tuesday, 14, 17),
		sequence(2),
		period(time.Thursday, 10, 14),
	)
	if err != nil {
		return nil, err
	}

	tenPercent, err := core.NewFraction(1000)
	if err != nil {
		return nil, err
	}
	policy, err := core.NewPercentDiscountPolicy(tenPercent, l.noMatch, conditions...)
	if err != nil {
		return nil, err
	}
	return core.NewMovie("Titanic", 180*time.Minute, core.NewMoney(11000), policy)
}

// StarWars is never discounted.
func (l *Lineup) StarWars() (*core.Movie, error) {
	return core.NewMovie("Star Wars", 210*time.Minute, core.NewMoney(10000), core.NewNoneDiscountPolicy())
}

// Movies builds the whole lineup keyed by title.
func (l *Lineup) Movies() (map[string]*core.Movie, error) {
	builders := []func() (*core.Movie, error){l.Avatar, l.Titanic, l.StarWars}

	movies := make(map[string]*core.Movie, len(builders))
	for _, build := range builders {
		movie, err := build()
		if err != nil {
			return nil, err
		}
		movies[movie.Title()] = movie
	}
	return movies, nil
}

// LineupDefinitions returns the lineup as Definitions, in the form the service
// stores. Building them with a Factory configured like a Lineup yields movies
// that price identically to its Movies.
func LineupDefinitions() []Definition {
	amount := core.NewMoney(800)
	tenPercent := mustFraction(1000)

	return []Definition{
		{
			Title:              "Avatar",
			RunningTimeMinutes: 120,
			Fee:                core.NewMoney(10000),
			Policy: PolicyDefinition{
				Type:   PolicyAmount,
				Amount: &amount,
				Conditions: []ConditionDefinition{
					{Type: ConditionSequence, Sequence: 1},
					{Type: ConditionSequence, Sequence: 10},
					{Type: ConditionPeriod, DayOfWeek: "monday", Start: "10:00", End: "12:00"},
					{Type: ConditionPeriod, DayOfWeek: "thursday", Start: "10:00", End: "21:00"},
				},
			},
		},
		{
			Title:              "Titanic",
			RunningTimeMinutes: 180,
			Fee:                core.NewMoney(11000),
			Policy: PolicyDefinition{
				Type:     PolicyPercent,
				Fraction: &tenPercent,
				Conditions: []ConditionDefinition{
					{Type: ConditionPeriod, DayOfWeek: "tuesday", Start: "14:00", End: "17:00"},
					{Type: ConditionSequence, Sequence: 2},
					{Type: ConditionPeriod, DayOfWeek: "thursday", Start: "10:00", End: "14:00"},
				},
			},
		},
		{
			Title:              "Star Wars",
			RunningTimeMinutes: 210,
			Fee:                core.NewMoney(10000),
			Policy:             PolicyDefinition{Type: PolicyNone},
		},
	}
}

// mustFraction is for basis-point constants in this file.
func mustFraction(bps int64) core.Fraction {
	f, err := core.NewFraction(bps)
	if err != nil {
		panic(err)
	}
	return f
}

type conditionSpec func(loc *time.Location) (core.Condition, error)

func sequence(n int) conditionSpec {
	return func(*time.Location) (core.Condition, error) {
		return core.NewSequenceCondition(n)
	}
}

func period(day time.Weekday, startHour, endHour int) conditionSpec {
	return func(loc *time.Location) (core.Condition, error) {
		start := core.TimeOfDay(time.Duration(startHour) * time.Hour)
		end := core.TimeOfDay(time.Duration(endHour) * time.Hour)
		return core.NewPeriodCondition(day, start, end, loc)
	}
}

func (l *Lineup) conditions(specs ...conditionSpec) ([]core.Condition, error) {
	conditions := make([]core.Condition, 0, len(specs))
	for _, spec := range specs {
		condition, err := spec(l.location)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, condition)
	}
	return conditions, nil
}
