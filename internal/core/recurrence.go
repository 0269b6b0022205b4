// Package core provides the recurrence rules and domain records.
//
// This file implements the three recurrence patterns as a closed set of types
// behind the Rule interface. Every computed occurrence keeps the wall clock
// (hour, minute, second, nanosecond) and location of the reference time.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// RuleKind identifies a recurrence pattern in persisted form.
type RuleKind string

const (
	KindMonthly    RuleKind = "monthly"
	KindWeeklyOn   RuleKind = "weeklyOn"
	KindEveryNDays RuleKind = "everyNDays"
)

var ErrUnknownRuleKind = errors.New("unknown recurrence kind")

// Rule is implemented only by Monthly, WeeklyOn and EveryNDays.
type Rule interface {
	// FirstOnOrAfter returns the earliest occurrence at or after start.
	FirstOnOrAfter(start time.Time) time.Time
	// NextAfter returns the earliest occurrence strictly after t.
	NextAfter(t time.Time) time.Time
	Kind() RuleKind
	isRule()
}

// Monthly fires once a month on Day.
type Monthly struct {
	Day      int
	Overflow OverflowPolicy
}

// WeeklyOn fires on each listed weekday.
type WeeklyOn struct {
	Days []Weekday
}

// EveryNDays fires every Interval days, phase-locked to 1970-01-01 rather than
// to any record's start date.
type EveryNDays struct {
	Interval int
}

// NewMonthly clamps day into 1..31.
func NewMonthly(day int, overflow OverflowPolicy) Monthly {
	return Monthly{Day: clamp(day, 1, 31), Overflow: normalizeOverflow(overflow)}
}

// NewWeeklyOn deduplicates and sorts days; an empty set becomes Monday.
func NewWeeklyOn(days ...Weekday) WeeklyOn {
	return WeeklyOn{Days: normalizeWeekdays(days)}
}

// NewEveryNDays clamps interval to at least 1.
func NewEveryNDays(interval int) EveryNDays {
	return EveryNDays{Interval: max(1, interval)}
}

func (Monthly) Kind() RuleKind    { return KindMonthly }
func (WeeklyOn) Kind() RuleKind   { return KindWeeklyOn }
func (EveryNDays) Kind() RuleKind { return KindEveryNDays }

func (Monthly) isRule()    {}
func (WeeklyOn) isRule()   {}
func (EveryNDays) isRule() {}

func (r Monthly) FirstOnOrAfter(start time.Time) time.Time { return r.occurrence(start, true) }
func (r Monthly) NextAfter(t time.Time) time.Time          { return r.occurrence(t, false) }

func (r Monthly) occurrence(ref time.Time, inclusive bool) time.Time {
	n := NewMonthly(r.Day, r.Overflow)
	year, month, _ := ref.Date()

	candidate := ResolveMonthDay(year, month, n.Day, n.Overflow, ref)
	if candidate.After(ref) || (inclusive && candidate.Equal(ref)) {
		return candidate
	}

	year, month = nextMonth(year, month)
	return ResolveMonthDay(year, month, n.Day, n.Overflow, ref)
}

func (r WeeklyOn) FirstOnOrAfter(start time.Time) time.Time { return r.occurrence(start, true) }
func (r WeeklyOn) NextAfter(t time.Time) time.Time          { return r.occurrence(t, false) }

func (r WeeklyOn) occurrence(ref time.Time, inclusive bool) time.Time {
	days := normalizeWeekdays(r.Days)
	current := int(WeekdayOf(ref))

	best := -1
	for _, w := range days {
		delta := (int(w) - current + 7) % 7
		if !inclusive && delta == 0 {
			delta = 7
		}
		if best < 0 || delta < best {
			best = delta
		}
	}

	if inclusive && best == 0 {
		if today := AddDaysKeepClock(ref, 0); !today.Before(ref) {
			return today
		}
		// Today's slot already passed: take the next listed weekday.
		best = -1
		for _, w := range days {
			if int(w) > current {
				best = int(w) - current
				break
			}
		}
		if best < 0 {
			best = (int(days[0]) - current + 7) % 7
			if best == 0 {
				best = 7
			}
		}
	}

	return AddDaysKeepClock(ref, best)
}

func (r EveryNDays) FirstOnOrAfter(start time.Time) time.Time { return r.occurrence(start, true) }
func (r EveryNDays) NextAfter(t time.Time) time.Time          { return r.occurrence(t, false) }

func (r EveryNDays) occurrence(ref time.Time, inclusive bool) time.Time {
	interval := int64(max(1, r.Interval))
	remainder := ((EpochDay(ref) % interval) + interval) % interval

	if inclusive && remainder == 0 {
		if today := AddDaysKeepClock(ref, 0); !today.Before(ref) {
			return today
		}
	}

	delta := (interval - remainder) % interval
	if delta == 0 {
		delta = interval
	}
	return AddDaysKeepClock(ref, int(delta))
}

// ruleDocument is the tagged persisted form of a Rule.
type ruleDocument struct {
	Kind     RuleKind       `json:"kind"`
	Day      int            `json:"day,omitempty"`
	Overflow OverflowPolicy `json:"overflow,omitempty"`
	Days     []Weekday      `json:"days,omitempty"`
	Interval int            `json:"interval,omitempty"`
}

// MarshalRule encodes r as a tagged JSON object.
func MarshalRule(r Rule) ([]byte, error) {
	var doc ruleDocument
	switch v := r.(type) {
	case Monthly:
		n := NewMonthly(v.Day, v.Overflow)
		doc = ruleDocument{Kind: KindMonthly, Day: n.Day, Overflow: n.Overflow}
	case WeeklyOn:
		doc = ruleDocument{Kind: KindWeeklyOn, Days: normalizeWeekdays(v.Days)}
	case EveryNDays:
		doc = ruleDocument{Kind: KindEveryNDays, Interval: max(1, v.Interval)}
	case nil:
		return nil, ErrNoRecurrence
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRuleKind, r)
	}
	return json.Marshal(doc)
}

// UnmarshalRule decodes the output of MarshalRule, normalising parameters.
func UnmarshalRule(data []byte) (Rule, error) {
	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode recurrence: %w", err)
	}
	switch doc.Kind {
	case KindMonthly:
		return NewMonthly(doc.Day, doc.Overflow), nil
	case KindWeeklyOn:
		return NewWeeklyOn(doc.Days...), nil
	case KindEveryNDays:
		return NewEveryNDays(doc.Interval), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleKind, doc.Kind)
	}
}

func normalizeWeekdays(days []Weekday) []Weekday {
	seen := make(map[Weekday]struct{}, len(days))
	out := make([]Weekday, 0, len(days))
	for _, d := range days {
		if !d.Valid() {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	if len(out) == 0 {
		return []Weekday{Monday}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalizeOverflow(o OverflowPolicy) OverflowPolicy {
	if o == FirstDayOfNextMonth {
		return o
	}
	return LastDayOfMonth
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
