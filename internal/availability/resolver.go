package availability

import "time"

// ResolveActiveRules returns the rules that produce slots on date.
//
// Rules must match the date's weekday and, when practitionerID is non-empty,
// belong to that practitioner. Rules without an anchor recur every week
// whatever their repeat value; anchored rules follow their cadence and are
// inactive before the anchor day. Input order is kept.
func ResolveActiveRules(date time.Time, practitionerID string, rules []AvailabilityRule) []AvailabilityRule {
	active := make([]AvailabilityRule, 0, len(rules))
	weekday := Of(date)

	for _, rule := range rules {
		if practitionerID != "" && rule.PractitionerID != practitionerID {
			continue
		}
		if rule.Weekday != weekday {
			continue
		}
		if !recursOn(rule, date) {
			continue
		}
		active = append(active, rule)
	}

	return active
}

func recursOn(rule AvailabilityRule, date time.Time) bool {
	if rule.Anchor.IsZero() {
		return true
	}

	day := dateOnly(date)
	// The anchor is a calendar date, not an instant.
	y, m, d := rule.Anchor.Date()
	anchor := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	if day.Before(anchor) {
		return false
	}

	switch rule.Repeat {
	case RepeatNone:
		return day.Equal(anchor)
	case RepeatBiweekly:
		return (daysBetween(anchor, day)/7)%2 == 0
	case RepeatMonthly:
		return weekOfMonth(day) == weekOfMonth(anchor)
	default:
		return true
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days, ignoring DST shifts.
func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// weekOfMonth is the 1-based ordinal of t's weekday within its month,
// e.g. 2 for the second Tuesday.
func weekOfMonth(t time.Time) int {
	return (t.Day()-1)/7 + 1
}
