// Package availability turns recurring weekly availability rules into
// bookable appointment slots for a calendar date.
package availability

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSlotDuration is used when a caller passes a non-positive duration.
const DefaultSlotDuration = 30

// Weekday is a day of week, 0 = Sunday ... 6 = Saturday.
type Weekday int

// Of returns the weekday of t in t's location.
func Of(t time.Time) Weekday {
	return Weekday(t.Weekday())
}

func (w Weekday) Valid() bool {
	return w >= 0 && w <= 6
}

func (w Weekday) String() string {
	if !w.Valid() {
		return "Weekday(" + strconv.Itoa(int(w)) + ")"
	}
	return time.Weekday(w).String()
}

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

// ParseClock parses "HH:MM" (24h). A single-digit hour is accepted; minutes
// always take two digits.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || !digits(parts[0], 1, 2) || !digits(parts[1], 2, 2) {
		return 0, fmt.Errorf("invalid time format: %q", s)
	}

	hour, _ := strconv.Atoi(parts[0])
	minute, _ := strconv.Atoi(parts[1])
	if hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	if minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour == 24 && minute != 0 {
		return 0, fmt.Errorf("invalid time %q", s)
	}

	return Clock(hour*60 + minute), nil
}

func digits(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MustClock is ParseClock for literals; it panics on bad input.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// On anchors the clock to the calendar day of date, in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, date.Location())
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Clock) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

func (c *Clock) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseClock(node.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value stores the clock as "HH:MM" text.
func (c Clock) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *Clock) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("scan clock: unsupported type %T", src)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Repeat is the recurrence cadence of a rule.
type Repeat string

const (
	RepeatNone     Repeat = "none"
	RepeatWeekly   Repeat = "weekly"
	RepeatBiweekly Repeat = "biweekly"
	RepeatMonthly  Repeat = "monthly"
)

func (r Repeat) Valid() bool {
	switch r {
	case "", RepeatNone, RepeatWeekly, RepeatBiweekly, RepeatMonthly:
		return true
	}
	return false
}

// AvailabilityRule is a recurring weekly window during which a practitioner
// accepts appointments. Anchor is the optional first occurrence; cadence other
// than weekly can only be computed when it is set.
type AvailabilityRule struct {
	ID             string    `json:"id" yaml:"id"`
	PractitionerID string    `json:"practitioner_id" yaml:"practitioner_id"`
	Weekday        Weekday   `json:"weekday" yaml:"weekday"`
	Start          Clock     `json:"start" yaml:"start"`
	End            Clock     `json:"end" yaml:"end"`
	Repeat         Repeat    `json:"repeat" yaml:"repeat"`
	Anchor         time.Time `json:"anchor,omitempty" yaml:"-"`
}

// Validate checks the rule shape. It is meant to run where rules enter the
// system, so the generator only ever sees well-formed rules.
func (r AvailabilityRule) Validate() error {
	if !r.Weekday.Valid() {
		return &InvalidRuleError{RuleID: r.ID, Reason: fmt.Sprintf("weekday %d out of range 0-6", r.Weekday)}
	}
	if r.Start >= r.End {
		return &InvalidRuleError{RuleID: r.ID, Reason: fmt.Sprintf("start %s is not before end %s", r.Start, r.End)}
	}
	if !r.Repeat.Valid() {
		return &InvalidRuleError{RuleID: r.ID, Reason: fmt.Sprintf("unknown repeat %q", r.Repeat)}
	}
	return nil
}

// InvalidRuleError reports a rule that cannot produce slots.
type InvalidRuleError struct {
	RuleID string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	if e.RuleID == "" {
		return "invalid availability rule: " + e.Reason
	}
	return fmt.Sprintf("invalid availability rule %s: %s", e.RuleID, e.Reason)
}

// AvailabilitySlot is one candidate appointment window.
type AvailabilitySlot struct {
	RuleID    string    `json:"rule_id,omitempty"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Duration  int       `json:"duration"` // minutes
	Available bool      `json:"available"`
}

// ScheduleStats summarises a merged slot list.
type ScheduleStats struct {
	TotalSlots      int     `json:"total_slots"`
	AvailableSlots  int     `json:"available_slots"`
	BookedSlots     int     `json:"booked_slots"`
	UtilizationRate float64 `json:"utilization_rate"`
}

// DaySchedule is the merged output for one practitioner and date.
type DaySchedule struct {
	PractitionerID string             `json:"practitioner_id"`
	Date           string             `json:"date"` // YYYY-MM-DD
	Slots          []AvailabilitySlot `json:"slots"`
	Stats          ScheduleStats      `json:"stats"`
}

// BookedSet holds committed appointment start instants. Lookups compare
// instants, so the same moment in two locations matches.
type BookedSet map[int64]struct{}

func NewBookedSet(starts ...time.Time) BookedSet {
	set := make(BookedSet, len(starts))
	for _, s := range starts {
		set.Add(s)
	}
	return set
}

func (b BookedSet) Add(t time.Time) {
	b[t.UnixNano()] = struct{}{}
}

func (b BookedSet) Contains(t time.Time) bool {
	if b == nil {
		return false
	}
	_, ok := b[t.UnixNano()]
	return ok
}
