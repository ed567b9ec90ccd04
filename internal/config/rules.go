package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"clinicslots/internal/availability"
)

// PractitionerConfig describes one practitioner in rules.yaml.
type PractitionerConfig struct {
	ID                  string `yaml:"id"`
	Name                string `yaml:"name"`
	Specialty           string `yaml:"specialty"`
	SlotDurationMinutes int    `yaml:"slot_duration_minutes"` // 0 = clinic default
	IsActive            *bool  `yaml:"is_active,omitempty"`
}

func (p PractitionerConfig) Active() bool {
	return p.IsActive == nil || *p.IsActive
}

// RuleConfig is a rule as written in rules.yaml.
type RuleConfig struct {
	ID             string               `yaml:"id"`
	PractitionerID string               `yaml:"practitioner_id"`
	Weekday        availability.Weekday `yaml:"weekday"`
	Start          string               `yaml:"start"` // "09:00"
	End            string               `yaml:"end"`   // "17:00"
	Repeat         availability.Repeat  `yaml:"repeat"`
	Anchor         string               `yaml:"anchor,omitempty"` // "2026-10-05"
}

// RulesConfig is the root of rules.yaml.
type RulesConfig struct {
	Practitioners []PractitionerConfig `yaml:"practitioners"`
	Rules         []RuleConfig         `yaml:"rules"`

	// Parsed holds the validated rules, filled by LoadRules.
	Parsed []availability.AvailabilityRule `yaml:"-"`
}

// LoadRules loads and validates rules configuration from a YAML file.
func LoadRules(path string) (*RulesConfig, error) {
	if path == "" {
		path = "configs/rules.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules config: %w", err)
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rules config: %w", err)
	}

	return &cfg, nil
}

// Validate checks practitioners and rules and fills Parsed. Rules without an
// id get a generated one.
func (c *RulesConfig) Validate() error {
	practitioners := make(map[string]bool, len(c.Practitioners))
	for i, p := range c.Practitioners {
		if p.ID == "" {
			return fmt.Errorf("practitioner %d: id is required", i)
		}
		if practitioners[p.ID] {
			return fmt.Errorf("practitioner %s: duplicate id", p.ID)
		}
		if p.SlotDurationMinutes < 0 {
			return fmt.Errorf("practitioner %s: negative slot duration", p.ID)
		}
		practitioners[p.ID] = true
	}

	ids := make(map[string]bool, len(c.Rules))
	parsed := make([]availability.AvailabilityRule, 0, len(c.Rules))

	for i := range c.Rules {
		rc := &c.Rules[i]
		if rc.ID == "" {
			rc.ID = uuid.NewString()
		}
		if ids[rc.ID] {
			return fmt.Errorf("rule %s: duplicate id", rc.ID)
		}
		ids[rc.ID] = true

		if !practitioners[rc.PractitionerID] {
			return fmt.Errorf("rule %s: unknown practitioner %q", rc.ID, rc.PractitionerID)
		}

		rule, err := rc.toRule()
		if err != nil {
			return err
		}
		if err := rule.Validate(); err != nil {
			return err
		}
		parsed = append(parsed, rule)
	}

	if pairs := availability.Overlapping(parsed); len(pairs) > 0 {
		a, b := pairs[0][0], pairs[0][1]
		return fmt.Errorf("rules %s and %s overlap on %s", a.ID, b.ID, a.Weekday)
	}

	c.Parsed = parsed
	return nil
}

func (rc RuleConfig) toRule() (availability.AvailabilityRule, error) {
	start, err := availability.ParseClock(rc.Start)
	if err != nil {
		return availability.AvailabilityRule{}, &availability.InvalidRuleError{RuleID: rc.ID, Reason: "start: " + err.Error()}
	}
	end, err := availability.ParseClock(rc.End)
	if err != nil {
		return availability.AvailabilityRule{}, &availability.InvalidRuleError{RuleID: rc.ID, Reason: "end: " + err.Error()}
	}

	repeat := rc.Repeat
	if repeat == "" {
		repeat = availability.RepeatWeekly
	}

	rule := availability.AvailabilityRule{
		ID:             rc.ID,
		PractitionerID: rc.PractitionerID,
		Weekday:        rc.Weekday,
		Start:          start,
		End:            end,
		Repeat:         repeat,
	}

	if rc.Anchor != "" {
		anchor, err := time.Parse("2006-01-02", rc.Anchor)
		if err != nil {
			return availability.AvailabilityRule{}, &availability.InvalidRuleError{RuleID: rc.ID, Reason: "anchor: " + err.Error()}
		}
		if availability.Of(anchor) != rc.Weekday {
			return availability.AvailabilityRule{}, &availability.InvalidRuleError{
				RuleID: rc.ID,
				Reason: fmt.Sprintf("anchor %s is a %s, rule weekday is %s", rc.Anchor, availability.Of(anchor), rc.Weekday),
			}
		}
		rule.Anchor = anchor
	}

	return rule, nil
}

// Practitioner returns the practitioner config by id.
func (c *RulesConfig) Practitioner(id string) (PractitionerConfig, bool) {
	for _, p := range c.Practitioners {
		if p.ID == id {
			return p, true
		}
	}
	return PractitionerConfig{}, false
}
