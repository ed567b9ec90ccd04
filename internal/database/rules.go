package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinicslots/internal/availability"
)

// Practitioner is a row of the practitioners table.
type Practitioner struct {
	ID           string
	Name         string
	Specialty    string
	SlotDuration int // minutes, 0 = clinic default
	IsActive     bool
}

const ruleColumns = `id, practitioner_id, weekday, start_time, end_time, repeat, anchor`

// ListPractitioners returns practitioners ordered by id.
func (db *DB) ListPractitioners(ctx context.Context, activeOnly bool) ([]Practitioner, error) {
	query := `SELECT id, name, specialty, slot_duration, is_active FROM practitioners`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list practitioners: %w", err)
	}
	defer rows.Close()

	var result []Practitioner
	for rows.Next() {
		var p Practitioner
		if err := rows.Scan(&p.ID, &p.Name, &p.Specialty, &p.SlotDuration, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan practitioner: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// GetPractitioner loads one practitioner.
func (db *DB) GetPractitioner(ctx context.Context, id string) (Practitioner, error) {
	var p Practitioner
	err := db.QueryRowContext(ctx,
		`SELECT id, name, specialty, slot_duration, is_active FROM practitioners WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Specialty, &p.SlotDuration, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return Practitioner{}, ErrPractitionerNotFound
	}
	if err != nil {
		return Practitioner{}, fmt.Errorf("get practitioner %s: %w", id, err)
	}
	return p, nil
}

// UpsertPractitioner inserts or updates a practitioner.
func (db *DB) UpsertPractitioner(ctx context.Context, p Practitioner) error {
	return upsertPractitioner(ctx, db.DB, p, time.Now())
}

// RulesForPractitioner returns the stored rules of a practitioner ordered by
// weekday, start and id, which is also the order slots tie-break in.
func (db *DB) RulesForPractitioner(ctx context.Context, practitionerID string) ([]availability.AvailabilityRule, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM availability_rules
		WHERE practitioner_id = ?
		ORDER BY weekday, start_time, id`, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// AllRules returns every stored rule.
func (db *DB) AllRules(ctx context.Context) ([]availability.AvailabilityRule, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM availability_rules ORDER BY practitioner_id, weekday, start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// GetRule loads a rule by id.
func (db *DB) GetRule(ctx context.Context, id string) (availability.AvailabilityRule, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM availability_rules WHERE id = ?`, id)
	if err != nil {
		return availability.AvailabilityRule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	defer rows.Close()

	rules, err := scanRules(rows)
	if err != nil {
		return availability.AvailabilityRule{}, err
	}
	if len(rules) == 0 {
		return availability.AvailabilityRule{}, ErrRuleNotFound
	}
	return rules[0], nil
}

// UpsertRule validates and stores a rule. The practitioner must exist and the
// window must not overlap another rule of the practitioner on the same weekday.
// The OnRulesChanged hook runs after a successful write.
func (db *DB) UpsertRule(ctx context.Context, rule availability.AvailabilityRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == "" {
		return &availability.InvalidRuleError{Reason: "id is required"}
	}

	existing, err := db.RulesForPractitioner(ctx, rule.PractitionerID)
	if err != nil {
		return err
	}
	candidates := []availability.AvailabilityRule{rule}
	for _, r := range existing {
		if r.ID != rule.ID {
			candidates = append(candidates, r)
		}
	}
	if pairs := availability.Overlapping(candidates); len(pairs) > 0 {
		return fmt.Errorf("rule %s overlaps %s: %w", rule.ID, pairs[0][1].ID, ErrRuleOverlap)
	}

	if err := upsertRule(ctx, db.DB, rule, time.Now()); err != nil {
		return err
	}
	db.rulesChanged(rule.PractitionerID)
	return nil
}

// DeleteRule removes a rule.
func (db *DB) DeleteRule(ctx context.Context, id string) error {
	rule, err := db.GetRule(ctx, id)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM availability_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	db.rulesChanged(rule.PractitionerID)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertPractitioner(ctx context.Context, ex execer, p Practitioner, now time.Time) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO practitioners (id, name, specialty, slot_duration, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			specialty = excluded.specialty,
			slot_duration = excluded.slot_duration,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Specialty, p.SlotDuration, boolToInt(p.IsActive), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upsert practitioner %s: %w", p.ID, err)
	}
	return nil
}

func upsertRule(ctx context.Context, ex execer, rule availability.AvailabilityRule, now time.Time) error {
	var anchor sql.NullString
	if !rule.Anchor.IsZero() {
		anchor = sql.NullString{String: rule.Anchor.Format("2006-01-02"), Valid: true}
	}
	repeat := rule.Repeat
	if repeat == "" {
		repeat = availability.RepeatWeekly
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO availability_rules (id, practitioner_id, weekday, start_time, end_time, repeat, anchor, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			practitioner_id = excluded.practitioner_id,
			weekday = excluded.weekday,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			repeat = excluded.repeat,
			anchor = excluded.anchor,
			updated_at = excluded.updated_at`,
		rule.ID, rule.PractitionerID, int(rule.Weekday), rule.Start, rule.End, string(repeat), anchor,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
	}
	return nil
}

func scanRules(rows *sql.Rows) ([]availability.AvailabilityRule, error) {
	rules := make([]availability.AvailabilityRule, 0)
	for rows.Next() {
		var (
			r      availability.AvailabilityRule
			repeat string
			anchor sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.PractitionerID, &r.Weekday, &r.Start, &r.End, &repeat, &anchor); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Repeat = availability.Repeat(repeat)
		if anchor.Valid && anchor.String != "" {
			t, err := time.Parse("2006-01-02", anchor.String)
			if err != nil {
				return nil, fmt.Errorf("parse anchor of rule %s: %w", r.ID, err)
			}
			r.Anchor = t
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
