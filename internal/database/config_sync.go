package database

import (
	"context"
	"fmt"
	"time"

	"clinicslots/internal/config"
)

// SyncRulesFromConfig applies rules.yaml to the database in one transaction.
// Practitioners are upserted and those missing from the file are marked
// inactive; the rule table is replaced with the file's rules.
func (db *DB) SyncRulesFromConfig(ctx context.Context, cfg *config.RulesConfig) error {
	if cfg == nil {
		return fmt.Errorf("rules config is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now()
	for _, p := range cfg.Practitioners {
		err := upsertPractitioner(ctx, tx, Practitioner{
			ID:           p.ID,
			Name:         p.Name,
			Specialty:    p.Specialty,
			SlotDuration: p.SlotDurationMinutes,
			IsActive:     p.Active(),
		}, now)
		if err != nil {
			return err
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM practitioners`)
	if err != nil {
		return fmt.Errorf("list practitioners: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := cfg.Practitioner(id); !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx,
			`UPDATE practitioners SET is_active = 0, updated_at = ? WHERE id = ?`, formatTime(now), id); err != nil {
			return fmt.Errorf("deactivate practitioner %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM availability_rules`); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}
	for _, rule := range cfg.Parsed {
		if err := upsertRule(ctx, tx, rule, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync: %w", err)
	}
	return nil
}
