package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicslots/internal/availability"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_DB_DIR", dir)
	t.Setenv("REDIS_ADDRESS", "redis:6379")

	path := writeFile(t, dir, "config.yaml", `
timezone: Europe/Moscow
database:
  path: ${TEST_DB_DIR}/db/slots.db
redis:
  address: localhost:6379
schedule:
  slot_duration_minutes: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "db", "slots.db"), cfg.Database.Path)
	assert.DirExists(t, filepath.Join(dir, "db"))
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, 20, cfg.Schedule.SlotDurationMinutes)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL())
	assert.Equal(t, "*.*.booking.*", cfg.AMQP.RoutingKey)
	assert.Equal(t, "0 20 * * *", cfg.Report.Cron)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "database: [")
	_, err = Load(bad)
	assert.Error(t, err)

	tz := writeFile(t, dir, "tz.yaml", "timezone: Mars/Olympus\ndatabase:\n  path: "+filepath.Join(dir, "x.db")+"\n")
	_, err = Load(tz)
	assert.Error(t, err)
}

const rulesYAML = `
practitioners:
  - id: doc-1
    name: Dr. Petrova
    specialty: therapist
  - id: doc-2
    name: Dr. Sidorov
    slot_duration_minutes: 20
    is_active: false
rules:
  - id: doc-1-mon-am
    practitioner_id: doc-1
    weekday: 1
    start: "08:00"
    end: "12:00"
  - practitioner_id: doc-1
    weekday: 1
    start: "14:00"
    end: "18:00"
    repeat: biweekly
    anchor: "2026-10-05"
  - id: doc-2-tue
    practitioner_id: doc-2
    weekday: 2
    start: "09:00"
    end: "13:00"
    repeat: monthly
    anchor: "2026-10-13"
`

func TestLoadRules(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", rulesYAML)

	cfg, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, cfg.Parsed, 3)

	am := cfg.Parsed[0]
	assert.Equal(t, "doc-1-mon-am", am.ID)
	assert.Equal(t, availability.RepeatWeekly, am.Repeat)
	assert.Equal(t, availability.MustClock("08:00"), am.Start)
	assert.True(t, am.Anchor.IsZero())

	pm := cfg.Parsed[1]
	assert.NotEmpty(t, pm.ID)
	assert.Equal(t, pm.ID, cfg.Rules[1].ID)
	assert.Equal(t, time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC), pm.Anchor)

	doc2, ok := cfg.Practitioner("doc-2")
	require.True(t, ok)
	assert.False(t, doc2.Active())
	assert.Equal(t, 20, doc2.SlotDurationMinutes)

	doc1, _ := cfg.Practitioner("doc-1")
	assert.True(t, doc1.Active())
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"start after end", `
practitioners: [{id: d}]
rules: [{practitioner_id: d, weekday: 1, start: "12:00", end: "09:00"}]`},
		{"bad clock", `
practitioners: [{id: d}]
rules: [{practitioner_id: d, weekday: 1, start: "9am", end: "12:00"}]`},
		{"weekday out of range", `
practitioners: [{id: d}]
rules: [{practitioner_id: d, weekday: 9, start: "09:00", end: "12:00"}]`},
		{"unknown practitioner", `
practitioners: [{id: d}]
rules: [{practitioner_id: x, weekday: 1, start: "09:00", end: "12:00"}]`},
		{"unknown repeat", `
practitioners: [{id: d}]
rules: [{practitioner_id: d, weekday: 1, start: "09:00", end: "12:00", repeat: daily}]`},
		{"anchor on wrong weekday", `
practitioners: [{id: d}]
rules: [{practitioner_id: d, weekday: 1, start: "09:00", end: "12:00", anchor: "2026-10-13"}]`},
		{"overlapping windows", `
practitioners: [{id: d}]
rules:
  - {practitioner_id: d, weekday: 1, start: "09:00", end: "12:00"}
  - {practitioner_id: d, weekday: 1, start: "11:30", end: "13:00"}`},
		{"duplicate practitioner", `
practitioners: [{id: d}, {id: d}]`},
		{"duplicate rule id", `
practitioners: [{id: d}]
rules:
  - {id: r, practitioner_id: d, weekday: 1, start: "09:00", end: "10:00"}
  - {id: r, practitioner_id: d, weekday: 2, start: "09:00", end: "10:00"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "rules.yaml", tt.yaml)
			_, err := LoadRules(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadRules_AdjacentWindowsAllowed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", `
practitioners: [{id: d}]
rules:
  - {practitioner_id: d, weekday: 1, start: "09:00", end: "12:00"}
  - {practitioner_id: d, weekday: 1, start: "12:00", end: "15:00"}
`)
	cfg, err := LoadRules(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Parsed, 2)
}

func TestWatchRules(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", rulesYAML)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	var lastCount atomic.Int32
	err := WatchRules(ctx, path, 10*time.Millisecond, &logger, func(cfg *RulesConfig) {
		calls.Add(1)
		lastCount.Store(int32(len(cfg.Parsed)))
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// A broken edit keeps the previous rules.
	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, os.WriteFile(path, []byte(`
practitioners: [{id: d}]
rules: [{practitioner_id: d, weekday: 3, start: "09:00", end: "10:00"}]
`), 0o644))
	future = future.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), lastCount.Load())
}
