// Package cache stores computed day schedules keyed by practitioner and date.
package cache

import (
	"context"
	"fmt"

	"clinicslots/internal/availability"
)

// SlotCache is a best-effort store of day schedules. Misses and backend
// failures both report ok=false; callers recompute.
type SlotCache interface {
	Get(ctx context.Context, practitionerID, date string) (availability.DaySchedule, bool)
	Set(ctx context.Context, schedule availability.DaySchedule)
	Invalidate(ctx context.Context, practitionerID, date string)
	InvalidatePractitioner(ctx context.Context, practitionerID string)
	Purge(ctx context.Context)
}

// Key is the cache key of a practitioner's day, date in YYYY-MM-DD.
func Key(practitionerID, date string) string {
	return fmt.Sprintf("slots:%s:%s", practitionerID, date)
}

func practitionerPrefix(practitionerID string) string {
	return fmt.Sprintf("slots:%s:", practitionerID)
}

// Chain reads through caches in order and writes to all of them. A hit in a
// later cache is copied into the earlier ones.
type Chain []SlotCache

func (c Chain) Get(ctx context.Context, practitionerID, date string) (availability.DaySchedule, bool) {
	for i, layer := range c {
		schedule, ok := layer.Get(ctx, practitionerID, date)
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			c[j].Set(ctx, schedule)
		}
		return schedule, true
	}
	return availability.DaySchedule{}, false
}

func (c Chain) Set(ctx context.Context, schedule availability.DaySchedule) {
	for _, layer := range c {
		layer.Set(ctx, schedule)
	}
}

func (c Chain) Invalidate(ctx context.Context, practitionerID, date string) {
	for _, layer := range c {
		layer.Invalidate(ctx, practitionerID, date)
	}
}

func (c Chain) InvalidatePractitioner(ctx context.Context, practitionerID string) {
	for _, layer := range c {
		layer.InvalidatePractitioner(ctx, practitionerID)
	}
}

func (c Chain) Purge(ctx context.Context) {
	for _, layer := range c {
		layer.Purge(ctx)
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string, string) (availability.DaySchedule, bool) {
	return availability.DaySchedule{}, false
}
func (Nop) Set(context.Context, availability.DaySchedule) {}
func (Nop) Invalidate(context.Context, string, string) {}
func (Nop) InvalidatePractitioner(context.Context, string) {}
func (Nop) Purge(context.Context) {}
