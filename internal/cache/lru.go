package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"clinicslots/internal/availability"
)

type lruEntry struct {
	schedule  availability.DaySchedule
	expiresAt time.Time
}

// LRUCache is an in-process cache bounded by entry count, with a TTL.
type LRUCache struct {
	cache *lru.Cache[string, *lruEntry]
	ttl   time.Duration
	now   func() time.Time
}

func NewLRUCache(size int, ttl time.Duration) (*LRUCache, error) {
	cache, err := lru.New[string, *lruEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCache{cache: cache, ttl: ttl, now: time.Now}, nil
}

func (c *LRUCache) Get(_ context.Context, practitionerID, date string) (availability.DaySchedule, bool) {
	key := Key(practitionerID, date)
	entry, ok := c.cache.Get(key)
	if !ok {
		return availability.DaySchedule{}, false
	}
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return availability.DaySchedule{}, false
	}
	return copySchedule(entry.schedule), true
}

func (c *LRUCache) Set(_ context.Context, schedule availability.DaySchedule) {
	c.cache.Add(Key(schedule.PractitionerID, schedule.Date), &lruEntry{
		schedule:  copySchedule(schedule),
		expiresAt: c.now().Add(c.ttl),
	})
}

func (c *LRUCache) Invalidate(_ context.Context, practitionerID, date string) {
	c.cache.Remove(Key(practitionerID, date))
}

func (c *LRUCache) InvalidatePractitioner(_ context.Context, practitionerID string) {
	prefix := practitionerPrefix(practitionerID)
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
}

func (c *LRUCache) Purge(context.Context) {
	c.cache.Purge()
}

func (c *LRUCache) Len() int {
	return c.cache.Len()
}

// copySchedule keeps callers from mutating cached slot slices.
func copySchedule(s availability.DaySchedule) availability.DaySchedule {
	s.Slots = append([]availability.AvailabilitySlot(nil), s.Slots...)
	if s.Slots == nil {
		s.Slots = []availability.AvailabilitySlot{}
	}
	return s
}
