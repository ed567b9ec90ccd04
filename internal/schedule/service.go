// Package schedule serves day schedules for practitioners, combining stored
// rules and bookings with the slot engine and the schedule cache.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinicslots/internal/availability"
	"clinicslots/internal/cache"
	"clinicslots/internal/database"
	"clinicslots/internal/events"
	"clinicslots/internal/metrics"
)

const DateLayout = "2006-01-02"

// Store is the persistence the service reads from. *database.DB implements it.
type Store interface {
	RulesForPractitioner(ctx context.Context, practitionerID string) ([]availability.AvailabilityRule, error)
	BookedStarts(ctx context.Context, practitionerID string, date time.Time) (availability.BookedSet, error)
	GetPractitioner(ctx context.Context, id string) (database.Practitioner, error)
	ListPractitioners(ctx context.Context, activeOnly bool) ([]database.Practitioner, error)
}

type Options struct {
	SlotDuration int // minutes; availability.DefaultSlotDuration when 0
	Location     *time.Location
	RangeWorkers int
}

type Service struct {
	store   Store
	cache   cache.SlotCache
	metrics *metrics.Metrics
	logger  zerolog.Logger
	opts    Options

	mu       sync.Mutex
	versions map[string]uint64
}

func NewService(store Store, slotCache cache.SlotCache, m *metrics.Metrics, logger *zerolog.Logger, opts Options) *Service {
	if slotCache == nil {
		slotCache = cache.Nop{}
	}
	if opts.SlotDuration <= 0 {
		opts.SlotDuration = availability.DefaultSlotDuration
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RangeWorkers <= 0 {
		opts.RangeWorkers = 4
	}
	return &Service{
		store:    store,
		cache:    slotCache,
		metrics:  m,
		logger:   logger.With().Str("component", "schedule").Logger(),
		opts:     opts,
		versions: make(map[string]uint64),
	}
}

// Location is the clinic timezone that calendar dates are interpreted in.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// Day returns the calendar day of t in the clinic timezone, at midnight.
func (s *Service) Day(t time.Time) time.Time {
	y, m, d := t.In(s.opts.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.opts.Location)
}

// ParseDate parses YYYY-MM-DD in the clinic timezone.
func (s *Service) ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, s.opts.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return t, nil
}

// DaySchedule returns the merged slots of a practitioner on date's calendar
// day. Cached results are served when present.
func (s *Service) DaySchedule(ctx context.Context, practitionerID string, date time.Time) (availability.DaySchedule, error) {
	day := s.Day(date)
	key := day.Format(DateLayout)

	if cached, ok := s.cache.Get(ctx, practitionerID, key); ok {
		s.logger.Debug().Str("practitioner", practitionerID).Str("date", key).Msg("schedule cache hit")
		s.metrics.IncScheduleRequest("cache")
		return cached, nil
	}

	version := s.version(practitionerID)
	started := time.Now()

	schedule, err := s.compute(ctx, practitionerID, day)
	if err != nil {
		return availability.DaySchedule{}, err
	}

	s.metrics.IncScheduleRequest("computed")
	s.metrics.ObserveCompute(time.Since(started), len(schedule.Slots))
	s.metrics.SetUtilization(practitionerID, schedule.Stats.UtilizationRate)

	// Skip the write when an invalidation raced the computation, and undo it
	// when one landed while the write was in flight.
	if s.version(practitionerID) == version {
		s.cache.Set(ctx, schedule)
		if s.version(practitionerID) != version {
			s.cache.Invalidate(ctx, practitionerID, key)
		}
	}

	return schedule, nil
}

func (s *Service) compute(ctx context.Context, practitionerID string, day time.Time) (availability.DaySchedule, error) {
	schedule := availability.DaySchedule{
		PractitionerID: practitionerID,
		Date:           day.Format(DateLayout),
		Slots:          []availability.AvailabilitySlot{},
	}

	rules, err := s.store.RulesForPractitioner(ctx, practitionerID)
	if err != nil {
		return availability.DaySchedule{}, fmt.Errorf("load rules for %s: %w", practitionerID, err)
	}

	active := availability.ResolveActiveRules(day, practitionerID, rules)
	valid := active[:0]
	for _, rule := range active {
		if err := rule.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("practitioner", practitionerID).Msg("skip invalid rule")
			s.metrics.IncInvalidRule()
			continue
		}
		valid = append(valid, rule)
	}
	if len(valid) == 0 {
		return schedule, nil
	}

	booked, err := s.store.BookedStarts(ctx, practitionerID, day)
	if err != nil {
		return availability.DaySchedule{}, fmt.Errorf("load bookings for %s: %w", practitionerID, err)
	}

	duration, err := s.slotDuration(ctx, practitionerID)
	if err != nil {
		return availability.DaySchedule{}, err
	}

	lists := make([][]availability.AvailabilitySlot, 0, len(valid))
	for _, rule := range valid {
		lists = append(lists, availability.GenerateSlots(rule, day, duration, booked))
	}
	schedule.Slots, schedule.Stats = availability.MergeAndStat(lists...)

	return schedule, nil
}

func (s *Service) slotDuration(ctx context.Context, practitionerID string) (int, error) {
	p, err := s.store.GetPractitioner(ctx, practitionerID)
	if errors.Is(err, database.ErrPractitionerNotFound) {
		return s.opts.SlotDuration, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load practitioner %s: %w", practitionerID, err)
	}
	if p.SlotDuration > 0 {
		return p.SlotDuration, nil
	}
	return s.opts.SlotDuration, nil
}

// RangeSchedule returns days consecutive day schedules starting at from,
// ordered by day. Days are computed concurrently.
func (s *Service) RangeSchedule(ctx context.Context, practitionerID string, from time.Time, days int) ([]availability.DaySchedule, error) {
	if days <= 0 {
		return []availability.DaySchedule{}, nil
	}

	start := s.Day(from)
	result := make([]availability.DaySchedule, days)
	errs := make([]error, days)

	sem := make(chan struct{}, s.opts.RangeWorkers)
	var wg sync.WaitGroup

	for i := 0; i < days; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			result[i], errs[i] = s.DaySchedule(ctx, practitionerID, start.AddDate(0, 0, i))
		}(i)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return result, nil
}

// Invalidate drops the cached schedule of one practitioner day.
func (s *Service) Invalidate(ctx context.Context, practitionerID string, date time.Time) {
	s.bump(practitionerID)
	s.cache.Invalidate(ctx, practitionerID, s.Day(date).Format(DateLayout))
}

// InvalidatePractitioner drops every cached day of a practitioner.
func (s *Service) InvalidatePractitioner(ctx context.Context, practitionerID string) {
	s.bump(practitionerID)
	s.cache.InvalidatePractitioner(ctx, practitionerID)
}

// InvalidateAll drops the whole schedule cache.
func (s *Service) InvalidateAll(ctx context.Context) {
	s.bump("")
	s.cache.Purge(ctx)
}

// Subscribe invalidates cached days on booking and rule change events.
func (s *Service) Subscribe(bus *events.EventBus) {
	onBooking := func(e events.Event) error {
		date, err := s.ParseDate(e.Date)
		if err != nil {
			return err
		}
		s.Invalidate(context.Background(), e.PractitionerID, date)
		s.metrics.IncCacheInvalidation("booking")
		return nil
	}
	bus.Subscribe(events.BookingCreated, onBooking)
	bus.Subscribe(events.BookingCancelled, onBooking)

	bus.Subscribe(events.RulesReloaded, func(e events.Event) error {
		if e.PractitionerID != "" {
			s.InvalidatePractitioner(context.Background(), e.PractitionerID)
		} else {
			s.InvalidateAll(context.Background())
		}
		s.metrics.IncCacheInvalidation("rules")
		return nil
	})
}

// ActivePractitioners lists practitioners that accept appointments.
func (s *Service) ActivePractitioners(ctx context.Context) ([]database.Practitioner, error) {
	return s.store.ListPractitioners(ctx, true)
}

func (s *Service) version(practitionerID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[practitionerID] + s.versions[""]
}

func (s *Service) bump(practitionerID string) {
	s.mu.Lock()
	s.versions[practitionerID]++
	s.mu.Unlock()
}
