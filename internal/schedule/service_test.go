package schedule

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clinicslots/internal/availability"
	"clinicslots/internal/cache"
	"clinicslots/internal/database"
	"clinicslots/internal/events"
	"clinicslots/internal/metrics"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) RulesForPractitioner(ctx context.Context, pid string) ([]availability.AvailabilityRule, error) {
	args := m.Called(ctx, pid)
	return args.Get(0).([]availability.AvailabilityRule), args.Error(1)
}

func (m *mockStore) BookedStarts(ctx context.Context, pid string, date time.Time) (availability.BookedSet, error) {
	args := m.Called(ctx, pid, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(availability.BookedSet), args.Error(1)
}

func (m *mockStore) GetPractitioner(ctx context.Context, id string) (database.Practitioner, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(database.Practitioner), args.Error(1)
}

func (m *mockStore) ListPractitioners(ctx context.Context, activeOnly bool) ([]database.Practitioner, error) {
	args := m.Called(ctx, activeOnly)
	return args.Get(0).([]database.Practitioner), args.Error(1)
}

var monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func clockRule(id string, weekday availability.Weekday, start, end string) availability.AvailabilityRule {
	return availability.AvailabilityRule{
		ID:             id,
		PractitionerID: "doc-1",
		Weekday:        weekday,
		Start:          availability.MustClock(start),
		End:            availability.MustClock(end),
		Repeat:         availability.RepeatWeekly,
	}
}

func newService(t *testing.T, store Store, c cache.SlotCache) *Service {
	t.Helper()
	logger := zerolog.New(io.Discard)
	return NewService(store, c, metrics.New(prometheus.NewRegistry()), &logger, Options{SlotDuration: 30, Location: time.UTC, RangeWorkers: 3})
}

func TestDaySchedule_FullDay(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule{clockRule("r1", 1, "09:00", "17:00")}, nil)
	store.On("BookedStarts", ctx, "doc-1", monday).Return(availability.NewBookedSet(
		monday.Add(9*time.Hour+30*time.Minute),
		monday.Add(14*time.Hour),
	), nil)
	store.On("GetPractitioner", ctx, "doc-1").Return(database.Practitioner{}, database.ErrPractitionerNotFound)

	svc := newService(t, store, nil)
	schedule, err := svc.DaySchedule(ctx, "doc-1", monday.Add(15*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "2026-10-19", schedule.Date)
	assert.Len(t, schedule.Slots, 16)
	assert.Equal(t, availability.ScheduleStats{TotalSlots: 16, AvailableSlots: 14, BookedSlots: 2, UtilizationRate: 12.5}, schedule.Stats)
	store.AssertExpectations(t)
}

func TestDaySchedule_NoRules(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule{clockRule("tue", 2, "09:00", "12:00")}, nil)

	svc := newService(t, store, nil)
	schedule, err := svc.DaySchedule(ctx, "doc-1", monday)
	require.NoError(t, err)

	assert.NotNil(t, schedule.Slots)
	assert.Empty(t, schedule.Slots)
	assert.Equal(t, availability.ScheduleStats{}, schedule.Stats)
	store.AssertNotCalled(t, "BookedStarts", mock.Anything, mock.Anything, mock.Anything)
}

func TestDaySchedule_SkipsInvalidRule(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule{
		clockRule("broken", 1, "12:00", "12:00"),
		clockRule("ok", 1, "08:00", "10:00"),
	}, nil)
	store.On("BookedStarts", ctx, "doc-1", monday).Return(availability.NewBookedSet(), nil)
	store.On("GetPractitioner", ctx, "doc-1").Return(database.Practitioner{ID: "doc-1", SlotDuration: 60}, nil)

	svc := newService(t, store, nil)
	schedule, err := svc.DaySchedule(ctx, "doc-1", monday)
	require.NoError(t, err)

	require.Len(t, schedule.Slots, 2)
	assert.Equal(t, "ok", schedule.Slots[0].RuleID)
	assert.Equal(t, 60, schedule.Slots[0].Duration)
}

func TestDaySchedule_StoreErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")

	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule(nil), boom)
	_, err := newService(t, store, nil).DaySchedule(ctx, "doc-1", monday)
	assert.ErrorIs(t, err, boom)

	store = new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule{clockRule("r", 1, "09:00", "10:00")}, nil)
	store.On("BookedStarts", ctx, "doc-1", monday).Return(nil, boom)
	_, err = newService(t, store, nil).DaySchedule(ctx, "doc-1", monday)
	assert.ErrorIs(t, err, boom)
}

func TestDaySchedule_CachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule{clockRule("r1", 1, "09:00", "10:00")}, nil)
	store.On("BookedStarts", ctx, "doc-1", monday).Return(availability.NewBookedSet(), nil)
	store.On("GetPractitioner", ctx, "doc-1").Return(database.Practitioner{ID: "doc-1"}, nil)

	lru, err := cache.NewLRUCache(10, time.Minute)
	require.NoError(t, err)
	svc := newService(t, store, lru)

	first, err := svc.DaySchedule(ctx, "doc-1", monday)
	require.NoError(t, err)
	second, err := svc.DaySchedule(ctx, "doc-1", monday.Add(8*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	store.AssertNumberOfCalls(t, "RulesForPractitioner", 1)

	svc.Invalidate(ctx, "doc-1", monday)
	_, err = svc.DaySchedule(ctx, "doc-1", monday)
	require.NoError(t, err)
	store.AssertNumberOfCalls(t, "RulesForPractitioner", 2)

	svc.InvalidateAll(ctx)
	assert.Equal(t, 0, lru.Len())
}

// slowSetCache runs onSet before storing, as if a booking event arrived while
// the write was still in flight.
type slowSetCache struct {
	*cache.LRUCache
	onSet func()
}

func (c *slowSetCache) Set(ctx context.Context, schedule availability.DaySchedule) {
	if c.onSet != nil {
		hook := c.onSet
		c.onSet = nil
		hook()
	}
	c.LRUCache.Set(ctx, schedule)
}

func TestDaySchedule_InvalidateDuringCacheWrite(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule{clockRule("r1", 1, "09:00", "10:00")}, nil)
	store.On("BookedStarts", ctx, "doc-1", monday).Return(availability.NewBookedSet(), nil)
	store.On("GetPractitioner", ctx, "doc-1").Return(database.Practitioner{ID: "doc-1"}, nil)

	lru, err := cache.NewLRUCache(10, time.Minute)
	require.NoError(t, err)
	c := &slowSetCache{LRUCache: lru}
	svc := newService(t, store, c)
	c.onSet = func() { svc.Invalidate(ctx, "doc-1", monday) }

	_, err = svc.DaySchedule(ctx, "doc-1", monday)
	require.NoError(t, err)
	assert.Equal(t, 0, lru.Len())

	_, err = svc.DaySchedule(ctx, "doc-1", monday)
	require.NoError(t, err)
	store.AssertNumberOfCalls(t, "RulesForPractitioner", 2)
	assert.Equal(t, 1, lru.Len())
}

func TestDaySchedule_ClinicTimezone(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC+3", 3*60*60)
	localMonday := time.Date(2026, 10, 19, 0, 0, 0, 0, loc)

	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule{clockRule("r1", 1, "09:00", "10:00")}, nil)
	store.On("BookedStarts", ctx, "doc-1", localMonday).Return(availability.NewBookedSet(), nil)
	store.On("GetPractitioner", ctx, "doc-1").Return(database.Practitioner{ID: "doc-1"}, nil)

	logger := zerolog.New(io.Discard)
	svc := NewService(store, nil, nil, &logger, Options{Location: loc})

	// 22:00 UTC on Sunday is already Monday in the clinic.
	schedule, err := svc.DaySchedule(ctx, "doc-1", time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", schedule.Date)
	require.Len(t, schedule.Slots, 2)
	assert.Equal(t, "09:00", schedule.Slots[0].StartAt.Format("15:04"))
	assert.Equal(t, loc, schedule.Slots[0].StartAt.Location())
}

func TestRangeSchedule(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule{
		clockRule("mon", 1, "09:00", "10:00"),
		clockRule("wed", 3, "09:00", "11:00"),
	}, nil)
	store.On("BookedStarts", ctx, "doc-1", mock.AnythingOfType("time.Time")).Return(availability.NewBookedSet(), nil)
	store.On("GetPractitioner", ctx, "doc-1").Return(database.Practitioner{ID: "doc-1"}, nil)

	svc := newService(t, store, nil)
	days, err := svc.RangeSchedule(ctx, "doc-1", monday, 7)
	require.NoError(t, err)
	require.Len(t, days, 7)

	for i, d := range days {
		assert.Equal(t, monday.AddDate(0, 0, i).Format(DateLayout), d.Date)
	}
	assert.Len(t, days[0].Slots, 2)
	assert.Empty(t, days[1].Slots)
	assert.Len(t, days[2].Slots, 4)

	empty, err := svc.RangeSchedule(ctx, "doc-1", monday, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRangeSchedule_Error(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule(nil), errors.New("boom"))

	_, err := newService(t, store, nil).RangeSchedule(ctx, "doc-1", monday, 3)
	assert.Error(t, err)
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("RulesForPractitioner", ctx, "doc-1").Return([]availability.AvailabilityRule{clockRule("r1", 1, "09:00", "10:00")}, nil)
	store.On("BookedStarts", ctx, "doc-1", mock.AnythingOfType("time.Time")).Return(availability.NewBookedSet(), nil)
	store.On("GetPractitioner", ctx, "doc-1").Return(database.Practitioner{ID: "doc-1"}, nil)

	lru, err := cache.NewLRUCache(10, time.Minute)
	require.NoError(t, err)
	svc := newService(t, store, lru)
	bus := events.NewEventBus()
	svc.Subscribe(bus)

	_, err = svc.DaySchedule(ctx, "doc-1", monday)
	require.NoError(t, err)
	_, err = svc.DaySchedule(ctx, "doc-1", monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, 2, lru.Len())

	require.NoError(t, bus.Publish(events.Event{Type: events.BookingCreated, PractitionerID: "doc-1", Date: "2026-10-19"}))
	assert.Equal(t, 1, lru.Len())

	assert.Error(t, bus.Publish(events.Event{Type: events.BookingCancelled, PractitionerID: "doc-1", Date: "19.10.2026"}))

	require.NoError(t, bus.Publish(events.Event{Type: events.RulesReloaded, PractitionerID: "doc-1"}))
	assert.Equal(t, 0, lru.Len())
}
