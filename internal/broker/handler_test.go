package broker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clinicslots/internal/database"
	"clinicslots/internal/events"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) RecordBooking(ctx context.Context, b database.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockLedger) CancelBooking(ctx context.Context, id string) (database.Booking, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(database.Booking), args.Error(1)
}

func newHandler(ledger Ledger) (*Handler, *[]events.Event) {
	logger := zerolog.New(io.Discard)
	bus := events.NewEventBus()
	var published []events.Event
	record := func(e events.Event) error {
		published = append(published, e)
		return nil
	}
	bus.Subscribe(events.BookingCreated, record)
	bus.Subscribe(events.BookingCancelled, record)

	loc := time.FixedZone("UTC+3", 3*60*60)
	return NewHandler(ledger, bus, loc, nil, &logger), &published
}

func TestParseRoutingKey(t *testing.T) {
	key, err := ParseRoutingKey("crm.clinicslots.booking.created")
	require.NoError(t, err)
	assert.Equal(t, RoutingKey{Source: "crm", Receiver: "clinicslots", Action: "created"}, key)

	for _, bad := range []string{"", "crm.booking.created", "crm.clinicslots.appointment.created", "a.b.booking.c.d"} {
		_, err := ParseRoutingKey(bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestHandle_Created(t *testing.T) {
	ctx := context.Background()
	ledger := new(mockLedger)
	start := time.Date(2026, 10, 19, 21, 30, 0, 0, time.UTC)

	ledger.On("RecordBooking", ctx, mock.MatchedBy(func(b database.Booking) bool {
		return b.ID == "b1" && b.PractitionerID == "doc-1" && b.StartAt.Equal(start) &&
			b.Status == database.BookingConfirmed && b.Source == "crm"
	})).Return(nil)

	h, published := newHandler(ledger)
	body := []byte(`{"id":"b1","practitioner_id":"doc-1","start_at":"2026-10-19T21:30:00Z","end_at":"2026-10-19T22:00:00Z"}`)
	require.NoError(t, h.Handle(ctx, "crm.clinicslots.booking.created", body))

	require.Len(t, *published, 1)
	e := (*published)[0]
	assert.Equal(t, events.BookingCreated, e.Type)
	assert.Equal(t, "doc-1", e.PractitionerID)
	// 21:30 UTC is already the next day in the clinic.
	assert.Equal(t, "2026-10-20", e.Date)
	ledger.AssertExpectations(t)
}

func TestHandle_Cancelled(t *testing.T) {
	ctx := context.Background()
	ledger := new(mockLedger)
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	ledger.On("CancelBooking", ctx, "b1").Return(database.Booking{ID: "b1", PractitionerID: "doc-1", StartAt: start}, nil)
	ledger.On("CancelBooking", ctx, "ghost").Return(database.Booking{}, database.ErrBookingNotFound)

	h, published := newHandler(ledger)
	require.NoError(t, h.Handle(ctx, "crm.clinicslots.booking.cancelled", []byte(`{"id":"b1"}`)))
	require.Len(t, *published, 1)
	assert.Equal(t, events.BookingCancelled, (*published)[0].Type)
	assert.Equal(t, "2026-10-19", (*published)[0].Date)

	require.NoError(t, h.Handle(ctx, "crm.clinicslots.booking.cancelled", []byte(`{"id":"ghost"}`)))
	assert.Len(t, *published, 1)
}

func TestHandle_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		key       string
		body      string
		malformed bool
	}{
		{"bad routing key", "crm.booking", `{}`, true},
		{"bad json", "crm.clinicslots.booking.created", `{`, true},
		{"missing id", "crm.clinicslots.booking.created", `{"practitioner_id":"doc-1"}`, true},
		{"empty interval", "crm.clinicslots.booking.created", `{"id":"b1","practitioner_id":"doc-1","start_at":"2026-10-19T09:00:00Z","end_at":"2026-10-19T09:00:00Z"}`, true},
		{"unknown action", "crm.clinicslots.booking.moved", `{"id":"b1"}`, true},
		{"ledger failure", "crm.clinicslots.booking.created", `{"id":"b1","practitioner_id":"doc-1","start_at":"2026-10-19T09:00:00Z","end_at":"2026-10-19T09:30:00Z"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := new(mockLedger)
			ledger.On("RecordBooking", ctx, mock.Anything).Return(errors.New("db locked"))

			h, published := newHandler(ledger)
			err := h.Handle(ctx, tt.key, []byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.malformed, errors.Is(err, ErrMalformed))
			assert.Empty(t, *published)
		})
	}
}
