package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicslots/internal/database"
	"clinicslots/internal/events"
	"clinicslots/internal/metrics"
)

// ErrMalformed marks messages that can never be processed. They are dropped
// instead of requeued.
var ErrMalformed = errors.New("malformed booking message")

const (
	ActionCreated   = "created"
	ActionCancelled = "cancelled"
)

// RoutingKey is <source>.<receiver>.booking.<action>, e.g.
// crm.clinicslots.booking.created.
type RoutingKey struct {
	Source   string
	Receiver string
	Action   string
}

func ParseRoutingKey(key string) (RoutingKey, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 4 || parts[2] != "booking" {
		return RoutingKey{}, fmt.Errorf("%w: routing key %q", ErrMalformed, key)
	}
	return RoutingKey{Source: parts[0], Receiver: parts[1], Action: parts[3]}, nil
}

// BookingMessage is the JSON body of a booking message.
type BookingMessage struct {
	ID             string    `json:"id"`
	PractitionerID string    `json:"practitioner_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
}

// Ledger is where bookings are projected. *database.DB implements it.
type Ledger interface {
	RecordBooking(ctx context.Context, b database.Booking) error
	CancelBooking(ctx context.Context, id string) (database.Booking, error)
}

// Handler applies booking messages to the ledger and announces the change on
// the event bus.
type Handler struct {
	ledger   Ledger
	bus      *events.EventBus
	location *time.Location
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewHandler(ledger Ledger, bus *events.EventBus, loc *time.Location, m *metrics.Metrics, logger *zerolog.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		ledger:   ledger,
		bus:      bus,
		location: loc,
		metrics:  m,
		logger:   logger.With().Str("component", "booking_handler").Logger(),
	}
}

// Handle processes one message. Errors wrapping ErrMalformed are permanent.
func (h *Handler) Handle(ctx context.Context, routingKey string, body []byte) error {
	key, err := ParseRoutingKey(routingKey)
	if err != nil {
		h.metrics.IncBookingEvent("unknown", "malformed")
		return err
	}

	var msg BookingMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		h.metrics.IncBookingEvent(key.Action, "malformed")
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.ID == "" {
		h.metrics.IncBookingEvent(key.Action, "malformed")
		return fmt.Errorf("%w: missing booking id", ErrMalformed)
	}

	var event events.Event
	switch key.Action {
	case ActionCreated:
		if msg.PractitionerID == "" || msg.StartAt.IsZero() || !msg.EndAt.After(msg.StartAt) {
			h.metrics.IncBookingEvent(key.Action, "malformed")
			return fmt.Errorf("%w: booking %s needs practitioner and a valid interval", ErrMalformed, msg.ID)
		}
		err = h.ledger.RecordBooking(ctx, database.Booking{
			ID:             msg.ID,
			PractitionerID: msg.PractitionerID,
			StartAt:        msg.StartAt,
			EndAt:          msg.EndAt,
			Status:         database.BookingConfirmed,
			Source:         key.Source,
		})
		if err != nil {
			h.metrics.IncBookingEvent(key.Action, "error")
			return err
		}
		event = events.Event{Type: events.BookingCreated, PractitionerID: msg.PractitionerID, BookingID: msg.ID, Date: h.date(msg.StartAt)}

	case ActionCancelled:
		booking, err := h.ledger.CancelBooking(ctx, msg.ID)
		if errors.Is(err, database.ErrBookingNotFound) {
			// Cancel for a booking never seen; nothing to free.
			h.logger.Warn().Str("booking", msg.ID).Msg("Cancel for unknown booking")
			h.metrics.IncBookingEvent(key.Action, "ignored")
			return nil
		}
		if err != nil {
			h.metrics.IncBookingEvent(key.Action, "error")
			return err
		}
		event = events.Event{Type: events.BookingCancelled, PractitionerID: booking.PractitionerID, BookingID: booking.ID, Date: h.date(booking.StartAt)}

	default:
		h.metrics.IncBookingEvent(key.Action, "malformed")
		return fmt.Errorf("%w: unknown action %q", ErrMalformed, key.Action)
	}

	if err := h.bus.Publish(event); err != nil {
		h.logger.Error().Err(err).Str("booking", msg.ID).Msg("Event handlers failed")
	}

	h.metrics.IncBookingEvent(key.Action, "ok")
	h.logger.Debug().Str("booking", msg.ID).Str("action", key.Action).Str("source", key.Source).Msg("Booking applied")
	return nil
}

func (h *Handler) date(t time.Time) string {
	return t.In(h.location).Format("2006-01-02")
}
