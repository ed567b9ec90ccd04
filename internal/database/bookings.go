package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinicslots/internal/availability"
)

const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking is a committed appointment projected from the booking system.
type Booking struct {
	ID             string
	PractitionerID string
	StartAt        time.Time
	EndAt          time.Time
	Status         string
	Source         string
}

// RecordBooking stores a booking. Redelivered messages update the same row.
func (db *DB) RecordBooking(ctx context.Context, b Booking) error {
	if b.ID == "" || b.PractitionerID == "" {
		return fmt.Errorf("record booking: id and practitioner are required")
	}
	if !b.EndAt.After(b.StartAt) {
		return fmt.Errorf("record booking %s: end is not after start", b.ID)
	}
	if b.Status == "" {
		b.Status = BookingConfirmed
	}

	now := formatTime(time.Now())
	_, err := db.ExecContext(ctx, `
		INSERT INTO bookings (id, practitioner_id, start_at, end_at, status, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			practitioner_id = excluded.practitioner_id,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			status = excluded.status,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		b.ID, b.PractitionerID, formatTime(b.StartAt), formatTime(b.EndAt), b.Status, b.Source, now, now,
	)
	if err != nil {
		return fmt.Errorf("record booking %s: %w", b.ID, err)
	}
	return nil
}

// CancelBooking marks a booking cancelled and returns it.
func (db *DB) CancelBooking(ctx context.Context, id string) (Booking, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
		BookingCancelled, formatTime(time.Now()), id)
	if err != nil {
		return Booking{}, fmt.Errorf("cancel booking %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Booking{}, err
	}
	if n == 0 {
		return Booking{}, ErrBookingNotFound
	}
	return db.GetBooking(ctx, id)
}

// GetBooking loads a booking by id.
func (db *DB) GetBooking(ctx context.Context, id string) (Booking, error) {
	var b Booking
	err := db.QueryRowContext(ctx,
		`SELECT id, practitioner_id, start_at, end_at, status, source FROM bookings WHERE id = ?`, id,
	).Scan(&b.ID, &b.PractitionerID, &b.StartAt, &b.EndAt, &b.Status, &b.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrBookingNotFound
	}
	if err != nil {
		return Booking{}, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

// BookedStarts returns the start instants of non-cancelled bookings of a
// practitioner that begin on date's calendar day in date's location.
func (db *DB) BookedStarts(ctx context.Context, practitionerID string, date time.Time) (availability.BookedSet, error) {
	y, m, d := date.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := db.QueryContext(ctx, `
		SELECT start_at FROM bookings
		WHERE practitioner_id = ? AND status != ? AND start_at >= ? AND start_at < ?`,
		practitionerID, BookingCancelled, formatTime(dayStart), formatTime(dayEnd),
	)
	if err != nil {
		return nil, fmt.Errorf("query booked starts: %w", err)
	}
	defer rows.Close()

	booked := availability.NewBookedSet()
	for rows.Next() {
		var start time.Time
		if err := rows.Scan(&start); err != nil {
			return nil, fmt.Errorf("scan booked start: %w", err)
		}
		booked.Add(start)
	}
	return booked, rows.Err()
}
