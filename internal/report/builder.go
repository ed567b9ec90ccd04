// Package report builds practitioner utilization reports from day schedules
// and delivers them as spreadsheets.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"clinicslots/internal/availability"
	"clinicslots/internal/database"
)

// ScheduleSource is the read side the report needs. *schedule.Service
// implements it.
type ScheduleSource interface {
	ActivePractitioners(ctx context.Context) ([]database.Practitioner, error)
	DaySchedule(ctx context.Context, practitionerID string, date time.Time) (availability.DaySchedule, error)
}

// Row is one practitioner day.
type Row struct {
	PractitionerID  string
	Name            string
	Specialty       string
	Date            string
	TotalSlots      int
	AvailableSlots  int
	BookedSlots     int
	UtilizationRate float64
	FirstSlot       string // "09:00", empty when no slots
	LastSlotEnd     string
	LongestFreeMin  int // longest run of back-to-back available slots
}

// Summary aggregates a practitioner's rows over the report window.
type Summary struct {
	PractitionerID  string
	Name            string
	TotalSlots      int
	BookedSlots     int
	UtilizationRate float64
}

type Builder struct {
	source ScheduleSource
}

func NewBuilder(source ScheduleSource) *Builder {
	return &Builder{source: source}
}

// Build returns rows for every active practitioner over days starting at
// from, ordered by practitioner then date.
func (b *Builder) Build(ctx context.Context, from time.Time, days int) ([]Row, error) {
	if days <= 0 {
		days = 1
	}

	practitioners, err := b.source.ActivePractitioners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list practitioners: %w", err)
	}

	rows := make([]Row, 0, len(practitioners)*days)
	for _, p := range practitioners {
		for i := 0; i < days; i++ {
			schedule, err := b.source.DaySchedule(ctx, p.ID, from.AddDate(0, 0, i))
			if err != nil {
				return nil, fmt.Errorf("schedule for %s: %w", p.ID, err)
			}
			rows = append(rows, newRow(p, schedule))
		}
	}

	return rows, nil
}

func newRow(p database.Practitioner, s availability.DaySchedule) Row {
	row := Row{
		PractitionerID:  p.ID,
		Name:            p.Name,
		Specialty:       p.Specialty,
		Date:            s.Date,
		TotalSlots:      s.Stats.TotalSlots,
		AvailableSlots:  s.Stats.AvailableSlots,
		BookedSlots:     s.Stats.BookedSlots,
		UtilizationRate: s.Stats.UtilizationRate,
	}
	if len(s.Slots) > 0 {
		row.FirstSlot = availability.ToSlotInfo(s.Slots[:1])[0].Start
		last := s.Slots[0].EndAt
		for _, slot := range s.Slots {
			if slot.EndAt.After(last) {
				last = slot.EndAt
			}
		}
		row.LastSlotEnd = last.Format("15:04")
	}
	for _, run := range availability.FindConsecutiveSlots(s.Slots) {
		minutes := 0
		for _, slot := range run {
			minutes += slot.Duration
		}
		if minutes > row.LongestFreeMin {
			row.LongestFreeMin = minutes
		}
	}
	return row
}

// Summarize totals rows per practitioner, ordered by id.
func Summarize(rows []Row) []Summary {
	byID := make(map[string]*Summary)
	for _, r := range rows {
		s, ok := byID[r.PractitionerID]
		if !ok {
			s = &Summary{PractitionerID: r.PractitionerID, Name: r.Name}
			byID[r.PractitionerID] = s
		}
		s.TotalSlots += r.TotalSlots
		s.BookedSlots += r.BookedSlots
	}

	result := make([]Summary, 0, len(byID))
	for _, s := range byID {
		if s.TotalSlots > 0 {
			s.UtilizationRate = roundRate(float64(s.BookedSlots) / float64(s.TotalSlots) * 100)
		}
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PractitionerID < result[j].PractitionerID })
	return result
}

func roundRate(r float64) float64 {
	return math.Round(r*100) / 100
}
