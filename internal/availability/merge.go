package availability

import (
	"math"
	"sort"
)

// MergeAndStat concatenates per-rule slot lists, orders them by start time and
// computes summary statistics. Slots with equal starts keep their input order.
func MergeAndStat(slotLists ...[]AvailabilitySlot) ([]AvailabilitySlot, ScheduleStats) {
	total := 0
	for _, list := range slotLists {
		total += len(list)
	}

	merged := make([]AvailabilitySlot, 0, total)
	for _, list := range slotLists {
		merged = append(merged, list...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartAt.Before(merged[j].StartAt)
	})

	return merged, Stats(merged)
}

// Stats computes counts and the booked percentage of slots.
func Stats(slots []AvailabilitySlot) ScheduleStats {
	stats := ScheduleStats{TotalSlots: len(slots)}
	for _, s := range slots {
		if s.Available {
			stats.AvailableSlots++
		}
	}
	stats.BookedSlots = stats.TotalSlots - stats.AvailableSlots

	if stats.TotalSlots > 0 {
		rate := float64(stats.BookedSlots) / float64(stats.TotalSlots) * 100
		stats.UtilizationRate = math.Round(rate*100) / 100
	}

	return stats
}

// Overlapping returns pairs of rules of one practitioner whose windows
// intersect on the same weekday.
func Overlapping(rules []AvailabilityRule) [][2]AvailabilityRule {
	var pairs [][2]AvailabilityRule
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules); j++ {
			a, b := rules[i], rules[j]
			if a.PractitionerID != b.PractitionerID || a.Weekday != b.Weekday {
				continue
			}
			if a.Start < b.End && b.Start < a.End {
				pairs = append(pairs, [2]AvailabilityRule{a, b})
			}
		}
	}
	return pairs
}
