package availability

import (
	"sort"
	"time"
)

// SlotInfo is a compact representation for presentation collaborators.
type SlotInfo struct {
	Start     string `json:"start"` // "10:00"
	End       string `json:"end"`   // "10:30"
	Available bool   `json:"available"`
}

// ToSlotInfo converts slots to SlotInfo.
func ToSlotInfo(slots []AvailabilitySlot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start:     s.StartAt.Format("15:04"),
			End:       s.EndAt.Format("15:04"),
			Available: s.Available,
		}
	}
	return result
}

// AvailableOnly returns only available slots.
func AvailableOnly(slots []AvailabilitySlot) []AvailabilitySlot {
	var available []AvailabilitySlot
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}

// FindConsecutiveSlots groups available slots that touch end-to-start.
func FindConsecutiveSlots(slots []AvailabilitySlot) [][]AvailabilitySlot {
	available := AvailableOnly(slots)
	if len(available) == 0 {
		return nil
	}

	sort.SliceStable(available, func(i, j int) bool {
		return available[i].StartAt.Before(available[j].StartAt)
	})

	var groups [][]AvailabilitySlot
	current := []AvailabilitySlot{available[0]}

	for i := 1; i < len(available); i++ {
		if available[i].StartAt.Equal(current[len(current)-1].EndAt) {
			current = append(current, available[i])
		} else {
			groups = append(groups, current)
			current = []AvailabilitySlot{available[i]}
		}
	}
	groups = append(groups, current)

	return groups
}

// CanBookConsecutive reports whether count contiguous available slots start at startAt.
func CanBookConsecutive(slots []AvailabilitySlot, startAt time.Time, count int) bool {
	if count <= 0 {
		return false
	}

	startIdx := indexOf(slots, startAt)
	if startIdx < 0 || startIdx+count > len(slots) {
		return false
	}

	for i := 0; i < count; i++ {
		idx := startIdx + i
		if !slots[idx].Available {
			return false
		}
		if i > 0 && !slots[idx].StartAt.Equal(slots[idx-1].EndAt) {
			return false
		}
	}

	return true
}

// DurationOptions lists bookable lengths in minutes starting at startAt,
// one option per additional contiguous available slot.
func DurationOptions(slots []AvailabilitySlot, startAt time.Time) []int {
	startIdx := indexOf(slots, startAt)
	if startIdx < 0 || !slots[startIdx].Available {
		return nil
	}

	var options []int
	total := 0
	for i := startIdx; i < len(slots); i++ {
		if !slots[i].Available {
			break
		}
		if i > startIdx && !slots[i].StartAt.Equal(slots[i-1].EndAt) {
			break
		}
		total += slots[i].Duration
		options = append(options, total)
	}

	return options
}

func indexOf(slots []AvailabilitySlot, startAt time.Time) int {
	for i, s := range slots {
		if s.StartAt.Equal(startAt) {
			return i
		}
	}
	return -1
}
