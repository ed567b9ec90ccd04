package availability

import "time"

// GenerateSlots expands one rule on date into consecutive slots of
// durationMinutes, marking a slot unavailable when its start is in booked.
//
// A trailing remainder shorter than the duration is dropped. A rule whose
// start is not before its end yields an empty list.
func GenerateSlots(rule AvailabilityRule, date time.Time, durationMinutes int, booked BookedSet) []AvailabilitySlot {
	if durationMinutes <= 0 {
		durationMinutes = DefaultSlotDuration
	}

	slots := make([]AvailabilitySlot, 0)
	if rule.Start >= rule.End {
		return slots
	}

	slotDuration := time.Duration(durationMinutes) * time.Minute
	windowEnd := rule.End.On(date)

	for cursor := rule.Start.On(date); !cursor.Add(slotDuration).After(windowEnd); cursor = cursor.Add(slotDuration) {
		slots = append(slots, AvailabilitySlot{
			RuleID:    rule.ID,
			StartAt:   cursor,
			EndAt:     cursor.Add(slotDuration),
			Duration:  durationMinutes,
			Available: !booked.Contains(cursor),
		})
	}

	return slots
}
