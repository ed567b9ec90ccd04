package availability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConsecutiveSlots(t *testing.T) {
	date := monday()
	booked := NewBookedSet(at(date, "10:00"))
	morning := GenerateSlots(rule("am", 1, "09:00", "11:00"), date, 30, booked)
	afternoon := GenerateSlots(rule("pm", 1, "14:00", "15:00"), date, 30, nil)
	slots, _ := MergeAndStat(morning, afternoon)

	groups := FindConsecutiveSlots(slots)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 2) // 09:00, 09:30
	assert.Len(t, groups[1], 1) // 10:30
	assert.Len(t, groups[2], 2) // 14:00, 14:30

	assert.Nil(t, FindConsecutiveSlots(nil))
}

func TestCanBookConsecutive(t *testing.T) {
	date := monday()
	booked := NewBookedSet(at(date, "10:00"))
	slots := GenerateSlots(rule("r", 1, "09:00", "11:00"), date, 30, booked)

	tests := []struct {
		name  string
		start string
		count int
		want  bool
	}{
		{"two before booking", "09:00", 2, true},
		{"runs into booking", "09:00", 3, false},
		{"booked start", "10:00", 1, false},
		{"past window", "10:30", 2, false},
		{"unknown start", "09:15", 1, false},
		{"zero count", "09:00", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanBookConsecutive(slots, at(date, tt.start), tt.count))
		})
	}
}

func TestDurationOptions(t *testing.T) {
	date := monday()
	booked := NewBookedSet(at(date, "10:30"))
	slots := GenerateSlots(rule("r", 1, "09:00", "11:00"), date, 30, booked)

	assert.Equal(t, []int{30, 60, 90}, DurationOptions(slots, at(date, "09:00")))
	assert.Equal(t, []int{30}, DurationOptions(slots, at(date, "10:00")))
	assert.Nil(t, DurationOptions(slots, at(date, "10:30")))
	assert.Nil(t, DurationOptions(slots, at(date, "12:00")))
}

func TestToSlotInfo(t *testing.T) {
	date := monday()
	slots := GenerateSlots(rule("r", 1, "09:00", "10:00"), date, 30, NewBookedSet(at(date, "09:30")))

	info := ToSlotInfo(slots)
	assert.Equal(t, []SlotInfo{
		{Start: "09:00", End: "09:30", Available: true},
		{Start: "09:30", End: "10:00", Available: false},
	}, info)
	assert.Len(t, AvailableOnly(slots), 1)
}
