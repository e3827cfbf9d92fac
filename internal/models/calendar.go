package models

import (
	"encoding/json"
	"time"
)

type Category string

const (
	CategoryHoliday     Category = "Holiday"
	CategoryEvent       Category = "Event"
	CategoryMeeting     Category = "Meeting"
	CategoryCelebration Category = "Celebration"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryHoliday, CategoryEvent, CategoryMeeting, CategoryCelebration:
		return true
	}
	return false
}

type CalendarEvent struct {
	EventID    string    `json:"event_id"`
	Date       time.Time `json:"-"`
	Title      string    `json:"title"`
	Category   Category  `json:"category"`
	Recurrence string    `json:"recurrence,omitempty"`
}

func (e CalendarEvent) MarshalJSON() ([]byte, error) {
	type plain CalendarEvent
	return json.Marshal(struct {
		plain
		Date string `json:"date"`
	}{plain: plain(e), Date: FormatDate(e.Date)})
}
