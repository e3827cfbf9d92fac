package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusPresent       Status = "Present"
	StatusLeave         Status = "Leave"
	StatusSickLeave     Status = "Sick Leave"
	StatusPersonalLeave Status = "Personal Leave"
	StatusAbsent        Status = "Absent"
	StatusHoliday       Status = "Holiday"
)

// Statuses lists every attendance status in report order.
var Statuses = []Status{
	StatusPresent,
	StatusLeave,
	StatusSickLeave,
	StatusPersonalLeave,
	StatusAbsent,
	StatusHoliday,
}

func (s Status) Valid() bool {
	for _, status := range Statuses {
		if status == s {
			return true
		}
	}
	return false
}

// IsLeave reports whether s may be assigned by bulk leave marking.
func (s Status) IsLeave() bool {
	switch s {
	case StatusLeave, StatusSickLeave, StatusPersonalLeave, StatusAbsent:
		return true
	}
	return false
}

type AttendanceRecord struct {
	UserID      string     `json:"user_id"`
	Date        time.Time  `json:"-"`
	Status      Status     `json:"status"`
	LoginTime   *TimeOfDay `json:"login_time,omitempty"`
	LogoutTime  *TimeOfDay `json:"logout_time,omitempty"`
	HoursWorked float64    `json:"hours_worked"`
	Notes       string     `json:"notes,omitempty"`
}

func (r AttendanceRecord) MarshalJSON() ([]byte, error) {
	type plain AttendanceRecord
	return json.Marshal(struct {
		plain
		Date string `json:"date"`
	}{plain: plain(r), Date: FormatDate(r.Date)})
}

// TimeOfDay is a wall-clock time with second precision, stored as seconds
// since midnight.
type TimeOfDay int32

const secondsPerDay = 24 * 60 * 60

func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second())
}

func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04:05", value)
	if err != nil {
		parsed, err = time.Parse("15:04", value)
		if err != nil {
			return 0, fmt.Errorf("invalid time of day %q", value)
		}
	}
	return ClockOf(parsed), nil
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < secondsPerDay
}

func (t TimeOfDay) Seconds() int64 {
	return int64(t)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t/3600, (t/60)%60, t%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Clock returns a pointer to t, for optional record fields.
func (t TimeOfDay) Clock() *TimeOfDay {
	return &t
}
