package store

import (
	"fmt"
	"math"

	"qrlogin/attendance-service/internal/models"
)

// IsOpen reports whether record holds a session that has not been closed.
func IsOpen(record models.AttendanceRecord) bool {
	return record.LoginTime != nil && record.LogoutTime == nil
}

// ValidateRecord enforces the ledger invariants every write must satisfy.
func ValidateRecord(record models.AttendanceRecord) error {
	if record.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidRecord)
	}
	if record.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidRecord)
	}
	if !record.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, record.Status)
	}
	if record.LoginTime != nil && !record.LoginTime.Valid() {
		return fmt.Errorf("%w: login time out of range", ErrInvalidRecord)
	}
	if record.LogoutTime != nil {
		if record.LoginTime == nil {
			return fmt.Errorf("%w: logout time without login time", ErrInvalidRecord)
		}
		if !record.LogoutTime.Valid() {
			return fmt.Errorf("%w: logout time out of range", ErrInvalidRecord)
		}
		if *record.LogoutTime < *record.LoginTime {
			return fmt.Errorf("%w: logout %s before login %s", ErrInvalidRecord, record.LogoutTime, record.LoginTime)
		}
	}
	if record.HoursWorked < 0 || math.IsNaN(record.HoursWorked) || math.IsInf(record.HoursWorked, 0) {
		return fmt.Errorf("%w: hours worked must be non-negative", ErrInvalidRecord)
	}
	return nil
}

// HoursBetween returns max(0, logout-login) in hours rounded to 2 decimals.
func HoursBetween(login, logout models.TimeOfDay) float64 {
	seconds := logout.Seconds() - login.Seconds()
	if seconds <= 0 {
		return 0
	}
	return RoundHours(float64(seconds) / 3600)
}

func RoundHours(hours float64) float64 {
	return math.Round(hours*100) / 100
}
