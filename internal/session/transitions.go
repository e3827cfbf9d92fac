package session

import (
	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/store"
)

type State string

const (
	StateLoggedOut State = "logged_out"
	StateLoggedIn  State = "logged_in"
)

// StateOf derives the session state from today's ledger record.
func StateOf(record models.AttendanceRecord) State {
	if store.IsOpen(record) {
		return StateLoggedIn
	}
	return StateLoggedOut
}

// ApplyLogin opens a session on record at clock. A closed earlier session on
// the same day is reopened and its hours are kept for accumulation.
func ApplyLogin(record models.AttendanceRecord, clock models.TimeOfDay, holiday bool) (models.AttendanceRecord, error) {
	if store.IsOpen(record) {
		return record, store.ErrAlreadyLoggedIn
	}
	if holiday || record.Status == models.StatusHoliday {
		record.Status = models.StatusHoliday
	} else {
		record.Status = models.StatusPresent
	}
	record.LoginTime = clock.Clock()
	record.LogoutTime = nil
	return record, nil
}

// ApplyLogout closes the open session on record at clock and adds its
// duration to the hours already worked that day.
func ApplyLogout(record models.AttendanceRecord, clock models.TimeOfDay) (models.AttendanceRecord, error) {
	if !store.IsOpen(record) {
		return record, store.ErrNotLoggedIn
	}
	if clock < *record.LoginTime {
		clock = *record.LoginTime
	}
	record.LogoutTime = clock.Clock()
	record.HoursWorked = store.RoundHours(record.HoursWorked + store.HoursBetween(*record.LoginTime, clock))
	return record, nil
}

// ApplyLeave overwrites record with a leave status. Holiday records take
// precedence and are returned unchanged with false.
func ApplyLeave(record models.AttendanceRecord, status models.Status, notes string) (models.AttendanceRecord, bool) {
	if record.Status == models.StatusHoliday {
		return record, false
	}
	record.Status = status
	record.LoginTime = nil
	record.LogoutTime = nil
	record.HoursWorked = 0
	record.Notes = notes
	return record, true
}

// ApplyCorrection replaces the times and status of record and recomputes hours.
func ApplyCorrection(record models.AttendanceRecord, status models.Status, login, logout *models.TimeOfDay, notes string) models.AttendanceRecord {
	record.Status = status
	record.LoginTime = login
	record.LogoutTime = logout
	record.Notes = notes
	record.HoursWorked = 0
	if login != nil && logout != nil {
		record.HoursWorked = store.HoursBetween(*login, *logout)
	}
	return record
}
