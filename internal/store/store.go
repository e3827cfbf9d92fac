package store

import (
	"context"
	"encoding/json"
	"time"

	"qrlogin/attendance-service/internal/models"
)

type CreateUserInput struct {
	Prefix       string
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	Salt         string
}

type AttendanceFilter struct {
	UserID    string
	StartDate time.Time
	EndDate   time.Time
}

type HistoryFilter struct {
	UserID    string
	StartDate time.Time
	EndDate   time.Time
}

// AttendanceRow is a ledger record joined with the owning user.
type AttendanceRow struct {
	models.AttendanceRecord
	EmployeeID string `json:"employee_id"`
	UserName   string `json:"user_name"`
}

// MarshalJSON keeps the joined columns; the embedded record's own marshaler
// would otherwise be promoted and drop them.
func (r AttendanceRow) MarshalJSON() ([]byte, error) {
	type plain models.AttendanceRecord
	return json.Marshal(struct {
		plain
		Date       string `json:"date"`
		EmployeeID string `json:"employee_id"`
		UserName   string `json:"user_name"`
	}{plain: plain(r.AttendanceRecord), Date: models.FormatDate(r.Date), EmployeeID: r.EmployeeID, UserName: r.UserName})
}

type HistoryRow struct {
	models.LoginHistoryEvent
	EmployeeID string `json:"employee_id"`
	UserName   string `json:"user_name"`
}

type UserStore interface {
	// CreateUser assigns the next employee id for input.Prefix and inserts the
	// user atomically. The bool reports that numbering fell back to counting.
	CreateUser(ctx context.Context, input CreateUserInput) (models.User, bool, error)
	PeekEmployeeID(ctx context.Context, prefix string) (string, bool, error)
	GetUserByID(ctx context.Context, userID string) (models.User, error)
	GetUserByEmployeeID(ctx context.Context, employeeID string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash, salt string) error
	SetActive(ctx context.Context, userID string, active bool) error
	DeleteUser(ctx context.Context, userID string) error
}

type Ledger interface {
	GetOrCreate(ctx context.Context, userID string, date time.Time) (models.AttendanceRecord, error)
	Upsert(ctx context.Context, record models.AttendanceRecord) (models.AttendanceRecord, error)
	Query(ctx context.Context, filter AttendanceFilter) ([]AttendanceRow, error)
	MonthlyStatusCounts(ctx context.Context, userID string, month time.Month, year int) (map[models.Status]int, error)
	ListOpen(ctx context.Context, date time.Time) ([]AttendanceRow, error)
}

type HistoryLog interface {
	ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryRow, error)
}

type CalendarStore interface {
	CreateEvent(ctx context.Context, event models.CalendarEvent) (models.CalendarEvent, error)
	DeleteEvent(ctx context.Context, eventID string) error
	// ListEvents returns one-off events dated within [from, to] and every
	// recurring event whose first occurrence is on or before to.
	ListEvents(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error)
}

// DayTx is the unit of mutual exclusion for one (user, date) ledger row.
// Writes become visible only when the surrounding WithinDay returns nil.
type DayTx interface {
	Record(ctx context.Context) (models.AttendanceRecord, bool, error)
	Save(ctx context.Context, record models.AttendanceRecord) (models.AttendanceRecord, error)
	AppendHistory(ctx context.Context, event models.LoginHistoryEvent) (models.LoginHistoryEvent, error)
}

type Store interface {
	UserStore
	Ledger
	HistoryLog
	CalendarStore
	// WithinDay runs fn holding the (userID, date) lock. Lock acquisition that
	// exceeds the store's timeout fails with ErrBusy.
	WithinDay(ctx context.Context, userID string, date time.Time, fn func(tx DayTx) error) error
}
