// Package session implements the attendance state machine. Session state is
// derived from today's ledger record on every call.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qrlogin/attendance-service/internal/events"
	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "qrlogin/attendance-service/session"

// Users resolves and authenticates identities.
type Users interface {
	Resolve(ctx context.Context, employeeID string) (models.User, error)
	Authenticate(ctx context.Context, employeeID, password string) (models.User, error)
}

type HolidayChecker interface {
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}

type Options struct {
	Location  *time.Location
	Now       func() time.Time
	Logger    *slog.Logger
	Publisher events.Publisher
	// LeaveSkipWeekends leaves Saturdays and Sundays untouched in MarkLeave.
	LeaveSkipWeekends bool
}

type Manager struct {
	store        store.Store
	users        Users
	holidays     HolidayChecker
	location     *time.Location
	now          func() time.Time
	logger       *slog.Logger
	publisher    events.Publisher
	skipWeekends bool
	tracer       trace.Tracer
}

func NewManager(st store.Store, users Users, holidays HolidayChecker, options Options) *Manager {
	m := &Manager{
		store:        st,
		users:        users,
		holidays:     holidays,
		location:     options.Location,
		now:          options.Now,
		logger:       options.Logger,
		publisher:    options.Publisher,
		skipWeekends: options.LeaveSkipWeekends,
		tracer:       otel.Tracer(tracerName),
	}
	if m.location == nil {
		m.location = time.Local
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.publisher == nil {
		m.publisher = events.Nop{}
	}
	return m
}

// Result describes the outcome of a session transition. Changed is false for
// an informational no-op such as force logout of a logged out user.
type Result struct {
	User    models.User              `json:"user"`
	Action  models.Action            `json:"action,omitempty"`
	Method  models.Method            `json:"method,omitempty"`
	State   State                    `json:"state"`
	Record  models.AttendanceRecord  `json:"record"`
	Event   models.LoginHistoryEvent `json:"event"`
	Changed bool                     `json:"changed"`
	Message string                   `json:"message,omitempty"`
}

type intent int

const (
	intentLogin intent = iota
	intentLogout
	intentToggle
	intentForceLogout
)

func (m *Manager) Login(ctx context.Context, employeeID string, method models.Method) (Result, error) {
	ctx, span := m.start(ctx, "session.Login", employeeID, method)
	defer span.End()
	user, err := m.activeUser(ctx, employeeID)
	if err != nil {
		return Result{}, recordErr(span, err)
	}
	result, err := m.transition(ctx, user, method, intentLogin)
	return result, recordErr(span, err)
}

func (m *Manager) Logout(ctx context.Context, employeeID string, method models.Method) (Result, error) {
	ctx, span := m.start(ctx, "session.Logout", employeeID, method)
	defer span.End()
	user, err := m.activeUser(ctx, employeeID)
	if err != nil {
		return Result{}, recordErr(span, err)
	}
	result, err := m.transition(ctx, user, method, intentLogout)
	return result, recordErr(span, err)
}

// Toggle flips the user's state under the day lock, so a single call always
// changes exactly one state whatever the prior state was.
func (m *Manager) Toggle(ctx context.Context, employeeID string, method models.Method) (Result, error) {
	ctx, span := m.start(ctx, "session.Toggle", employeeID, method)
	defer span.End()
	user, err := m.activeUser(ctx, employeeID)
	if err != nil {
		return Result{}, recordErr(span, err)
	}
	result, err := m.transition(ctx, user, method, intentToggle)
	if err == nil {
		span.SetAttributes(attribute.String("session.action", string(result.Action)))
	}
	return result, recordErr(span, err)
}

// ForceLogout closes an open session on behalf of admin regardless of
// account state. A user who is already logged out gets an unchanged result
// and no history event.
func (m *Manager) ForceLogout(ctx context.Context, admin, employeeID string) (Result, error) {
	ctx, span := m.start(ctx, "session.ForceLogout", employeeID, models.MethodManual)
	defer span.End()
	span.SetAttributes(attribute.String("session.admin", admin))
	user, err := m.users.Resolve(ctx, employeeID)
	if err != nil {
		return Result{}, recordErr(span, err)
	}
	result, err := m.transition(ctx, user, models.MethodManual, intentForceLogout)
	if err != nil {
		return Result{}, recordErr(span, err)
	}
	m.logger.Info("force logout requested", "admin", admin, "employee_id", user.EmployeeID, "changed", result.Changed)
	return result, nil
}

// ManualLogin authenticates the password before logging in.
func (m *Manager) ManualLogin(ctx context.Context, employeeID, password string) (Result, error) {
	ctx, span := m.start(ctx, "session.ManualLogin", employeeID, models.MethodManual)
	defer span.End()
	user, err := m.users.Authenticate(ctx, employeeID, password)
	if err != nil {
		return Result{}, recordErr(span, err)
	}
	result, err := m.transition(ctx, user, models.MethodManual, intentLogin)
	return result, recordErr(span, err)
}

func (m *Manager) ManualLogout(ctx context.Context, employeeID, password string) (Result, error) {
	ctx, span := m.start(ctx, "session.ManualLogout", employeeID, models.MethodManual)
	defer span.End()
	user, err := m.users.Authenticate(ctx, employeeID, password)
	if err != nil {
		return Result{}, recordErr(span, err)
	}
	result, err := m.transition(ctx, user, models.MethodManual, intentLogout)
	return result, recordErr(span, err)
}

func (m *Manager) activeUser(ctx context.Context, employeeID string) (models.User, error) {
	user, err := m.users.Resolve(ctx, employeeID)
	if err != nil {
		return models.User{}, err
	}
	if !user.Active {
		return models.User{}, store.ErrInactiveUser
	}
	return user, nil
}

func (m *Manager) transition(ctx context.Context, user models.User, method models.Method, want intent) (Result, error) {
	today := m.today()
	holiday := false
	if want != intentLogout && want != intentForceLogout {
		var err error
		if holiday, err = m.isHoliday(ctx, today); err != nil {
			return Result{}, err
		}
	}

	result := Result{User: user, Method: method}
	err := m.store.WithinDay(ctx, user.ID, today, func(tx store.DayTx) error {
		record, _, err := tx.Record(ctx)
		if err != nil {
			return err
		}
		at := m.clockOn(today)
		clock := models.ClockOf(at)

		action := models.ActionLogin
		switch want {
		case intentLogout:
			action = models.ActionLogout
		case intentForceLogout:
			action = models.ActionForceLogout
		case intentToggle:
			if StateOf(record) == StateLoggedIn {
				action = models.ActionLogout
			}
		}

		if action == models.ActionForceLogout && !store.IsOpen(record) {
			result.Record = record
			result.Message = "user is already logged out"
			return nil
		}

		var next models.AttendanceRecord
		if action == models.ActionLogin {
			next, err = ApplyLogin(record, clock, holiday)
		} else {
			next, err = ApplyLogout(record, clock)
		}
		if err != nil {
			return err
		}
		if result.Record, err = tx.Save(ctx, next); err != nil {
			return err
		}
		if result.Event, err = tx.AppendHistory(ctx, models.LoginHistoryEvent{Action: action, Method: method, Timestamp: at}); err != nil {
			return err
		}
		result.Action = action
		result.Changed = true
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	result.State = StateOf(result.Record)
	if !result.Changed {
		m.logger.Info("force logout skipped", "employee_id", user.EmployeeID, "reason", result.Message)
		return result, nil
	}

	m.logger.Info("attendance session changed",
		"employee_id", user.EmployeeID,
		"action", result.Action,
		"method", method,
		"date", models.FormatDate(today),
		"hours_worked", result.Record.HoursWorked,
	)
	m.publish(ctx, events.Change{
		Type:       events.ChangeSession,
		UserID:     user.ID,
		EmployeeID: user.EmployeeID,
		Action:     result.Action,
		Method:     method,
		Timestamp:  result.Event.Timestamp,
		Record:     result.Record,
	})
	return result, nil
}

// LeaveResult lists the dates written and the dates left untouched.
type LeaveResult struct {
	Marked  []time.Time `json:"-"`
	Skipped []time.Time `json:"-"`
}

// MarkLeave writes status on every date in [start, end] on behalf of admin,
// except dates that already carry a Holiday status.
func (m *Manager) MarkLeave(ctx context.Context, admin, employeeID string, start, end time.Time, status models.Status, notes string) (LeaveResult, error) {
	ctx, span := m.start(ctx, "session.MarkLeave", employeeID, models.MethodManual)
	defer span.End()
	span.SetAttributes(attribute.String("session.admin", admin))

	start, end = models.DateOf(start), models.DateOf(end)
	if start.After(end) {
		return LeaveResult{}, recordErr(span, store.ErrInvalidRange)
	}
	if !status.IsLeave() {
		return LeaveResult{}, recordErr(span, fmt.Errorf("%w: %q is not a leave status", store.ErrInvalidInput, status))
	}
	user, err := m.users.Resolve(ctx, employeeID)
	if err != nil {
		return LeaveResult{}, recordErr(span, err)
	}

	var result LeaveResult
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		if m.skipWeekends && models.IsWeekend(date) {
			result.Skipped = append(result.Skipped, date)
			continue
		}
		var saved models.AttendanceRecord
		marked := false
		err := m.store.WithinDay(ctx, user.ID, date, func(tx store.DayTx) error {
			record, _, err := tx.Record(ctx)
			if err != nil {
				return err
			}
			next, changed := ApplyLeave(record, status, notes)
			if !changed {
				return nil
			}
			saved, err = tx.Save(ctx, next)
			marked = err == nil
			return err
		})
		if err != nil {
			return result, recordErr(span, fmt.Errorf("mark leave %s: %w", models.FormatDate(date), err))
		}
		if !marked {
			result.Skipped = append(result.Skipped, date)
			continue
		}
		result.Marked = append(result.Marked, date)
		m.publish(ctx, events.Change{
			Type:       events.ChangeLeave,
			UserID:     user.ID,
			EmployeeID: user.EmployeeID,
			Timestamp:  m.now().In(m.location),
			Record:     saved,
		})
	}

	m.logger.Info("leave marked",
		"admin", admin,
		"employee_id", user.EmployeeID,
		"status", status,
		"start", models.FormatDate(start),
		"end", models.FormatDate(end),
		"marked", len(result.Marked),
		"skipped", len(result.Skipped),
	)
	return result, nil
}

type CorrectInput struct {
	// Admin names the administrator making the correction.
	Admin      string
	EmployeeID string
	Date       time.Time
	Status     models.Status
	LoginTime  *models.TimeOfDay
	LogoutTime *models.TimeOfDay
	Notes      string
}

// Correct replaces a ledger record on behalf of an administrator. Hours are
// recomputed from the supplied times.
func (m *Manager) Correct(ctx context.Context, input CorrectInput) (models.AttendanceRecord, error) {
	ctx, span := m.start(ctx, "session.Correct", input.EmployeeID, models.MethodManual)
	defer span.End()

	if input.Date.IsZero() {
		return models.AttendanceRecord{}, recordErr(span, fmt.Errorf("%w: date is required", store.ErrInvalidInput))
	}
	if !input.Status.Valid() {
		return models.AttendanceRecord{}, recordErr(span, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, input.Status))
	}
	user, err := m.users.Resolve(ctx, input.EmployeeID)
	if err != nil {
		return models.AttendanceRecord{}, recordErr(span, err)
	}

	date := models.DateOf(input.Date)
	var saved models.AttendanceRecord
	err = m.store.WithinDay(ctx, user.ID, date, func(tx store.DayTx) error {
		record, _, err := tx.Record(ctx)
		if err != nil {
			return err
		}
		saved, err = tx.Save(ctx, ApplyCorrection(record, input.Status, input.LoginTime, input.LogoutTime, input.Notes))
		return err
	})
	if err != nil {
		return models.AttendanceRecord{}, recordErr(span, err)
	}

	m.logger.Info("attendance corrected", "admin", input.Admin, "employee_id", user.EmployeeID, "date", models.FormatDate(date), "status", saved.Status)
	m.publish(ctx, events.Change{
		Type:       events.ChangeCorrection,
		UserID:     user.ID,
		EmployeeID: user.EmployeeID,
		Timestamp:  m.now().In(m.location),
		Record:     saved,
	})
	return saved, nil
}

// State reports the derived session state and today's record, if any.
func (m *Manager) State(ctx context.Context, employeeID string) (State, models.AttendanceRecord, error) {
	user, err := m.users.Resolve(ctx, employeeID)
	if err != nil {
		return "", models.AttendanceRecord{}, err
	}
	today := m.today()
	rows, err := m.store.Query(ctx, store.AttendanceFilter{UserID: user.ID, StartDate: today, EndDate: today})
	if err != nil {
		return "", models.AttendanceRecord{}, err
	}
	if len(rows) == 0 {
		return StateLoggedOut, models.AttendanceRecord{UserID: user.ID, Date: today}, nil
	}
	return StateOf(rows[0].AttendanceRecord), rows[0].AttendanceRecord, nil
}

// LoggedIn lists today's open sessions. The ledger stays the source of truth;
// this view is only advisory.
func (m *Manager) LoggedIn(ctx context.Context) ([]store.AttendanceRow, error) {
	return m.store.ListOpen(ctx, m.today())
}

func (m *Manager) today() time.Time {
	return models.DateOf(m.now().In(m.location))
}

// clockOn reads the clock inside the day lock. A read that has crossed
// midnight is pinned to the last second of date.
func (m *Manager) clockOn(date time.Time) time.Time {
	at := m.now().In(m.location)
	if !models.DateOf(at).Equal(date) {
		return time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, m.location)
	}
	return at
}

func (m *Manager) isHoliday(ctx context.Context, date time.Time) (bool, error) {
	if m.holidays == nil {
		return false, nil
	}
	return m.holidays.IsHoliday(ctx, date)
}

func (m *Manager) publish(ctx context.Context, change events.Change) {
	if err := m.publisher.Publish(ctx, change); err != nil {
		m.logger.Warn("publish attendance change failed", "employee_id", change.EmployeeID, "type", change.Type, "error", err)
	}
}

func (m *Manager) start(ctx context.Context, name, employeeID string, method models.Method) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("employee_id", employeeID),
		attribute.String("session.method", string(method)),
	))
}

func recordErr(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	kind := store.Kind(err)
	span.SetAttributes(attribute.String("error.kind", string(kind)))
	if kind != store.KindConflict && !errors.Is(err, store.ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
