package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qrlogin/attendance-service/internal/calendar"
	"qrlogin/attendance-service/internal/credential"
	"qrlogin/attendance-service/internal/directory"
	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/report"
	"qrlogin/attendance-service/internal/scan"
	"qrlogin/attendance-service/internal/session"
	"qrlogin/attendance-service/internal/store"
)

type fakeSessions struct {
	loginFn    func(ctx context.Context, employeeID, password string) (session.Result, error)
	logoutFn   func(ctx context.Context, employeeID, password string) (session.Result, error)
	forceFn    func(ctx context.Context, admin, employeeID string) (session.Result, error)
	leaveFn    func(ctx context.Context, admin, employeeID string, start, end time.Time, status models.Status, notes string) (session.LeaveResult, error)
	correctFn  func(ctx context.Context, input session.CorrectInput) (models.AttendanceRecord, error)
	stateFn    func(ctx context.Context, employeeID string) (session.State, models.AttendanceRecord, error)
	loggedInFn func(ctx context.Context) ([]store.AttendanceRow, error)
}

func (f fakeSessions) ManualLogin(ctx context.Context, employeeID, password string) (session.Result, error) {
	if f.loginFn == nil {
		return session.Result{}, nil
	}
	return f.loginFn(ctx, employeeID, password)
}

func (f fakeSessions) ManualLogout(ctx context.Context, employeeID, password string) (session.Result, error) {
	if f.logoutFn == nil {
		return session.Result{}, nil
	}
	return f.logoutFn(ctx, employeeID, password)
}

func (f fakeSessions) ForceLogout(ctx context.Context, admin, employeeID string) (session.Result, error) {
	if f.forceFn == nil {
		return session.Result{}, nil
	}
	return f.forceFn(ctx, admin, employeeID)
}

func (f fakeSessions) MarkLeave(ctx context.Context, admin, employeeID string, start, end time.Time, status models.Status, notes string) (session.LeaveResult, error) {
	if f.leaveFn == nil {
		return session.LeaveResult{}, nil
	}
	return f.leaveFn(ctx, admin, employeeID, start, end, status, notes)
}

func (f fakeSessions) Correct(ctx context.Context, input session.CorrectInput) (models.AttendanceRecord, error) {
	if f.correctFn == nil {
		return models.AttendanceRecord{}, nil
	}
	return f.correctFn(ctx, input)
}

func (f fakeSessions) State(ctx context.Context, employeeID string) (session.State, models.AttendanceRecord, error) {
	if f.stateFn == nil {
		return session.StateLoggedOut, models.AttendanceRecord{}, nil
	}
	return f.stateFn(ctx, employeeID)
}

func (f fakeSessions) LoggedIn(ctx context.Context) ([]store.AttendanceRow, error) {
	if f.loggedInFn == nil {
		return nil, nil
	}
	return f.loggedInFn(ctx)
}

type fakeDirectory struct {
	nextFn     func(ctx context.Context, prefix string) (string, error)
	registerFn func(ctx context.Context, input directory.RegisterInput) (models.User, error)
	listFn     func(ctx context.Context) ([]models.User, error)
	resetFn    func(ctx context.Context, employeeID, newPassword string) error
	activeFn   func(ctx context.Context, employeeID string, active bool) (models.User, error)
	deleteFn   func(ctx context.Context, employeeID string) error
}

func (f fakeDirectory) NextEmployeeID(ctx context.Context, prefix string) (string, error) {
	if f.nextFn == nil {
		return "", nil
	}
	return f.nextFn(ctx, prefix)
}

func (f fakeDirectory) Register(ctx context.Context, input directory.RegisterInput) (models.User, error) {
	if f.registerFn == nil {
		return models.User{}, nil
	}
	return f.registerFn(ctx, input)
}

func (f fakeDirectory) List(ctx context.Context) ([]models.User, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx)
}

func (f fakeDirectory) ResetPassword(ctx context.Context, employeeID, newPassword string) error {
	if f.resetFn == nil {
		return nil
	}
	return f.resetFn(ctx, employeeID, newPassword)
}

func (f fakeDirectory) SetActive(ctx context.Context, employeeID string, active bool) (models.User, error) {
	if f.activeFn == nil {
		return models.User{}, nil
	}
	return f.activeFn(ctx, employeeID, active)
}

func (f fakeDirectory) Delete(ctx context.Context, employeeID string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, employeeID)
}

type fakeReports struct {
	summaryFn  func(ctx context.Context, employeeID string, month time.Month, year int) (report.Summary, error)
	rangeFn    func(ctx context.Context, employeeID string, from, to time.Time) (report.Summary, error)
	overviewFn func(ctx context.Context, from, to time.Time) ([]report.Summary, error)
	queryFn    func(ctx context.Context, input report.QueryInput) ([]store.AttendanceRow, error)
	countsFn   func(ctx context.Context, employeeID string, month time.Month, year int) (map[models.Status]int, error)
	historyFn  func(ctx context.Context, input report.QueryInput) ([]store.HistoryRow, error)
}

func (f fakeReports) Summary(ctx context.Context, employeeID string, month time.Month, year int) (report.Summary, error) {
	if f.summaryFn == nil {
		return report.Summary{}, nil
	}
	return f.summaryFn(ctx, employeeID, month, year)
}

func (f fakeReports) Range(ctx context.Context, employeeID string, from, to time.Time) (report.Summary, error) {
	if f.rangeFn == nil {
		return report.Summary{}, nil
	}
	return f.rangeFn(ctx, employeeID, from, to)
}

func (f fakeReports) Overview(ctx context.Context, from, to time.Time) ([]report.Summary, error) {
	if f.overviewFn == nil {
		return nil, nil
	}
	return f.overviewFn(ctx, from, to)
}

func (f fakeReports) Query(ctx context.Context, input report.QueryInput) ([]store.AttendanceRow, error) {
	if f.queryFn == nil {
		return nil, nil
	}
	return f.queryFn(ctx, input)
}

func (f fakeReports) MonthlyStatusCounts(ctx context.Context, employeeID string, month time.Month, year int) (map[models.Status]int, error) {
	if f.countsFn == nil {
		return nil, nil
	}
	return f.countsFn(ctx, employeeID, month, year)
}

func (f fakeReports) History(ctx context.Context, input report.QueryInput) ([]store.HistoryRow, error) {
	if f.historyFn == nil {
		return nil, nil
	}
	return f.historyFn(ctx, input)
}

type fakeCalendar struct {
	addFn     func(ctx context.Context, input calendar.AddInput) (models.CalendarEvent, error)
	deleteFn  func(ctx context.Context, eventID string) error
	betweenFn func(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error)
	monthFn   func(ctx context.Context, month time.Month, year int) ([]models.CalendarEvent, error)
}

func (f fakeCalendar) Add(ctx context.Context, input calendar.AddInput) (models.CalendarEvent, error) {
	if f.addFn == nil {
		return models.CalendarEvent{}, nil
	}
	return f.addFn(ctx, input)
}

func (f fakeCalendar) Delete(ctx context.Context, eventID string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, eventID)
}

func (f fakeCalendar) Between(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error) {
	if f.betweenFn == nil {
		return nil, nil
	}
	return f.betweenFn(ctx, from, to)
}

func (f fakeCalendar) ForMonth(ctx context.Context, month time.Month, year int) ([]models.CalendarEvent, error) {
	if f.monthFn == nil {
		return nil, nil
	}
	return f.monthFn(ctx, month, year)
}

type fakeScanner struct {
	observeFn func(ctx context.Context, read scan.Read) (scan.Outcome, error)
}

func (f fakeScanner) Observe(ctx context.Context, read scan.Read) (scan.Outcome, error) {
	if f.observeFn == nil {
		return scan.Outcome{Reason: scan.ReasonNoRead}, nil
	}
	return f.observeFn(ctx, read)
}

type fakeAdmin struct {
	user     string
	password string
	err      error
}

func (f fakeAdmin) Verify(user, password string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return user == f.user && password == f.password, nil
}

const (
	testAdminUser     = "admin"
	testAdminPassword = "admin-secret"
)

type deps struct {
	sessions  fakeSessions
	directory fakeDirectory
	reports   fakeReports
	calendar  fakeCalendar
	scanner   fakeScanner
	admin     AdminVerifier
}

func (d deps) handler() http.Handler {
	now := func() time.Time { return time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC) }
	admin := d.admin
	if admin == nil {
		admin = fakeAdmin{user: testAdminUser, password: testAdminPassword}
	}
	return NewHandler(d.sessions, d.directory, d.reports, d.calendar, d.scanner, Options{Admin: admin, Now: now}).Routes()
}

// serve sends the request with the test admin credentials.
func serve(h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	return serveAs(h, testAdminUser, testAdminPassword, method, target, body)
}

// serveAs sends the request with the given basic auth credentials, or none
// when user is empty.
func serveAs(h http.Handler, user, password, method, target string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decodeErrorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return payload.Error.Code
}

func TestRegisterSuccess(t *testing.T) {
	var got directory.RegisterInput
	h := deps{directory: fakeDirectory{
		registerFn: func(ctx context.Context, input directory.RegisterInput) (models.User, error) {
			got = input
			return models.User{ID: "u-1", EmployeeID: "ALLY001", Name: input.Name, Email: input.Email, Active: true}, nil
		},
	}}.handler()

	resp := serve(h, http.MethodPost, "/api/users", map[string]string{
		"name":     " Ana ",
		"email":    "ana@example.com",
		"password": "secret1",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	if got.Name != "Ana" || got.Password != "secret1" {
		t.Fatalf("unexpected register input %+v", got)
	}
	if strings.Contains(resp.Body.String(), "password") || strings.Contains(resp.Body.String(), "salt") {
		t.Fatalf("credential material leaked: %s", resp.Body.String())
	}
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	h := deps{}.handler()
	resp := serve(h, http.MethodPost, "/api/users", map[string]string{"name": "Ana", "role": "admin"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "invalid_json" {
		t.Fatalf("expected invalid_json, got %s", code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := deps{directory: fakeDirectory{
		registerFn: func(ctx context.Context, input directory.RegisterInput) (models.User, error) {
			return models.User{}, store.ErrDuplicateEmail
		},
	}}.handler()
	resp := serve(h, http.MethodPost, "/api/users", map[string]string{"name": "Ana", "email": "ana@example.com", "password": "secret1"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestManualLoginErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad password", store.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"corrupt credential", fmt.Errorf("verify: %w", credential.ErrCorrupt), http.StatusUnauthorized, "invalid_credentials"},
		{"inactive", store.ErrInactiveUser, http.StatusForbidden, "inactive_user"},
		{"already in", store.ErrAlreadyLoggedIn, http.StatusConflict, "state_conflict"},
		{"busy", store.ErrBusy, http.StatusServiceUnavailable, "busy"},
		{"internal", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := deps{sessions: fakeSessions{
				loginFn: func(ctx context.Context, employeeID, password string) (session.Result, error) {
					return session.Result{}, tc.err
				},
			}}.handler()
			resp := serve(h, http.MethodPost, "/api/sessions/login", map[string]string{"employee_id": "ALLY001", "password": "x"})
			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
			if code := decodeErrorCode(t, resp); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}
}

func TestManualLoginRequiresFields(t *testing.T) {
	h := deps{}.handler()
	resp := serve(h, http.MethodPost, "/api/sessions/login", map[string]string{"employee_id": "ALLY001"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %s", code)
	}
}

func TestManualLogoutSuccess(t *testing.T) {
	logout := models.NewTimeOfDay(17, 0, 0)
	h := deps{sessions: fakeSessions{
		logoutFn: func(ctx context.Context, employeeID, password string) (session.Result, error) {
			return session.Result{
				Action:  models.ActionLogout,
				State:   session.StateLoggedOut,
				Record:  models.AttendanceRecord{Status: models.StatusPresent, LogoutTime: &logout, HoursWorked: 8},
				Changed: true,
			}, nil
		},
	}}.handler()
	resp := serve(h, http.MethodPost, "/api/sessions/logout", map[string]string{"employee_id": "ALLY001", "password": "secret1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload struct {
		State  session.State `json:"state"`
		Record struct {
			LogoutTime  string  `json:"logout_time"`
			HoursWorked float64 `json:"hours_worked"`
		} `json:"record"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.State != session.StateLoggedOut || payload.Record.LogoutTime != "17:00:00" || payload.Record.HoursWorked != 8 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestForceLogoutNoop(t *testing.T) {
	h := deps{sessions: fakeSessions{
		forceFn: func(ctx context.Context, admin, employeeID string) (session.Result, error) {
			if admin != testAdminUser {
				t.Fatalf("expected admin %q, got %q", testAdminUser, admin)
			}
			return session.Result{State: session.StateLoggedOut, Message: "user is already logged out"}, nil
		},
	}}.handler()
	resp := serve(h, http.MethodPost, "/api/sessions/force-logout", map[string]string{"employee_id": "ALLY001"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "already logged out") {
		t.Fatalf("expected informational message, got %s", resp.Body.String())
	}
}

func TestStateRequiresEmployeeID(t *testing.T) {
	h := deps{}.handler()
	resp := serve(h, http.MethodGet, "/api/sessions/state", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestStateNotFound(t *testing.T) {
	h := deps{sessions: fakeSessions{
		stateFn: func(ctx context.Context, employeeID string) (session.State, models.AttendanceRecord, error) {
			return "", models.AttendanceRecord{}, store.ErrUserNotFound
		},
	}}.handler()
	resp := serve(h, http.MethodGet, "/api/sessions/state?employee_id=ALLY404", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestScanFired(t *testing.T) {
	var got scan.Read
	h := deps{scanner: fakeScanner{
		observeFn: func(ctx context.Context, read scan.Read) (scan.Outcome, error) {
			got = read
			return scan.Outcome{
				Reason:     scan.ReasonFired,
				EmployeeID: "ALLY001",
				Result:     session.Result{Action: models.ActionLogin, State: session.StateLoggedIn, Changed: true},
			}, nil
		},
	}}.handler()
	resp := serve(h, http.MethodPost, "/api/scans", map[string]string{"payload": ` {"employee_id":"ALLY001"} `})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.Identifier != `{"employee_id":"ALLY001"}` || got.At.IsZero() {
		t.Fatalf("unexpected read %+v", got)
	}
	var payload scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Reason != scan.ReasonFired || payload.Result == nil || payload.Result.State != session.StateLoggedIn {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestScanCooldownOmitsResult(t *testing.T) {
	h := deps{scanner: fakeScanner{
		observeFn: func(ctx context.Context, read scan.Read) (scan.Outcome, error) {
			return scan.Outcome{Reason: scan.ReasonCooldown, EmployeeID: "ALLY001"}, nil
		},
	}}.handler()
	resp := serve(h, http.MethodPost, "/api/scans", map[string]string{"payload": "ALLY001"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), `"result"`) {
		t.Fatalf("cooldown must not carry a result: %s", resp.Body.String())
	}
}

func TestScanMalformedBadge(t *testing.T) {
	h := deps{scanner: fakeScanner{
		observeFn: func(ctx context.Context, read scan.Read) (scan.Outcome, error) {
			return scan.Outcome{}, store.ErrInvalidIdentifier
		},
	}}.handler()
	resp := serve(h, http.MethodPost, "/api/scans", map[string]string{"payload": "{oops"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestMarkLeave(t *testing.T) {
	h := deps{sessions: fakeSessions{
		leaveFn: func(ctx context.Context, admin, employeeID string, start, end time.Time, status models.Status, notes string) (session.LeaveResult, error) {
			if status != models.StatusSickLeave || notes != "flu" {
				t.Fatalf("unexpected leave %s %q", status, notes)
			}
			var result session.LeaveResult
			for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
				result.Marked = append(result.Marked, date)
			}
			return result, nil
		},
	}}.handler()
	resp := serve(h, http.MethodPost, "/api/attendance/leave", map[string]string{
		"employee_id": "ALLY001",
		"start_date":  "2024-06-01",
		"end_date":    "2024-06-03",
		"status":      "Sick Leave",
		"notes":       "flu",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload leaveResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Marked) != 3 || payload.Marked[0] != "2024-06-01" || payload.Marked[2] != "2024-06-03" {
		t.Fatalf("unexpected marked dates %v", payload.Marked)
	}
}

func TestMarkLeaveBadDate(t *testing.T) {
	h := deps{}.handler()
	resp := serve(h, http.MethodPost, "/api/attendance/leave", map[string]string{
		"employee_id": "ALLY001",
		"start_date":  "06/01/2024",
		"end_date":    "2024-06-03",
		"status":      "Leave",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestMarkLeaveInvertedRange(t *testing.T) {
	h := deps{sessions: fakeSessions{
		leaveFn: func(ctx context.Context, admin, employeeID string, start, end time.Time, status models.Status, notes string) (session.LeaveResult, error) {
			return session.LeaveResult{}, store.ErrInvalidRange
		},
	}}.handler()
	resp := serve(h, http.MethodPost, "/api/attendance/leave", map[string]string{
		"employee_id": "ALLY001",
		"start_date":  "2024-06-05",
		"end_date":    "2024-06-01",
		"status":      "Leave",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCorrectPassesTimes(t *testing.T) {
	var got session.CorrectInput
	h := deps{sessions: fakeSessions{
		correctFn: func(ctx context.Context, input session.CorrectInput) (models.AttendanceRecord, error) {
			got = input
			return models.AttendanceRecord{Date: input.Date, Status: input.Status, HoursWorked: 8.5}, nil
		},
	}}.handler()
	resp := serve(h, http.MethodPost, "/api/attendance/correct", map[string]string{
		"employee_id": "ALLY001",
		"date":        "2024-06-04",
		"status":      "Present",
		"login_time":  "09:00:00",
		"logout_time": "17:30:00",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.Admin != testAdminUser {
		t.Fatalf("expected correction by %q, got %q", testAdminUser, got.Admin)
	}
	if got.LoginTime == nil || *got.LoginTime != models.NewTimeOfDay(9, 0, 0) {
		t.Fatalf("unexpected login time %v", got.LoginTime)
	}
	if got.LogoutTime == nil || *got.LogoutTime != models.NewTimeOfDay(17, 30, 0) {
		t.Fatalf("unexpected logout time %v", got.LogoutTime)
	}
	if !strings.Contains(resp.Body.String(), `"date":"2024-06-04"`) {
		t.Fatalf("expected date in body, got %s", resp.Body.String())
	}
}

func TestAttendanceQueryIncludesJoinedColumns(t *testing.T) {
	var got report.QueryInput
	h := deps{reports: fakeReports{
		queryFn: func(ctx context.Context, input report.QueryInput) ([]store.AttendanceRow, error) {
			got = input
			return []store.AttendanceRow{{
				AttendanceRecord: models.AttendanceRecord{UserID: "u-1", Date: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), Status: models.StatusPresent},
				EmployeeID:       "ALLY001",
				UserName:         "Ana",
			}}, nil
		},
	}}.handler()
	resp := serve(h, http.MethodGet, "/api/attendance?employee_id=ALLY001&from=2024-06-01", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.EmployeeID != "ALLY001" || models.FormatDate(got.From) != "2024-06-01" || !got.To.IsZero() {
		t.Fatalf("unexpected query input %+v", got)
	}
	body := resp.Body.String()
	for _, want := range []string{`"employee_id":"ALLY001"`, `"user_name":"Ana"`, `"date":"2024-06-03"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}
}

func TestHistoryBadDate(t *testing.T) {
	h := deps{}.handler()
	resp := serve(h, http.MethodGet, "/api/history?to=yesterday", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestSummaryParams(t *testing.T) {
	h := deps{reports: fakeReports{
		summaryFn: func(ctx context.Context, employeeID string, month time.Month, year int) (report.Summary, error) {
			return report.Summary{EmployeeID: employeeID, TotalWorkingDays: 19, PresentDays: 3, AttendancePercentage: 15.79}, nil
		},
	}}.handler()

	resp := serve(h, http.MethodGet, "/api/reports/summary?employee_id=ALLY001&month=13&year=2024", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}

	resp = serve(h, http.MethodGet, "/api/reports/summary?employee_id=ALLY001&month=6&year=2024", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var summary report.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if summary.TotalWorkingDays != 19 || summary.AttendancePercentage != 15.79 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRangeRequiresBounds(t *testing.T) {
	h := deps{}.handler()
	resp := serve(h, http.MethodGet, "/api/reports/range?employee_id=ALLY001&from=2024-06-01", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestOverview(t *testing.T) {
	h := deps{reports: fakeReports{
		overviewFn: func(ctx context.Context, from, to time.Time) ([]report.Summary, error) {
			return []report.Summary{{EmployeeID: "ALLY001"}, {EmployeeID: "ALLY002"}}, nil
		},
	}}.handler()
	resp := serve(h, http.MethodGet, "/api/reports/overview?from=2024-06-01&to=2024-06-30", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var summaries []report.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
}

func TestCalendarListByMonthAndRange(t *testing.T) {
	var monthCalls, rangeCalls int
	h := deps{calendar: fakeCalendar{
		monthFn: func(ctx context.Context, month time.Month, year int) ([]models.CalendarEvent, error) {
			monthCalls++
			return nil, nil
		},
		betweenFn: func(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error) {
			rangeCalls++
			return nil, nil
		},
	}}.handler()

	if resp := serve(h, http.MethodGet, "/api/calendar?month=6&year=2024", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodGet, "/api/calendar?from=2024-06-01&to=2024-06-07", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if monthCalls != 1 || rangeCalls != 1 {
		t.Fatalf("unexpected calls month=%d range=%d", monthCalls, rangeCalls)
	}
}

func TestCalendarCreateAndDelete(t *testing.T) {
	var deleted string
	h := deps{calendar: fakeCalendar{
		addFn: func(ctx context.Context, input calendar.AddInput) (models.CalendarEvent, error) {
			return models.CalendarEvent{EventID: "e-1", Date: input.Date, Title: input.Title, Category: input.Category, Recurrence: input.Recurrence}, nil
		},
		deleteFn: func(ctx context.Context, eventID string) error {
			deleted = eventID
			if eventID != "e-1" {
				return store.ErrEventNotFound
			}
			return nil
		},
	}}.handler()

	resp := serve(h, http.MethodPost, "/api/calendar", map[string]string{
		"date":       "2024-06-17",
		"title":      "Eid",
		"category":   "Holiday",
		"recurrence": "FREQ=YEARLY",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}

	if resp := serve(h, http.MethodDelete, "/api/calendar/e-1", nil); resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
	if deleted != "e-1" {
		t.Fatalf("expected e-1 deleted, got %q", deleted)
	}
	resp = serve(h, http.MethodDelete, "/api/calendar/e-2", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "event_not_found" {
		t.Fatalf("expected event_not_found, got %s", code)
	}
}

func TestUserActions(t *testing.T) {
	var reset, deleted string
	var active *bool
	h := deps{directory: fakeDirectory{
		resetFn: func(ctx context.Context, employeeID, newPassword string) error {
			reset = employeeID + ":" + newPassword
			return nil
		},
		activeFn: func(ctx context.Context, employeeID string, value bool) (models.User, error) {
			active = &value
			return models.User{EmployeeID: employeeID, Active: value}, nil
		},
		deleteFn: func(ctx context.Context, employeeID string) error {
			deleted = employeeID
			return nil
		},
	}}.handler()

	if resp := serve(h, http.MethodPost, "/api/users/ALLY001/password", map[string]string{"password": "newpass"}); resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPost, "/api/users/ALLY001/active", map[string]bool{"active": false}); resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPost, "/api/users/ALLY001/active", map[string]string{}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without active, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodDelete, "/api/users/ALLY001", nil); resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPost, "/api/users/ALLY001/promote", map[string]string{}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}

	if reset != "ALLY001:newpass" || active == nil || *active || deleted != "ALLY001" {
		t.Fatalf("unexpected calls reset=%q active=%v deleted=%q", reset, active, deleted)
	}
}

func TestNextEmployeeID(t *testing.T) {
	h := deps{directory: fakeDirectory{
		nextFn: func(ctx context.Context, prefix string) (string, error) {
			return prefix + "003", nil
		},
	}}.handler()
	resp := serve(h, http.MethodGet, "/api/users/next-id?prefix=ALLY", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "ALLY003") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := deps{}.handler()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/login"},
		{http.MethodPost, "/api/sessions/state"},
		{http.MethodPut, "/api/users"},
		{http.MethodGet, "/api/attendance/leave"},
		{http.MethodPost, "/healthz"},
	} {
		resp := serve(h, tc.method, tc.path, nil)
		if resp.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, resp.Code)
		}
	}
}

func TestAdminRoutesRequireCredentials(t *testing.T) {
	called := false
	h := deps{sessions: fakeSessions{
		forceFn: func(ctx context.Context, admin, employeeID string) (session.Result, error) {
			called = true
			return session.Result{}, nil
		},
	}}.handler()
	cases := []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodGet, "/api/users", nil},
		{http.MethodPost, "/api/users", map[string]string{"name": "Ana"}},
		{http.MethodGet, "/api/users/next-id", nil},
		{http.MethodDelete, "/api/users/ALLY001", nil},
		{http.MethodPost, "/api/users/ALLY001/password", map[string]string{"password": "newpass"}},
		{http.MethodPost, "/api/users/ALLY001/active", map[string]bool{"active": false}},
		{http.MethodPost, "/api/sessions/force-logout", map[string]string{"employee_id": "ALLY001"}},
		{http.MethodPost, "/api/attendance/leave", map[string]string{"employee_id": "ALLY001"}},
		{http.MethodPost, "/api/attendance/correct", map[string]string{"employee_id": "ALLY001"}},
		{http.MethodPost, "/api/calendar", map[string]string{"title": "Holiday"}},
		{http.MethodDelete, "/api/calendar/e-1", nil},
	}
	for _, tc := range cases {
		for _, creds := range []struct{ user, password string }{
			{"", ""},
			{testAdminUser, "wrong"},
			{"intruder", testAdminPassword},
		} {
			resp := serveAs(h, creds.user, creds.password, tc.method, tc.path, tc.body)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("%s %s as %q: expected 401, got %d", tc.method, tc.path, creds.user, resp.Code)
			}
			if code := decodeErrorCode(t, resp); code != "unauthorized" {
				t.Fatalf("%s %s: expected unauthorized, got %s", tc.method, tc.path, code)
			}
		}
	}
	if called {
		t.Fatalf("force logout reached the session manager without credentials")
	}
}

func TestPublicRoutesSkipAdminCheck(t *testing.T) {
	h := deps{}.handler()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/healthz"},
		{http.MethodGet, "/api/sessions/open"},
		{http.MethodGet, "/api/calendar?month=6&year=2024"},
	} {
		if resp := serveAs(h, "", "", tc.method, tc.path, nil); resp.Code != http.StatusOK {
			t.Fatalf("%s %s: expected 200, got %d", tc.method, tc.path, resp.Code)
		}
	}
	resp := serveAs(h, "", "", http.MethodPost, "/api/sessions/login", map[string]string{"employee_id": "ALLY001", "password": "secret1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("manual login must not need admin credentials, got %d", resp.Code)
	}
}

func TestAdminRoutesWithoutConfiguration(t *testing.T) {
	h := NewHandler(fakeSessions{}, fakeDirectory{}, fakeReports{}, fakeCalendar{}, fakeScanner{}, Options{}).Routes()
	resp := serve(h, http.MethodGet, "/api/users", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no admin configured, got %d", resp.Code)
	}
}

func TestAdminVerifierFailure(t *testing.T) {
	h := deps{admin: fakeAdmin{err: errors.New("corrupt secret")}}.handler()
	resp := serve(h, http.MethodGet, "/api/users", nil)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestHandlerAcceptsAdminAccount(t *testing.T) {
	hasher := credential.NewHasher(credential.MinIterations)
	hash, salt, err := hasher.Hash(testAdminPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	account, err := credential.ParseAdminAccount(testAdminUser, credential.EncodeSecret(hash, salt), hasher)
	if err != nil {
		t.Fatalf("parse admin account: %v", err)
	}
	h := deps{admin: account}.handler()
	if resp := serve(h, http.MethodGet, "/api/users", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := serveAs(h, testAdminUser, "nope", http.MethodGet, "/api/users", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
