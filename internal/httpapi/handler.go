package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qrlogin/attendance-service/internal/calendar"
	"qrlogin/attendance-service/internal/directory"
	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/report"
	"qrlogin/attendance-service/internal/scan"
	"qrlogin/attendance-service/internal/session"
	"qrlogin/attendance-service/internal/store"

	"github.com/go-playground/validator/v10"
)

type Sessions interface {
	ManualLogin(ctx context.Context, employeeID, password string) (session.Result, error)
	ManualLogout(ctx context.Context, employeeID, password string) (session.Result, error)
	ForceLogout(ctx context.Context, admin, employeeID string) (session.Result, error)
	MarkLeave(ctx context.Context, admin, employeeID string, start, end time.Time, status models.Status, notes string) (session.LeaveResult, error)
	Correct(ctx context.Context, input session.CorrectInput) (models.AttendanceRecord, error)
	State(ctx context.Context, employeeID string) (session.State, models.AttendanceRecord, error)
	LoggedIn(ctx context.Context) ([]store.AttendanceRow, error)
}

type Directory interface {
	NextEmployeeID(ctx context.Context, prefix string) (string, error)
	Register(ctx context.Context, input directory.RegisterInput) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
	ResetPassword(ctx context.Context, employeeID, newPassword string) error
	SetActive(ctx context.Context, employeeID string, active bool) (models.User, error)
	Delete(ctx context.Context, employeeID string) error
}

type Reports interface {
	Summary(ctx context.Context, employeeID string, month time.Month, year int) (report.Summary, error)
	Range(ctx context.Context, employeeID string, from, to time.Time) (report.Summary, error)
	Overview(ctx context.Context, from, to time.Time) ([]report.Summary, error)
	Query(ctx context.Context, input report.QueryInput) ([]store.AttendanceRow, error)
	MonthlyStatusCounts(ctx context.Context, employeeID string, month time.Month, year int) (map[models.Status]int, error)
	History(ctx context.Context, input report.QueryInput) ([]store.HistoryRow, error)
}

type Calendar interface {
	Add(ctx context.Context, input calendar.AddInput) (models.CalendarEvent, error)
	Delete(ctx context.Context, eventID string) error
	Between(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error)
	ForMonth(ctx context.Context, month time.Month, year int) ([]models.CalendarEvent, error)
}

// Scanner accepts reads from remote kiosks.
type Scanner interface {
	Observe(ctx context.Context, read scan.Read) (scan.Outcome, error)
}

type Handler struct {
	sessions  Sessions
	directory Directory
	reports   Reports
	calendar  Calendar
	scanner   Scanner
	admin     AdminVerifier
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
}

type Options struct {
	// Admin verifies credentials on the admin routes. When nil those routes
	// always answer 401.
	Admin  AdminVerifier
	Logger *slog.Logger
	Now    func() time.Time
}

func NewHandler(sessions Sessions, dir Directory, reports Reports, cal Calendar, scanner Scanner, options Options) *Handler {
	h := &Handler{
		sessions:  sessions,
		directory: dir,
		reports:   reports,
		calendar:  cal,
		scanner:   scanner,
		admin:     options.Admin,
		logger:    options.Logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       options.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/users", h.requireAdmin(h.handleUsers))
	mux.HandleFunc("/api/users/next-id", h.requireAdmin(h.handleNextEmployeeID))
	mux.HandleFunc("/api/users/", h.requireAdmin(h.handleUserActions))
	mux.HandleFunc("/api/sessions/login", h.handleManualLogin)
	mux.HandleFunc("/api/sessions/logout", h.handleManualLogout)
	mux.HandleFunc("/api/sessions/force-logout", h.requireAdmin(h.handleForceLogout))
	mux.HandleFunc("/api/sessions/state", h.handleState)
	mux.HandleFunc("/api/sessions/open", h.handleOpenSessions)
	mux.HandleFunc("/api/scans", h.handleScan)
	mux.HandleFunc("/api/attendance", h.handleAttendance)
	mux.HandleFunc("/api/attendance/leave", h.requireAdmin(h.handleLeave))
	mux.HandleFunc("/api/attendance/correct", h.requireAdmin(h.handleCorrect))
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/reports/summary", h.handleSummary)
	mux.HandleFunc("/api/reports/range", h.handleRange)
	mux.HandleFunc("/api/reports/overview", h.handleOverview)
	mux.HandleFunc("/api/reports/status-counts", h.handleStatusCounts)
	mux.HandleFunc("/api/calendar", h.requireAdmin(h.handleCalendar, http.MethodPost))
	mux.HandleFunc("/api/calendar/", h.requireAdmin(h.handleCalendarEvent))
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type registerRequest struct {
	Prefix   string `json:"prefix"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := h.directory.List(r.Context())
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		var req registerRequest
		if !h.decode(w, r, &req) {
			return
		}
		user, err := h.directory.Register(r.Context(), directory.RegisterInput{
			Prefix:   strings.TrimSpace(req.Prefix),
			Name:     strings.TrimSpace(req.Name),
			Email:    strings.TrimSpace(req.Email),
			Phone:    strings.TrimSpace(req.Phone),
			Password: req.Password,
		})
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleNextEmployeeID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := h.directory.NextEmployeeID(r.Context(), strings.TrimSpace(r.URL.Query().Get("prefix")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"employee_id": id})
}

type passwordRequest struct {
	Password string `json:"password" validate:"required"`
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// handleUserActions serves /api/users/{employee_id} and
// /api/users/{employee_id}/{password|active}.
func (h *Handler) handleUserActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	employeeID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.directory.Delete(r.Context(), employeeID); err != nil {
			h.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "password":
		var req passwordRequest
		if !h.decode(w, r, &req) {
			return
		}
		if err := h.directory.ResetPassword(r.Context(), employeeID, req.Password); err != nil {
			h.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "active":
		var req activeRequest
		if !h.decode(w, r, &req) {
			return
		}
		user, err := h.directory.SetActive(r.Context(), employeeID, *req.Active)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type credentialRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type employeeRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
}

func (h *Handler) handleManualLogin(w http.ResponseWriter, r *http.Request) {
	h.handleCredentialAction(w, r, h.sessions.ManualLogin)
}

func (h *Handler) handleManualLogout(w http.ResponseWriter, r *http.Request) {
	h.handleCredentialAction(w, r, h.sessions.ManualLogout)
}

func (h *Handler) handleCredentialAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string, string) (session.Result, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req credentialRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := action(r.Context(), strings.TrimSpace(req.EmployeeID), req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req employeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.sessions.ForceLogout(r.Context(), adminFromContext(r.Context()), strings.TrimSpace(req.EmployeeID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type stateResponse struct {
	EmployeeID string                  `json:"employee_id"`
	State      session.State           `json:"state"`
	Record     models.AttendanceRecord `json:"record"`
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "employee_id is required")
		return
	}
	state, record, err := h.sessions.State(r.Context(), employeeID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{EmployeeID: employeeID, State: state, Record: record})
}

func (h *Handler) handleOpenSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rows, err := h.sessions.LoggedIn(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type scanRequest struct {
	Payload string `json:"payload"`
}

type scanResponse struct {
	Reason     scan.Reason     `json:"reason"`
	EmployeeID string          `json:"employee_id,omitempty"`
	Result     *session.Result `json:"result,omitempty"`
}

// handleScan feeds one decoded read from a remote kiosk through the
// dispatcher, so cooldown applies across kiosks sharing this service.
func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req scanRequest
	if !h.decode(w, r, &req) {
		return
	}
	outcome, err := h.scanner.Observe(r.Context(), scan.Read{Identifier: strings.TrimSpace(req.Payload), At: h.now()})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := scanResponse{Reason: outcome.Reason, EmployeeID: outcome.EmployeeID}
	if outcome.Reason == scan.ReasonFired {
		resp.Result = &outcome.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

type leaveRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	StartDate  string `json:"start_date" validate:"required"`
	EndDate    string `json:"end_date" validate:"required"`
	Status     string `json:"status" validate:"required"`
	Notes      string `json:"notes" validate:"max=500"`
}

type leaveResponse struct {
	Marked  []string `json:"marked"`
	Skipped []string `json:"skipped"`
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req leaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "start_date must be YYYY-MM-DD")
		return
	}
	end, err := models.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "end_date must be YYYY-MM-DD")
		return
	}
	result, err := h.sessions.MarkLeave(r.Context(), adminFromContext(r.Context()), strings.TrimSpace(req.EmployeeID), start, end, models.Status(req.Status), req.Notes)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaveResponse{Marked: formatDates(result.Marked), Skipped: formatDates(result.Skipped)})
}

type correctRequest struct {
	EmployeeID string            `json:"employee_id" validate:"required"`
	Date       string            `json:"date" validate:"required"`
	Status     string            `json:"status" validate:"required"`
	LoginTime  *models.TimeOfDay `json:"login_time"`
	LogoutTime *models.TimeOfDay `json:"logout_time"`
	Notes      string            `json:"notes" validate:"max=500"`
}

func (h *Handler) handleCorrect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req correctRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	record, err := h.sessions.Correct(r.Context(), session.CorrectInput{
		Admin:      adminFromContext(r.Context()),
		EmployeeID: strings.TrimSpace(req.EmployeeID),
		Date:       date,
		Status:     models.Status(req.Status),
		LoginTime:  req.LoginTime,
		LogoutTime: req.LogoutTime,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleAttendance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	input, ok := queryInput(w, r)
	if !ok {
		return
	}
	rows, err := h.reports.Query(r.Context(), input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	input, ok := queryInput(w, r)
	if !ok {
		return
	}
	rows, err := h.reports.History(r.Context(), input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "employee_id is required")
		return
	}
	month, year, ok := monthParams(w, r)
	if !ok {
		return
	}
	summary, err := h.reports.Summary(r.Context(), employeeID, month, year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleStatusCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "employee_id is required")
		return
	}
	month, year, ok := monthParams(w, r)
	if !ok {
		return
	}
	counts, err := h.reports.MonthlyStatusCounts(r.Context(), employeeID, month, year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) handleRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "employee_id is required")
		return
	}
	from, to, ok := requiredRange(w, r)
	if !ok {
		return
	}
	summary, err := h.reports.Range(r.Context(), employeeID, from, to)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	from, to, ok := requiredRange(w, r)
	if !ok {
		return
	}
	summaries, err := h.reports.Overview(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

type calendarRequest struct {
	Date       string `json:"date" validate:"required"`
	Title      string `json:"title" validate:"required,max=200"`
	Category   string `json:"category" validate:"required"`
	Recurrence string `json:"recurrence"`
}

// handleCalendar lists events by month/year or by an explicit from/to range,
// and creates events on POST.
func (h *Handler) handleCalendar(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var (
			events []models.CalendarEvent
			err    error
		)
		if r.URL.Query().Get("month") != "" {
			month, year, ok := monthParams(w, r)
			if !ok {
				return
			}
			events, err = h.calendar.ForMonth(r.Context(), month, year)
		} else {
			from, to, ok := requiredRange(w, r)
			if !ok {
				return
			}
			events, err = h.calendar.Between(r.Context(), from, to)
		}
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	case http.MethodPost:
		var req calendarRequest
		if !h.decode(w, r, &req) {
			return
		}
		date, err := models.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
		event, err := h.calendar.Add(r.Context(), calendar.AddInput{
			Date:       date,
			Title:      strings.TrimSpace(req.Title),
			Category:   models.Category(req.Category),
			Recurrence: strings.TrimSpace(req.Recurrence),
		})
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, event)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCalendarEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	eventID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/calendar/"), "/")
	if eventID == "" || strings.Contains(eventID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.calendar.Delete(r.Context(), eventID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into target and runs its validate tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", describeValidation(err))
		return false
	}
	return true
}

func queryInput(w http.ResponseWriter, r *http.Request) (report.QueryInput, bool) {
	input := report.QueryInput{EmployeeID: strings.TrimSpace(r.URL.Query().Get("employee_id"))}
	var ok bool
	if input.From, ok = optionalDate(w, r, "from"); !ok {
		return input, false
	}
	if input.To, ok = optionalDate(w, r, "to"); !ok {
		return input, false
	}
	return input, true
}

func optionalDate(w http.ResponseWriter, r *http.Request, key string) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, true
	}
	date, err := models.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", key+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func requiredRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	if r.URL.Query().Get("from") == "" || r.URL.Query().Get("to") == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "from and to are required")
		return time.Time{}, time.Time{}, false
	}
	from, ok := optionalDate(w, r, "from")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	to, ok := optionalDate(w, r, "to")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func monthParams(w http.ResponseWriter, r *http.Request) (time.Month, int, bool) {
	month, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("month")))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "invalid_request", "month must be 1-12")
		return 0, 0, false
	}
	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil || year < 1 {
		writeError(w, http.StatusBadRequest, "invalid_request", "year must be a positive integer")
		return 0, 0, false
	}
	return time.Month(month), year, true
}

func formatDates(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, date := range dates {
		out = append(out, models.FormatDate(date))
	}
	return out
}
