// Package report computes read-only attendance summaries over the ledger.
package report

import (
	"context"
	"math"
	"time"

	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/store"
)

// Policy selects how working days are counted.
type Policy struct {
	ExcludeWeekends bool
	ExcludeHolidays bool
	// InferAbsent counts past working days without a record as Absent. The
	// ledger is never written.
	InferAbsent bool
}

func DefaultPolicy() Policy {
	return Policy{ExcludeWeekends: true, ExcludeHolidays: true, InferAbsent: true}
}

type Users interface {
	Resolve(ctx context.Context, employeeID string) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
}

type Holidays interface {
	Holidays(ctx context.Context, from, to time.Time) (map[time.Time]bool, error)
}

type Aggregator struct {
	store    store.Store
	users    Users
	holidays Holidays
	policy   Policy
	location *time.Location
	now      func() time.Time
}

type Options struct {
	Policy   Policy
	Location *time.Location
	Now      func() time.Time
}

func NewAggregator(st store.Store, users Users, holidays Holidays, options Options) *Aggregator {
	a := &Aggregator{
		store:    st,
		users:    users,
		holidays: holidays,
		policy:   options.Policy,
		location: options.Location,
		now:      options.Now,
	}
	if a.location == nil {
		a.location = time.Local
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

func (a *Aggregator) Policy() Policy {
	return a.policy
}

type Summary struct {
	EmployeeID           string                    `json:"employee_id"`
	Name                 string                    `json:"name"`
	From                 string                    `json:"from"`
	To                   string                    `json:"to"`
	CountsByStatus       map[models.Status]int     `json:"counts_by_status"`
	StatusPercentages    map[models.Status]float64 `json:"status_percentages"`
	TotalDays            int                       `json:"total_days"`
	TotalWorkingDays     int                       `json:"total_working_days"`
	PresentDays          int                       `json:"present_days"`
	InferredAbsentDays   int                       `json:"inferred_absent_days"`
	UnmarkedDays         int                       `json:"unmarked_days"`
	WeekendDays          int                       `json:"weekend_days"`
	HolidayDays          int                       `json:"holiday_days"`
	HoursWorked          float64                   `json:"hours_worked"`
	AttendancePercentage float64                   `json:"attendance_percentage"`
}

// Summary reports one user's attendance for a calendar month.
func (a *Aggregator) Summary(ctx context.Context, employeeID string, month time.Month, year int) (Summary, error) {
	if month < time.January || month > time.December {
		return Summary{}, store.ErrInvalidInput
	}
	first, last := models.MonthRange(month, year)
	return a.Range(ctx, employeeID, first, last)
}

// Range reports one user's attendance for [from, to].
func (a *Aggregator) Range(ctx context.Context, employeeID string, from, to time.Time) (Summary, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if from.After(to) {
		return Summary{}, store.ErrInvalidRange
	}
	user, err := a.users.Resolve(ctx, employeeID)
	if err != nil {
		return Summary{}, err
	}
	holidays, err := a.holidaySet(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	return a.summarize(ctx, user, from, to, holidays)
}

// Overview summarizes every user over [from, to], ordered by employee id.
func (a *Aggregator) Overview(ctx context.Context, from, to time.Time) ([]Summary, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if from.After(to) {
		return nil, store.ErrInvalidRange
	}
	users, err := a.users.List(ctx)
	if err != nil {
		return nil, err
	}
	holidays, err := a.holidaySet(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(users))
	for _, user := range users {
		summary, err := a.summarize(ctx, user, from, to, holidays)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (a *Aggregator) holidaySet(ctx context.Context, from, to time.Time) (map[time.Time]bool, error) {
	if a.holidays == nil {
		return map[time.Time]bool{}, nil
	}
	return a.holidays.Holidays(ctx, from, to)
}

func (a *Aggregator) summarize(ctx context.Context, user models.User, from, to time.Time, holidays map[time.Time]bool) (Summary, error) {
	rows, err := a.store.Query(ctx, store.AttendanceFilter{UserID: user.ID, StartDate: from, EndDate: to})
	if err != nil {
		return Summary{}, err
	}
	byDate := make(map[time.Time]models.AttendanceRecord, len(rows))
	for _, row := range rows {
		byDate[row.Date] = row.AttendanceRecord
	}

	summary := Summary{
		EmployeeID:        user.EmployeeID,
		Name:              user.Name,
		From:              models.FormatDate(from),
		To:                models.FormatDate(to),
		CountsByStatus:    make(map[models.Status]int),
		StatusPercentages: make(map[models.Status]float64),
	}
	workingCounts := make(map[models.Status]int)
	today := models.DateOf(a.now().In(a.location))

	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		summary.TotalDays++
		record, found := byDate[date]
		if found {
			summary.CountsByStatus[record.Status]++
			summary.HoursWorked += record.HoursWorked
		}

		holiday := holidays[date] || (found && record.Status == models.StatusHoliday)
		switch {
		case a.policy.ExcludeHolidays && holiday:
			summary.HolidayDays++
			continue
		case a.policy.ExcludeWeekends && models.IsWeekend(date):
			summary.WeekendDays++
			continue
		}

		summary.TotalWorkingDays++
		switch {
		case found:
			workingCounts[record.Status]++
		case a.policy.InferAbsent && date.Before(today):
			summary.InferredAbsentDays++
			summary.CountsByStatus[models.StatusAbsent]++
			workingCounts[models.StatusAbsent]++
		default:
			summary.UnmarkedDays++
		}
	}

	summary.PresentDays = workingCounts[models.StatusPresent]
	summary.HoursWorked = store.RoundHours(summary.HoursWorked)
	summary.AttendancePercentage = percentage(summary.PresentDays, summary.TotalWorkingDays)
	for status, count := range workingCounts {
		summary.StatusPercentages[status] = percentage(count, summary.TotalWorkingDays)
	}
	return summary, nil
}

func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}

type QueryInput struct {
	EmployeeID string
	From       time.Time
	To         time.Time
}

// Query lists ledger rows newest first, optionally narrowed to one user and
// a date range.
func (a *Aggregator) Query(ctx context.Context, input QueryInput) ([]store.AttendanceRow, error) {
	filter, err := a.filter(ctx, input)
	if err != nil {
		return nil, err
	}
	return a.store.Query(ctx, filter)
}

func (a *Aggregator) MonthlyStatusCounts(ctx context.Context, employeeID string, month time.Month, year int) (map[models.Status]int, error) {
	user, err := a.users.Resolve(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return a.store.MonthlyStatusCounts(ctx, user.ID, month, year)
}

// History lists login history newest first.
func (a *Aggregator) History(ctx context.Context, input QueryInput) ([]store.HistoryRow, error) {
	filter, err := a.filter(ctx, input)
	if err != nil {
		return nil, err
	}
	return a.store.ListHistory(ctx, store.HistoryFilter(filter))
}

func (a *Aggregator) filter(ctx context.Context, input QueryInput) (store.AttendanceFilter, error) {
	if !input.From.IsZero() && !input.To.IsZero() && models.DateOf(input.From).After(models.DateOf(input.To)) {
		return store.AttendanceFilter{}, store.ErrInvalidRange
	}
	filter := store.AttendanceFilter{StartDate: input.From, EndDate: input.To}
	if input.EmployeeID != "" {
		user, err := a.users.Resolve(ctx, input.EmployeeID)
		if err != nil {
			return store.AttendanceFilter{}, err
		}
		filter.UserID = user.ID
	}
	return filter, nil
}
