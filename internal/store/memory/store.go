// Package memory is an in-process store with the same locking and ordering
// semantics as the postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/store"

	"github.com/google/uuid"
)

const defaultLockTimeout = 2 * time.Second

type dayKey struct {
	userID string
	date   time.Time
}

var _ store.Store = (*Store)(nil)

type Store struct {
	mu          sync.Mutex
	users       map[string]models.User
	attendance  map[dayKey]models.AttendanceRecord
	history     []models.LoginHistoryEvent
	historySeq  int64
	events      map[string]models.CalendarEvent
	dayLocks    map[dayKey]*dayLock
	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*Store)

// WithLockTimeout bounds how long WithinDay waits for a held day lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		users:       make(map[string]models.User),
		attendance:  make(map[dayKey]models.AttendanceRecord),
		events:      make(map[string]models.CalendarEvent),
		dayLocks:    make(map[dayKey]*dayLock),
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, input.Email) {
			return models.User{}, false, store.ErrDuplicateEmail
		}
	}
	employeeID, fallback, err := s.nextEmployeeIDLocked(input.Prefix)
	if err != nil {
		return models.User{}, false, err
	}
	user := models.User{
		ID:           uuid.NewString(),
		EmployeeID:   employeeID,
		Name:         input.Name,
		Email:        input.Email,
		Phone:        input.Phone,
		PasswordHash: input.PasswordHash,
		Salt:         input.Salt,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	s.users[user.ID] = user
	return user, fallback, nil
}

func (s *Store) PeekEmployeeID(ctx context.Context, prefix string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextEmployeeIDLocked(prefix)
}

func (s *Store) nextEmployeeIDLocked(prefix string) (string, bool, error) {
	greatest := ""
	count := 0
	taken := make(map[string]bool, len(s.users))
	for _, user := range s.users {
		taken[user.EmployeeID] = true
		if !store.IsEmployeeIDOf(prefix, user.EmployeeID) {
			continue
		}
		count++
		if greatest == "" || store.EmployeeIDLess(greatest, user.EmployeeID) {
			greatest = user.EmployeeID
		}
	}
	id, fallback := store.NextEmployeeID(prefix, greatest, count)
	id, err := store.FreeEmployeeID(prefix, id, func(candidate string) (bool, error) {
		return taken[candidate], nil
	})
	if err != nil {
		return "", false, err
	}
	return id, fallback, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (s *Store) GetUserByEmployeeID(ctx context.Context, employeeID string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.EmployeeID == employeeID {
			return user, nil
		}
	}
	return models.User{}, store.ErrUserNotFound
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	users := make([]models.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	s.mu.Unlock()
	sort.Slice(users, func(i, j int) bool {
		return store.EmployeeIDLess(users[i].EmployeeID, users[j].EmployeeID)
	})
	return users, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash, salt string) error {
	return s.updateUser(ctx, userID, func(user *models.User) {
		user.PasswordHash = passwordHash
		user.Salt = salt
	})
}

func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	return s.updateUser(ctx, userID, func(user *models.User) {
		user.Active = active
	})
}

func (s *Store) updateUser(ctx context.Context, userID string, apply func(*models.User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	apply(&user)
	s.users[userID] = user
	return nil
}

// DeleteUser removes the user together with their ledger rows and history.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return store.ErrUserNotFound
	}
	for key := range s.attendance {
		if key.userID == userID {
			delete(s.attendance, key)
		}
	}
	kept := s.history[:0]
	for _, event := range s.history {
		if event.UserID != userID {
			kept = append(kept, event)
		}
	}
	s.history = kept
	delete(s.users, userID)
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, userID string, date time.Time) (models.AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.AttendanceRecord{}, err
	}
	key := dayKey{userID: userID, date: models.DateOf(date)}
	release, err := s.acquire(ctx, key)
	if err != nil {
		return models.AttendanceRecord{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return models.AttendanceRecord{}, store.ErrUserNotFound
	}
	if record, ok := s.attendance[key]; ok {
		return record, nil
	}
	record := models.AttendanceRecord{UserID: userID, Date: key.date, Status: models.StatusPresent}
	s.attendance[key] = record
	return record, nil
}

func (s *Store) Upsert(ctx context.Context, record models.AttendanceRecord) (models.AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.AttendanceRecord{}, err
	}
	record.Date = models.DateOf(record.Date)
	if err := store.ValidateRecord(record); err != nil {
		return models.AttendanceRecord{}, err
	}
	key := dayKey{userID: record.UserID, date: record.Date}
	release, err := s.acquire(ctx, key)
	if err != nil {
		return models.AttendanceRecord{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[record.UserID]; !ok {
		return models.AttendanceRecord{}, store.ErrUserNotFound
	}
	s.attendance[key] = record
	return record, nil
}

func (s *Store) Query(ctx context.Context, filter store.AttendanceFilter) ([]store.AttendanceRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var rows []store.AttendanceRow
	for key, record := range s.attendance {
		if filter.UserID != "" && key.userID != filter.UserID {
			continue
		}
		if !inRange(key.date, filter.StartDate, filter.EndDate) {
			continue
		}
		user := s.users[key.userID]
		rows = append(rows, store.AttendanceRow{AttendanceRecord: record, EmployeeID: user.EmployeeID, UserName: user.Name})
	}
	s.mu.Unlock()
	sortAttendance(rows)
	return rows, nil
}

func (s *Store) MonthlyStatusCounts(ctx context.Context, userID string, month time.Month, year int) (map[models.Status]int, error) {
	first, last := models.MonthRange(month, year)
	rows, err := s.Query(ctx, store.AttendanceFilter{UserID: userID, StartDate: first, EndDate: last})
	if err != nil {
		return nil, err
	}
	counts := make(map[models.Status]int)
	for _, row := range rows {
		counts[row.Status]++
	}
	return counts, nil
}

func (s *Store) ListOpen(ctx context.Context, date time.Time) ([]store.AttendanceRow, error) {
	rows, err := s.Query(ctx, store.AttendanceFilter{StartDate: date, EndDate: date})
	if err != nil {
		return nil, err
	}
	open := rows[:0]
	for _, row := range rows {
		if store.IsOpen(row.AttendanceRecord) {
			open = append(open, row)
		}
	}
	return open, nil
}

func (s *Store) ListHistory(ctx context.Context, filter store.HistoryFilter) ([]store.HistoryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var rows []store.HistoryRow
	for _, event := range s.history {
		if filter.UserID != "" && event.UserID != filter.UserID {
			continue
		}
		if !inRange(models.DateOf(event.Timestamp), filter.StartDate, filter.EndDate) {
			continue
		}
		user := s.users[event.UserID]
		rows = append(rows, store.HistoryRow{LoginHistoryEvent: event, EmployeeID: user.EmployeeID, UserName: user.Name})
	}
	s.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.After(rows[j].Timestamp)
		}
		return rows[i].ID > rows[j].ID
	})
	return rows, nil
}

func (s *Store) CreateEvent(ctx context.Context, event models.CalendarEvent) (models.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.CalendarEvent{}, err
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	event.Date = models.DateOf(event.Date)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.EventID] = event
	return event, nil
}

func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return store.ErrEventNotFound
	}
	delete(s.events, eventID)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, to = models.DateOf(from), models.DateOf(to)
	s.mu.Lock()
	var events []models.CalendarEvent
	for _, event := range s.events {
		if event.Recurrence != "" {
			if !event.Date.After(to) {
				events = append(events, event)
			}
			continue
		}
		if inRange(event.Date, from, to) {
			events = append(events, event)
		}
	}
	s.mu.Unlock()
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].Title < events[j].Title
	})
	return events, nil
}

// WithinDay serializes fn against every other WithinDay call for the same
// (userID, date). Writes staged on the tx are applied only if fn returns nil.
func (s *Store) WithinDay(ctx context.Context, userID string, date time.Time, fn func(tx store.DayTx) error) error {
	key := dayKey{userID: userID, date: models.DateOf(date)}
	release, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	_, known := s.users[userID]
	record, found := s.attendance[key]
	s.mu.Unlock()
	if !known {
		return store.ErrUserNotFound
	}

	tx := &dayTx{store: s, key: key, record: record, found: found}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return store.ErrUserNotFound
	}
	if tx.dirty {
		s.attendance[key] = tx.record
	}
	for _, event := range tx.pending {
		s.historySeq++
		event.ID = s.historySeq
		s.history = append(s.history, event)
	}
	return nil
}

// dayLock is dropped from Store.dayLocks once no caller holds or waits on it.
type dayLock struct {
	sem  chan struct{}
	refs int
}

func (s *Store) acquire(ctx context.Context, key dayKey) (func(), error) {
	s.mu.Lock()
	lock, ok := s.dayLocks[key]
	if !ok {
		lock = &dayLock{sem: make(chan struct{}, 1)}
		s.dayLocks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case lock.sem <- struct{}{}:
		return func() {
			<-lock.sem
			s.unref(key, lock)
		}, nil
	case <-timer.C:
		s.unref(key, lock)
		return nil, fmt.Errorf("lock %s/%s: %w", key.userID, models.FormatDate(key.date), store.ErrBusy)
	case <-ctx.Done():
		s.unref(key, lock)
		return nil, fmt.Errorf("lock %s/%s: %w", key.userID, models.FormatDate(key.date), ctx.Err())
	}
}

func (s *Store) unref(key dayKey, lock *dayLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock.refs--
	if lock.refs == 0 && s.dayLocks[key] == lock {
		delete(s.dayLocks, key)
	}
}

type dayTx struct {
	store   *Store
	key     dayKey
	record  models.AttendanceRecord
	found   bool
	dirty   bool
	pending []models.LoginHistoryEvent
}

func (tx *dayTx) Record(ctx context.Context) (models.AttendanceRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.AttendanceRecord{}, false, err
	}
	if !tx.found && !tx.dirty {
		return models.AttendanceRecord{UserID: tx.key.userID, Date: tx.key.date, Status: models.StatusPresent}, false, nil
	}
	return tx.record, true, nil
}

func (tx *dayTx) Save(ctx context.Context, record models.AttendanceRecord) (models.AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.AttendanceRecord{}, err
	}
	record.UserID = tx.key.userID
	record.Date = tx.key.date
	if err := store.ValidateRecord(record); err != nil {
		return models.AttendanceRecord{}, err
	}
	tx.record = record
	tx.dirty = true
	return record, nil
}

func (tx *dayTx) AppendHistory(ctx context.Context, event models.LoginHistoryEvent) (models.LoginHistoryEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.LoginHistoryEvent{}, err
	}
	event.UserID = tx.key.userID
	if event.Timestamp.IsZero() {
		event.Timestamp = tx.store.now()
	}
	tx.pending = append(tx.pending, event)
	return event, nil
}

func inRange(date, from, to time.Time) bool {
	if !from.IsZero() && date.Before(models.DateOf(from)) {
		return false
	}
	if !to.IsZero() && date.After(models.DateOf(to)) {
		return false
	}
	return true
}

// sortAttendance orders rows newest date first, then by user name.
func sortAttendance(rows []store.AttendanceRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.After(rows[j].Date)
		}
		if rows[i].UserName != rows[j].UserName {
			return rows[i].UserName < rows[j].UserName
		}
		return rows[i].EmployeeID < rows[j].EmployeeID
	})
}
