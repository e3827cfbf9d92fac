package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultOpTimeout   = 3 * time.Second
	defaultLockTimeout = 2 * time.Second
)

const (
	codeLockNotAvailable = "55P03"
	codeUniqueViolation  = "23505"
	codeCheckViolation   = "23514"
	codeQueryCanceled    = "57014"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	pool        *pgxpool.Pool
	opTimeout   time.Duration
	lockTimeout time.Duration
	location    *time.Location
}

type Options struct {
	// OpTimeout bounds every store call, including time spent waiting on locks.
	OpTimeout time.Duration
	// LockTimeout bounds waits on the (user, date) lock inside WithinDay.
	LockTimeout time.Duration
	// Location is the organization time zone used for history date filters.
	Location *time.Location
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	s := &Store{
		pool:        pool,
		opTimeout:   options.OpTimeout,
		lockTimeout: options.LockTimeout,
		location:    options.Location,
	}
	if s.opTimeout <= 0 {
		s.opTimeout = defaultOpTimeout
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = defaultLockTimeout
	}
	if s.location == nil {
		s.location = time.Local
	}
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (user models.User, fallback bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, false, mapError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "employee_id:"+input.Prefix); err != nil {
		return models.User{}, false, mapError(err)
	}

	var employeeID string
	employeeID, fallback, err = nextEmployeeID(ctx, tx, input.Prefix)
	if err != nil {
		return models.User{}, false, mapError(err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO users (id, employee_id, name, email, phone, password_hash, salt, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW())
		RETURNING `+userColumns,
		uuid.NewString(), employeeID, input.Name, input.Email, input.Phone, input.PasswordHash, input.Salt)
	user, err = scanUser(row)
	if err != nil {
		return models.User{}, false, mapError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.User{}, false, mapError(err)
	}
	return user, fallback, nil
}

func (s *Store) PeekEmployeeID(ctx context.Context, prefix string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", false, mapError(err)
	}
	defer conn.Release()
	id, fallback, err := nextEmployeeID(ctx, conn, prefix)
	return id, fallback, mapError(err)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// nextEmployeeID orders candidates by length first so ALLY1000 follows ALLY999.
// Only ids whose remainder after prefix is all digits are considered.
func nextEmployeeID(ctx context.Context, q querier, prefix string) (string, bool, error) {
	var greatest string
	var count int
	row := q.QueryRow(ctx, `
		WITH family AS (
			SELECT employee_id FROM users
			WHERE left(employee_id, length($1)) = $1
			  AND substr(employee_id, length($1) + 1) ~ '^[0-9]+$'
		)
		SELECT COALESCE((
			SELECT employee_id FROM family
			ORDER BY length(employee_id) DESC, employee_id DESC
			LIMIT 1
		), ''),
		(SELECT COUNT(*) FROM family)
	`, prefix)
	if err := row.Scan(&greatest, &count); err != nil {
		return "", false, err
	}
	id, fallback := store.NextEmployeeID(prefix, greatest, count)
	id, err := store.FreeEmployeeID(prefix, id, func(candidate string) (bool, error) {
		var exists bool
		err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE employee_id = $1)`, candidate).Scan(&exists)
		return exists, err
	})
	if err != nil {
		return "", false, err
	}
	return id, fallback, nil
}

const userColumns = `id, employee_id, name, email, phone, password_hash, salt, active, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.EmployeeID, &user.Name, &user.Email, &user.Phone, &user.PasswordHash, &user.Salt, &user.Active, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (models.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return models.User{}, store.ErrUserNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	return user, mapError(err)
}

func (s *Store) GetUserByEmployeeID(ctx context.Context, employeeID string) (models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE employee_id = $1`, employeeID))
	return user, mapError(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY length(employee_id), employee_id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, mapError(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash, salt string) error {
	return s.execUser(ctx, `UPDATE users SET password_hash = $2, salt = $3 WHERE id = $1`, userID, passwordHash, salt)
}

func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	return s.execUser(ctx, `UPDATE users SET active = $2 WHERE id = $1`, userID, active)
}

func (s *Store) execUser(ctx context.Context, sql, userID string, args ...any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, sql, append([]any{userID}, args...)...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

// DeleteUser removes history, ledger rows and the user in one transaction.
func (s *Store) DeleteUser(ctx context.Context, userID string) (err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM login_history WHERE user_id = $1`, userID); err != nil {
		return mapError(err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM attendance WHERE user_id = $1`, userID); err != nil {
		return mapError(err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrUserNotFound
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

const attendanceColumns = `a.user_id, a.date, a.status, a.login_time, a.logout_time, a.hours_worked, a.notes`

func scanRecord(row pgx.Row, extra ...any) (models.AttendanceRecord, error) {
	var record models.AttendanceRecord
	var login, logout pgtype.Time
	dest := append([]any{&record.UserID, &record.Date, &record.Status, &login, &logout, &record.HoursWorked, &record.Notes}, extra...)
	if err := row.Scan(dest...); err != nil {
		return models.AttendanceRecord{}, err
	}
	record.Date = models.DateOf(record.Date)
	record.LoginTime = fromPgTime(login)
	record.LogoutTime = fromPgTime(logout)
	return record, nil
}

func (s *Store) GetOrCreate(ctx context.Context, userID string, date time.Time) (models.AttendanceRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	date = models.DateOf(date)
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO attendance (user_id, date, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO NOTHING
	`, userID, date, models.StatusPresent); err != nil {
		return models.AttendanceRecord{}, mapError(err)
	}
	record, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+attendanceColumns+` FROM attendance a WHERE a.user_id = $1 AND a.date = $2`, userID, date))
	return record, mapError(err)
}

func (s *Store) Upsert(ctx context.Context, record models.AttendanceRecord) (models.AttendanceRecord, error) {
	record.Date = models.DateOf(record.Date)
	if err := store.ValidateRecord(record); err != nil {
		return models.AttendanceRecord{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	saved, err := upsertRecord(ctx, s.pool, record)
	return saved, mapError(err)
}

func upsertRecord(ctx context.Context, q querier, record models.AttendanceRecord) (models.AttendanceRecord, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO attendance AS a (user_id, date, status, login_time, logout_time, hours_worked, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			login_time = EXCLUDED.login_time,
			logout_time = EXCLUDED.logout_time,
			hours_worked = EXCLUDED.hours_worked,
			notes = EXCLUDED.notes
		RETURNING `+attendanceColumns,
		record.UserID, record.Date, record.Status, toPgTime(record.LoginTime), toPgTime(record.LogoutTime), record.HoursWorked, record.Notes)
	return scanRecord(row)
}

func (s *Store) Query(ctx context.Context, filter store.AttendanceFilter) ([]store.AttendanceRow, error) {
	query := `
		SELECT ` + attendanceColumns + `, u.employee_id, u.name
		FROM attendance a
		JOIN users u ON u.id = a.user_id
		WHERE 1 = 1
	`
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND a.user_id = $%d", len(args))
	}
	if !filter.StartDate.IsZero() {
		args = append(args, models.DateOf(filter.StartDate))
		query += fmt.Sprintf(" AND a.date >= $%d", len(args))
	}
	if !filter.EndDate.IsZero() {
		args = append(args, models.DateOf(filter.EndDate))
		query += fmt.Sprintf(" AND a.date <= $%d", len(args))
	}
	query += " ORDER BY a.date DESC, u.name ASC, u.employee_id ASC"
	return s.queryAttendance(ctx, query, args...)
}

func (s *Store) queryAttendance(ctx context.Context, query string, args ...any) ([]store.AttendanceRow, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []store.AttendanceRow
	for rows.Next() {
		var row store.AttendanceRow
		record, err := scanRecord(rows, &row.EmployeeID, &row.UserName)
		if err != nil {
			return nil, mapError(err)
		}
		row.AttendanceRecord = record
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

func (s *Store) MonthlyStatusCounts(ctx context.Context, userID string, month time.Month, year int) (map[models.Status]int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	first, last := models.MonthRange(month, year)
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM attendance
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		GROUP BY status
	`, userID, first, last)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status models.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, mapError(err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return counts, nil
}

func (s *Store) ListOpen(ctx context.Context, date time.Time) ([]store.AttendanceRow, error) {
	return s.queryAttendance(ctx, `
		SELECT `+attendanceColumns+`, u.employee_id, u.name
		FROM attendance a
		JOIN users u ON u.id = a.user_id
		WHERE a.date = $1 AND a.login_time IS NOT NULL AND a.logout_time IS NULL
		ORDER BY u.name ASC, u.employee_id ASC
	`, models.DateOf(date))
}

func (s *Store) ListHistory(ctx context.Context, filter store.HistoryFilter) ([]store.HistoryRow, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT h.id, h.user_id, h.action, h.method, h.timestamp, u.employee_id, u.name
		FROM login_history h
		JOIN users u ON u.id = h.user_id
		WHERE 1 = 1
	`
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND h.user_id = $%d", len(args))
	}
	if !filter.StartDate.IsZero() {
		args = append(args, s.startOfDay(filter.StartDate))
		query += fmt.Sprintf(" AND h.timestamp >= $%d", len(args))
	}
	if !filter.EndDate.IsZero() {
		args = append(args, s.startOfDay(filter.EndDate).AddDate(0, 0, 1))
		query += fmt.Sprintf(" AND h.timestamp < $%d", len(args))
	}
	query += " ORDER BY h.timestamp DESC, h.id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []store.HistoryRow
	for rows.Next() {
		var row store.HistoryRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.Action, &row.Method, &row.Timestamp, &row.EmployeeID, &row.UserName); err != nil {
			return nil, mapError(err)
		}
		row.Timestamp = row.Timestamp.In(s.location)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

func (s *Store) startOfDay(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.location)
}

func (s *Store) CreateEvent(ctx context.Context, event models.CalendarEvent) (models.CalendarEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	event.Date = models.DateOf(event.Date)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_events (event_id, date, title, category, recurrence)
		VALUES ($1, $2, $3, $4, $5)
	`, event.EventID, event.Date, event.Title, event.Category, event.Recurrence)
	if err != nil {
		return models.CalendarEvent{}, mapError(err)
	}
	return event, nil
}

func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	if _, err := uuid.Parse(eventID); err != nil {
		return store.ErrEventNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM calendar_events WHERE event_id = $1`, eventID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrEventNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT event_id, date, title, category, recurrence
		FROM calendar_events
		WHERE (recurrence = '' AND date BETWEEN $1 AND $2)
		   OR (recurrence <> '' AND date <= $2)
		ORDER BY date ASC, title ASC
	`, models.DateOf(from), models.DateOf(to))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []models.CalendarEvent
	for rows.Next() {
		var event models.CalendarEvent
		if err := rows.Scan(&event.EventID, &event.Date, &event.Title, &event.Category, &event.Recurrence); err != nil {
			return nil, mapError(err)
		}
		event.Date = models.DateOf(event.Date)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return events, nil
}

// WithinDay takes a transaction-scoped advisory lock on (userID, date) and
// the row lock on the ledger record before running fn.
func (s *Store) WithinDay(ctx context.Context, userID string, date time.Time, fn func(tx store.DayTx) error) (err error) {
	if _, parseErr := uuid.Parse(userID); parseErr != nil {
		return store.ErrUserNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	date = models.DateOf(date)
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		return mapError(err)
	}
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID+"|"+models.FormatDate(date)); err != nil {
		return mapError(err)
	}

	var exists bool
	if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 FOR KEY SHARE)`, userID).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		err = store.ErrUserNotFound
		return err
	}

	day := &dayTx{tx: tx, userID: userID, date: date}
	record, scanErr := scanRecord(tx.QueryRow(ctx, `SELECT `+attendanceColumns+` FROM attendance a WHERE a.user_id = $1 AND a.date = $2 FOR UPDATE`, userID, date))
	switch {
	case scanErr == nil:
		day.record, day.found = record, true
	case errors.Is(scanErr, pgx.ErrNoRows):
	default:
		err = mapError(scanErr)
		return err
	}

	if err = fn(day); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

type dayTx struct {
	tx     pgx.Tx
	userID string
	date   time.Time
	record models.AttendanceRecord
	found  bool
}

func (d *dayTx) Record(ctx context.Context) (models.AttendanceRecord, bool, error) {
	if !d.found {
		return models.AttendanceRecord{UserID: d.userID, Date: d.date, Status: models.StatusPresent}, false, nil
	}
	return d.record, true, nil
}

func (d *dayTx) Save(ctx context.Context, record models.AttendanceRecord) (models.AttendanceRecord, error) {
	record.UserID = d.userID
	record.Date = d.date
	if err := store.ValidateRecord(record); err != nil {
		return models.AttendanceRecord{}, err
	}
	saved, err := upsertRecord(ctx, d.tx, record)
	if err != nil {
		return models.AttendanceRecord{}, mapError(err)
	}
	d.record, d.found = saved, true
	return saved, nil
}

func (d *dayTx) AppendHistory(ctx context.Context, event models.LoginHistoryEvent) (models.LoginHistoryEvent, error) {
	event.UserID = d.userID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	row := d.tx.QueryRow(ctx, `
		INSERT INTO login_history (user_id, action, method, timestamp)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, event.UserID, event.Action, event.Method, event.Timestamp)
	if err := row.Scan(&event.ID); err != nil {
		return models.LoginHistoryEvent{}, mapError(err)
	}
	return event, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeQueryCanceled:
			return fmt.Errorf("%s: %w", pgErr.Message, store.ErrBusy)
		case codeUniqueViolation:
			if strings.Contains(pgErr.ConstraintName, "email") {
				return store.ErrDuplicateEmail
			}
			if strings.Contains(pgErr.ConstraintName, "employee_id") {
				return fmt.Errorf("employee id taken concurrently: %w", store.ErrBusy)
			}
		case codeCheckViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrInvalidRecord)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", store.ErrBusy, err)
	}
	return err
}

func toPgTime(value *models.TimeOfDay) pgtype.Time {
	if value == nil {
		return pgtype.Time{}
	}
	return pgtype.Time{Microseconds: value.Seconds() * int64(time.Second/time.Microsecond), Valid: true}
}

func fromPgTime(value pgtype.Time) *models.TimeOfDay {
	if !value.Valid {
		return nil
	}
	return models.TimeOfDay(value.Microseconds / int64(time.Second/time.Microsecond)).Clock()
}
