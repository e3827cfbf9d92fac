// Package calendar manages company calendar events and resolves which dates
// are holidays, expanding recurring events with RRULE.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/store"

	"github.com/teambition/rrule-go"
)

type Service struct {
	store  store.CalendarStore
	logger *slog.Logger
}

func NewService(calendarStore store.CalendarStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: calendarStore, logger: logger}
}

type AddInput struct {
	Date       time.Time
	Title      string
	Category   models.Category
	Recurrence string
}

func (s *Service) Add(ctx context.Context, input AddInput) (models.CalendarEvent, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return models.CalendarEvent{}, fmt.Errorf("%w: title is required", store.ErrInvalidInput)
	}
	if input.Date.IsZero() {
		return models.CalendarEvent{}, fmt.Errorf("%w: date is required", store.ErrInvalidInput)
	}
	if !input.Category.Valid() {
		return models.CalendarEvent{}, fmt.Errorf("%w: unknown category %q", store.ErrInvalidInput, input.Category)
	}
	recurrence := normalizeRule(input.Recurrence)
	if recurrence != "" {
		if _, err := parseRule(recurrence, models.DateOf(input.Date)); err != nil {
			return models.CalendarEvent{}, fmt.Errorf("%w: recurrence: %v", store.ErrInvalidInput, err)
		}
	}

	event, err := s.store.CreateEvent(ctx, models.CalendarEvent{
		Date:       models.DateOf(input.Date),
		Title:      title,
		Category:   input.Category,
		Recurrence: recurrence,
	})
	if err != nil {
		return models.CalendarEvent{}, err
	}
	s.logger.Info("calendar event added", "event_id", event.EventID, "date", models.FormatDate(event.Date), "category", event.Category)
	return event, nil
}

func (s *Service) Delete(ctx context.Context, eventID string) error {
	if err := s.store.DeleteEvent(ctx, eventID); err != nil {
		return err
	}
	s.logger.Info("calendar event deleted", "event_id", eventID)
	return nil
}

// Between returns every occurrence within [from, to], recurring events
// expanded to one entry per date, ordered by date then title.
func (s *Service) Between(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if from.After(to) {
		return nil, store.ErrInvalidRange
	}
	events, err := s.store.ListEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var occurrences []models.CalendarEvent
	for _, event := range events {
		if event.Recurrence == "" {
			if !event.Date.Before(from) && !event.Date.After(to) {
				occurrences = append(occurrences, event)
			}
			continue
		}
		rule, err := parseRule(event.Recurrence, event.Date)
		if err != nil {
			s.logger.Warn("ignoring unparsable recurrence", "event_id", event.EventID, "recurrence", event.Recurrence, "error", err)
			continue
		}
		for _, instance := range rule.Between(from, to, true) {
			occurrence := event
			occurrence.Date = models.DateOf(instance)
			occurrences = append(occurrences, occurrence)
		}
	}

	sort.SliceStable(occurrences, func(i, j int) bool {
		if !occurrences[i].Date.Equal(occurrences[j].Date) {
			return occurrences[i].Date.Before(occurrences[j].Date)
		}
		return occurrences[i].Title < occurrences[j].Title
	})
	return occurrences, nil
}

func (s *Service) ForMonth(ctx context.Context, month time.Month, year int) ([]models.CalendarEvent, error) {
	first, last := models.MonthRange(month, year)
	return s.Between(ctx, first, last)
}

func (s *Service) ForDay(ctx context.Context, date time.Time) ([]models.CalendarEvent, error) {
	return s.Between(ctx, date, date)
}

func (s *Service) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	events, err := s.ForDay(ctx, date)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Category == models.CategoryHoliday {
			return true, nil
		}
	}
	return false, nil
}

// Holidays returns the set of holiday dates within [from, to].
func (s *Service) Holidays(ctx context.Context, from, to time.Time) (map[time.Time]bool, error) {
	events, err := s.Between(ctx, from, to)
	if err != nil {
		return nil, err
	}
	holidays := make(map[time.Time]bool)
	for _, event := range events {
		if event.Category == models.CategoryHoliday {
			holidays[event.Date] = true
		}
	}
	return holidays, nil
}

func normalizeRule(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= len("RRULE:") && strings.EqualFold(value[:len("RRULE:")], "RRULE:") {
		value = value[len("RRULE:"):]
	}
	return value
}

func parseRule(value string, start time.Time) (*rrule.RRule, error) {
	option, err := rrule.StrToROption(normalizeRule(value))
	if err != nil {
		return nil, err
	}
	option.Dtstart = start
	return rrule.NewRRule(*option)
}
