// Package analytics maintains per-day task counters from the event stream and serves them back.
package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/todo-1m/tms/internal/errs"
)

var (
	ErrStatsNotFound = errs.New(errs.ErrNotFound, "no statistics for the requested date")
	ErrInvalidDate   = errs.New(errs.ErrInvalidInput, "date must be formatted as YYYY-MM-DD")
	ErrInvalidRange  = errs.New(errs.ErrInvalidInput, "from must not be after to")
	ErrInvalidDays   = errs.New(errs.ErrInvalidInput, "days must be between 1 and 365")
)

const MaxRangeDays = 365

// Day truncates t to its calendar date in loc, returned as midnight UTC of that date.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDay(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

type Service struct {
	Repo     Repository
	Location *time.Location
	Now      func() time.Time
}

func NewService(repo Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		Repo:     repo,
		Location: loc,
		Now:      time.Now,
	}
}

func (s *Service) Today() time.Time {
	return Day(s.Now(), s.Location)
}

// Daily returns the stats for raw, or for today when raw is empty.
func (s *Service) Daily(ctx context.Context, raw string) (DailyStats, error) {
	day := s.Today()
	if strings.TrimSpace(raw) != "" {
		d, err := ParseDay(raw)
		if err != nil {
			return DailyStats{}, err
		}
		day = d
	}
	return s.Repo.FindDaily(ctx, day)
}

func (s *Service) Range(ctx context.Context, rawFrom, rawTo string) ([]DailyStats, error) {
	from, err := ParseDay(rawFrom)
	if err != nil {
		return nil, err
	}
	to, err := ParseDay(rawTo)
	if err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	return s.Repo.FindRange(ctx, from, to)
}

// Recent returns the rows of the last days days, today included.
func (s *Service) Recent(ctx context.Context, days int) ([]DailyStats, error) {
	if days < 1 || days > MaxRangeDays {
		return nil, ErrInvalidDays
	}
	to := s.Today()
	return s.Repo.FindRange(ctx, to.AddDate(0, 0, -(days-1)), to)
}
