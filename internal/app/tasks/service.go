package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/todo-1m/tms/internal/contracts"
	"github.com/todo-1m/tms/internal/errs"
	"github.com/todo-1m/tms/internal/platform/paging"
)

var (
	ErrTaskNotFound    = errs.New(errs.ErrNotFound, "task not found")
	ErrTitleRequired   = errs.New(errs.ErrInvalidInput, "title is required")
	ErrInvalidStatus   = errs.New(errs.ErrInvalidInput, "status must be one of OPEN, IN_PROGRESS, COMPLETED, CANCELLED")
	ErrInvalidPriority = errs.New(errs.ErrInvalidInput, "priority must be one of LOW, MEDIUM, HIGH")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Input struct {
	Title       string
	Description string
	Status      string
	Priority    string
	DueDate     *time.Time
}

type Service struct {
	Repo    Repository
	Emitter *Emitter
}

func NewService(repo Repository, emitter *Emitter) *Service {
	return &Service{Repo: repo, Emitter: emitter}
}

func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return s, true
	default:
		return "", false
	}
}

func ParsePriority(raw string) (Priority, bool) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(raw))); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	default:
		return "", false
	}
}

// apply copies in onto t; empty status and priority keep the values already on t.
func (in Input) apply(t *Task) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return ErrTitleRequired
	}
	t.Title = title
	t.Description = strings.TrimSpace(in.Description)
	t.DueDate = in.DueDate
	if in.Status != "" {
		status, ok := ParseStatus(in.Status)
		if !ok {
			return ErrInvalidStatus
		}
		t.Status = status
	}
	if in.Priority != "" {
		priority, ok := ParsePriority(in.Priority)
		if !ok {
			return ErrInvalidPriority
		}
		t.Priority = priority
	}
	return nil
}

func (s *Service) Create(ctx context.Context, ownerID int64, in Input) (Task, error) {
	task := Task{OwnerID: ownerID, Status: StatusOpen, Priority: PriorityMedium}
	if err := in.apply(&task); err != nil {
		return Task{}, err
	}
	created, err := s.Repo.Create(ctx, task)
	if err != nil {
		return Task{}, err
	}
	s.Emitter.Emit(ctx, contracts.TaskCreated, created, "")
	return created, nil
}

func (s *Service) Get(ctx context.Context, ownerID, taskID int64) (Task, error) {
	return s.Repo.Get(ctx, ownerID, taskID)
}

func (s *Service) List(ctx context.Context, ownerID int64, page, size int) (Page, error) {
	page, size, err := paging.Normalize(page, size, DefaultPageSize, MaxPageSize)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.Repo.List(ctx, ownerID, page, size)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Page: page, Size: size, Total: total}, nil
}

func (s *Service) Update(ctx context.Context, ownerID, taskID int64, in Input) (Task, error) {
	before, after, err := s.Repo.Update(ctx, ownerID, taskID, in.apply)
	if err != nil {
		return Task{}, err
	}
	eventType, reason := transitionEvent(before.Status, after.Status)
	s.Emitter.Emit(ctx, eventType, after, reason)
	return after, nil
}

func (s *Service) SetStatus(ctx context.Context, ownerID, taskID int64, rawStatus string) (Task, error) {
	status, ok := ParseStatus(rawStatus)
	if !ok {
		return Task{}, ErrInvalidStatus
	}
	_, after, err := s.Repo.Update(ctx, ownerID, taskID, func(t *Task) error {
		t.Status = status
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	eventType, reason := statusEvent(status)
	s.Emitter.Emit(ctx, eventType, after, reason)
	return after, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, taskID int64) error {
	deleted, err := s.Repo.Delete(ctx, ownerID, taskID)
	if err != nil {
		return err
	}
	s.Emitter.Emit(ctx, contracts.TaskRemoved, deleted, contracts.RemovalDeleted)
	return nil
}

func (s *Service) ListOpen(ctx context.Context, ownerID int64) ([]Task, error) {
	return s.Repo.ListOpen(ctx, ownerID)
}

// DueOn returns the owner's open tasks due on the calendar day of day in loc.
func (s *Service) DueOn(ctx context.Context, ownerID int64, day time.Time, loc *time.Location) ([]Task, error) {
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return s.Repo.ListOpenDueBetween(ctx, ownerID, start, start.AddDate(0, 0, 1))
}
