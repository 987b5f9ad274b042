// Package notes stores free-form notes owned by a user. Administrators can page through every note.
package notes

import (
	"context"
	"strings"

	"github.com/todo-1m/tms/internal/errs"
	"github.com/todo-1m/tms/internal/platform/paging"
)

var (
	ErrNoteNotFound  = errs.New(errs.ErrNotFound, "note not found")
	ErrTitleRequired = errs.New(errs.ErrInvalidInput, "title is required")
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type Service struct {
	Repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{Repo: repo}
}

func (s *Service) Create(ctx context.Context, ownerID int64, title, content string) (Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Note{}, ErrTitleRequired
	}
	return s.Repo.Create(ctx, Note{OwnerID: ownerID, Title: title, Content: content})
}

func (s *Service) Get(ctx context.Context, ownerID, noteID int64) (Note, error) {
	return s.Repo.Get(ctx, ownerID, noteID)
}

func (s *Service) ListMine(ctx context.Context, ownerID int64, page, size int) (Page, error) {
	page, size, err := paging.Normalize(page, size, DefaultPageSize, MaxPageSize)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.Repo.ListByOwner(ctx, ownerID, page, size)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Page: page, Size: size, Total: total}, nil
}

// ListAll pages through the notes of every user, newest first.
func (s *Service) ListAll(ctx context.Context, page, size int) (Page, error) {
	page, size, err := paging.Normalize(page, size, DefaultPageSize, MaxPageSize)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.Repo.ListAll(ctx, page, size)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Page: page, Size: size, Total: total}, nil
}

func (s *Service) Update(ctx context.Context, ownerID, noteID int64, title, content string) (Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Note{}, ErrTitleRequired
	}
	return s.Repo.Update(ctx, ownerID, noteID, title, content)
}

func (s *Service) Delete(ctx context.Context, ownerID, noteID int64) error {
	return s.Repo.Delete(ctx, ownerID, noteID)
}
