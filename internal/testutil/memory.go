// Package testutil provides in-memory repositories for service and HTTP tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/app/notes"
	"github.com/todo-1m/tms/internal/app/tasks"
)

type Users struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]identity.User
}

func NewUsers() *Users {
	return &Users{byID: map[int64]identity.User{}}
}

func (r *Users) CreateUser(_ context.Context, user identity.User) (identity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Username == user.Username {
			return identity.User{}, identity.ErrUsernameTaken
		}
		if u.Email == user.Email {
			return identity.User{}, identity.ErrEmailTaken
		}
	}
	r.nextID++
	now := time.Now().UTC()
	user.ID, user.CreatedAt, user.UpdatedAt = r.nextID, now, now
	r.byID[user.ID] = user
	return user, nil
}

func (r *Users) FindUserByUsername(_ context.Context, username string) (identity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrUserNotFound
}

func (r *Users) FindUserByID(_ context.Context, userID int64) (identity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	return u, nil
}

func (r *Users) ListUsers(context.Context) ([]identity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]identity.User, 0, len(r.byID))
	for _, u := range r.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Users) update(userID int64, fn func(*identity.User)) (identity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	r.byID[userID] = u
	return u, nil
}

func (r *Users) UpdateRole(_ context.Context, userID int64, role identity.Role) (identity.User, error) {
	return r.update(userID, func(u *identity.User) { u.Role = role })
}

func (r *Users) UpdateActive(_ context.Context, userID int64, active bool) (identity.User, error) {
	return r.update(userID, func(u *identity.User) { u.Active = active })
}

func (r *Users) UpdatePasswordHash(_ context.Context, userID int64, hash string) (identity.User, error) {
	return r.update(userID, func(u *identity.User) { u.PasswordHash = hash })
}

type Tasks struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]tasks.Task
	Now    func() time.Time
}

func NewTasks() *Tasks {
	return &Tasks{
		byID: map[int64]tasks.Task{},
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *Tasks) Create(_ context.Context, task tasks.Task) (tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := r.Now()
	task.ID, task.CreatedAt, task.UpdatedAt = r.nextID, now, now
	r.byID[task.ID] = task
	return task, nil
}

func (r *Tasks) Get(_ context.Context, ownerID, taskID int64) (tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[taskID]
	if !ok || t.OwnerID != ownerID {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	return t, nil
}

func (r *Tasks) owned(ownerID int64, keep func(tasks.Task) bool) []tasks.Task {
	out := []tasks.Task{}
	for _, t := range r.byID {
		if t.OwnerID == ownerID && keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (r *Tasks) List(_ context.Context, ownerID int64, page, size int) ([]tasks.Task, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.owned(ownerID, func(tasks.Task) bool { return true })
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := int64(len(all))
	start := page * size
	if start >= len(all) {
		return []tasks.Task{}, total, nil
	}
	end := min(start+size, len(all))
	return all[start:end], total, nil
}

func open(t tasks.Task) bool {
	return t.Status == tasks.StatusOpen || t.Status == tasks.StatusInProgress
}

func (r *Tasks) ListOpen(_ context.Context, ownerID int64) ([]tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.owned(ownerID, open)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Tasks) ListOpenDueBetween(_ context.Context, ownerID int64, from, to time.Time) ([]tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.owned(ownerID, func(t tasks.Task) bool {
		return open(t) && t.DueDate != nil && !t.DueDate.Before(from) && t.DueDate.Before(to)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Tasks) Update(_ context.Context, ownerID, taskID int64, fn func(*tasks.Task) error) (tasks.Task, tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[taskID]
	if !ok || current.OwnerID != ownerID {
		return tasks.Task{}, tasks.Task{}, tasks.ErrTaskNotFound
	}
	next := current
	if err := fn(&next); err != nil {
		return tasks.Task{}, tasks.Task{}, err
	}
	next.ID, next.OwnerID, next.CreatedAt = current.ID, current.OwnerID, current.CreatedAt
	next.UpdatedAt = r.Now()
	r.byID[taskID] = next
	return current, next, nil
}

func (r *Tasks) Delete(_ context.Context, ownerID, taskID int64) (tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[taskID]
	if !ok || t.OwnerID != ownerID {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	delete(r.byID, taskID)
	return t, nil
}

type Stats struct {
	mu        sync.Mutex
	byDay     map[string]analytics.DailyStats
	processed map[string]time.Time
	Now       func() time.Time
}

func NewStats() *Stats {
	return &Stats{
		byDay:     map[string]analytics.DailyStats{},
		processed: map[string]time.Time{},
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Stats) ApplyDelta(_ context.Context, group, eventID string, day time.Time, d analytics.Delta) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := group + "/" + eventID
	if _, ok := r.processed[key]; ok {
		return false, nil
	}
	now := r.Now()
	r.processed[key] = now

	date := day.Format(analytics.DateLayout)
	s, ok := r.byDay[date]
	if !ok {
		s = analytics.DailyStats{Date: date, CreatedAt: now}
	}
	s.Apply(d)
	s.UpdatedAt = now
	r.byDay[date] = s
	return true, nil
}

func (r *Stats) FindDaily(_ context.Context, day time.Time) (analytics.DailyStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byDay[day.Format(analytics.DateLayout)]
	if !ok {
		return analytics.DailyStats{}, analytics.ErrStatsNotFound
	}
	return s, nil
}

func (r *Stats) FindRange(_ context.Context, from, to time.Time) ([]analytics.DailyStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lo, hi := from.Format(analytics.DateLayout), to.Format(analytics.DateLayout)
	out := []analytics.DailyStats{}
	for date, s := range r.byDay {
		if date >= lo && date <= hi {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (r *Stats) PruneProcessed(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, at := range r.processed {
		if at.Before(before) {
			delete(r.processed, key)
			n++
		}
	}
	return n, nil
}

// Put stores s as is, replacing any row for the same date.
func (r *Stats) Put(s analytics.DailyStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDay[s.Date] = s
}

type Notes struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]notes.Note
}

func NewNotes() *Notes {
	return &Notes{byID: map[int64]notes.Note{}}
}

func (r *Notes) Create(_ context.Context, note notes.Note) (notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	note.ID, note.CreatedAt = r.nextID, time.Now().UTC()
	r.byID[note.ID] = note
	return note, nil
}

func (r *Notes) Get(_ context.Context, ownerID, noteID int64) (notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[noteID]
	if !ok || n.OwnerID != ownerID {
		return notes.Note{}, notes.ErrNoteNotFound
	}
	return n, nil
}

func (r *Notes) page(keep func(notes.Note) bool, page, size int) ([]notes.Note, int64) {
	all := []notes.Note{}
	for _, n := range r.byID {
		if keep(n) {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	start := page * size
	if start >= len(all) {
		return []notes.Note{}, int64(len(all))
	}
	return all[start:min(start+size, len(all))], int64(len(all))
}

func (r *Notes) ListByOwner(_ context.Context, ownerID int64, page, size int) ([]notes.Note, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items, total := r.page(func(n notes.Note) bool { return n.OwnerID == ownerID }, page, size)
	return items, total, nil
}

func (r *Notes) ListAll(_ context.Context, page, size int) ([]notes.Note, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items, total := r.page(func(notes.Note) bool { return true }, page, size)
	return items, total, nil
}

func (r *Notes) Update(_ context.Context, ownerID, noteID int64, title, content string) (notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[noteID]
	if !ok || n.OwnerID != ownerID {
		return notes.Note{}, notes.ErrNoteNotFound
	}
	n.Title, n.Content = title, content
	r.byID[noteID] = n
	return n, nil
}

func (r *Notes) Delete(_ context.Context, ownerID, noteID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[noteID]
	if !ok || n.OwnerID != ownerID {
		return notes.ErrNoteNotFound
	}
	delete(r.byID, noteID)
	return nil
}

var (
	_ identity.Repository  = (*Users)(nil)
	_ tasks.Repository     = (*Tasks)(nil)
	_ notes.Repository     = (*Notes)(nil)
	_ analytics.Repository = (*Stats)(nil)
)
