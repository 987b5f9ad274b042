package identity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type fakeRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]User

	loads   atomic.Int32
	findErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: map[int64]User{}}
}

func (f *fakeRepo) CreateUser(ctx context.Context, user User) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username {
			return User{}, ErrUsernameTaken
		}
		if u.Email == user.Email {
			return User{}, ErrEmailTaken
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeRepo) FindUserByUsername(ctx context.Context, username string) (User, error) {
	f.loads.Add(1)
	if f.findErr != nil {
		return User{}, f.findErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (f *fakeRepo) FindUserByID(ctx context.Context, userID int64) (User, error) {
	f.loads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeRepo) ListUsers(ctx context.Context) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]User, 0, len(f.users))
	for id := int64(1); id <= f.nextID; id++ {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeRepo) update(userID int64, fn func(*User)) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	f.users[userID] = u
	return u, nil
}

func (f *fakeRepo) UpdateRole(ctx context.Context, userID int64, role Role) (User, error) {
	return f.update(userID, func(u *User) { u.Role = role })
}

func (f *fakeRepo) UpdateActive(ctx context.Context, userID int64, active bool) (User, error) {
	return f.update(userID, func(u *User) { u.Active = active })
}

func (f *fakeRepo) UpdatePasswordHash(ctx context.Context, userID int64, hash string) (User, error) {
	return f.update(userID, func(u *User) { u.PasswordHash = hash })
}

var _ Repository = (*fakeRepo)(nil)
