package identity

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/todo-1m/tms/internal/platform/metrics"
	"golang.org/x/sync/singleflight"
)

// defaultLoadTimeout bounds a shared load, which outlives the caller that started it.
const defaultLoadTimeout = 5 * time.Second

type UserLoader interface {
	FindUserByUsername(ctx context.Context, username string) (User, error)
	FindUserByID(ctx context.Context, userID int64) (User, error)
}

// UserCache is a bounded read-through cache of users keyed by username. Entries expire ttl
// after they are written; only successful loads are stored.
type UserCache struct {
	loader UserLoader
	users  *expirable.LRU[string, User]
	// ids maps user id to username; usernames never change so it needs no invalidation.
	ids      *expirable.LRU[int64, string]
	flight   singleflight.Group
	idFlight singleflight.Group
	// loadTimeout applies to loader calls, which run detached from the caller's cancellation.
	loadTimeout time.Duration

	mu sync.Mutex
	// gen advances on every eviction so loads that started before it are not stored.
	gen uint64
}

func NewUserCache(loader UserLoader, size int, ttl time.Duration) *UserCache {
	return &UserCache{
		loader: loader,
		users:  expirable.NewLRU[string, User](size, nil, ttl),
		ids:    expirable.NewLRU[int64, string](size, nil, ttl),

		loadTimeout: defaultLoadTimeout,
	}
}

func (c *UserCache) Get(ctx context.Context, username string) (User, error) {
	if u, ok := c.users.Get(username); ok {
		metrics.UserCacheLookups.WithLabelValues("hit").Inc()
		return u, nil
	}
	metrics.UserCacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.flight.Do(username, func() (any, error) {
		gen := c.generation()
		loadCtx, cancel := c.loadContext(ctx)
		defer cancel()
		u, err := c.loader.FindUserByUsername(loadCtx, username)
		if err != nil {
			return User{}, err
		}
		c.store(gen, u)
		return u, nil
	})
	if err != nil {
		metrics.UserCacheLookups.WithLabelValues("error").Inc()
		return User{}, err
	}
	return v.(User), nil
}

// GetByID resolves the username for id, then reads through the username cache.
func (c *UserCache) GetByID(ctx context.Context, userID int64) (User, error) {
	if username, ok := c.ids.Get(userID); ok {
		return c.Get(ctx, username)
	}

	v, err, _ := c.idFlight.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		gen := c.generation()
		loadCtx, cancel := c.loadContext(ctx)
		defer cancel()
		u, err := c.loader.FindUserByID(loadCtx, userID)
		if err != nil {
			return User{}, err
		}
		c.store(gen, u)
		return u, nil
	})
	if err != nil {
		return User{}, err
	}
	return v.(User), nil
}

// loadContext keeps ctx values but not its cancellation: every waiter on a flight shares the result,
// so one caller going away must not fail the others.
func (c *UserCache) loadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
}

func (c *UserCache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *UserCache) store(gen uint64, u User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids.Add(u.ID, u.Username)
	if c.gen != gen {
		return
	}
	c.users.Add(u.Username, u)
}

// Evict drops username so the next Get reloads it. Callers invoke it after committing a write.
func (c *UserCache) Evict(username string) {
	c.mu.Lock()
	c.gen++
	c.users.Remove(username)
	c.mu.Unlock()
	c.flight.Forget(username)
}

func (c *UserCache) Len() int {
	return c.users.Len()
}
