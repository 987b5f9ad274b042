// Package revocation keeps a negative record of tokens that must no longer be honoured.
//
// A record lives under token:blocklist:<username>:<jti>, holds the token's absolute expiry in
// epoch milliseconds, and carries a storage TTL equal to the token's remaining lifetime, so it
// disappears on its own once the token could not validate anyway.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/todo-1m/tms/internal/platform/auth"
	"github.com/todo-1m/tms/internal/platform/metrics"
)

const KeyPrefix = "token:blocklist:"

var ErrUnavailable = errors.New("revocation registry unavailable")

type TokenInspector interface {
	ParseIgnoringExpiry(token string) (auth.Claims, error)
}

type Record struct {
	Username  string    `json:"username"`
	TokenID   string    `json:"jti"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Registry struct {
	Redis   redis.Cmdable
	Tokens  TokenInspector
	Timeout time.Duration
	Now     func() time.Time
}

func NewRegistry(rdb redis.Cmdable, tokens TokenInspector, timeout time.Duration) *Registry {
	return &Registry{
		Redis:   rdb,
		Tokens:  tokens,
		Timeout: timeout,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func Key(username, tokenID string) string {
	return KeyPrefix + username + ":" + tokenID
}

// key returns false when the token is not authentic or carries no jti.
func (r *Registry) key(token string) (string, bool) {
	claims, err := r.Tokens.ParseIgnoringExpiry(token)
	if err != nil || strings.TrimSpace(claims.ID) == "" {
		return "", false
	}
	return Key(claims.Subject, claims.ID), true
}

func (r *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

// Block records token until expiresAt. Tokens without a jti and already expired tokens are ignored.
func (r *Registry) Block(ctx context.Context, token string, expiresAt time.Time) error {
	key, ok := r.key(token)
	if !ok {
		return nil
	}
	ttl := expiresAt.Sub(r.Now())
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.Redis.Set(ctx, key, formatExpiry(expiresAt), ttl).Err(); err != nil {
		return fmt.Errorf("%w: block: %v", ErrUnavailable, err)
	}
	return nil
}

// Consume blocks token only if it is not already blocked and reports whether this call did it.
// Two concurrent refreshes of the same token therefore cannot both succeed.
func (r *Registry) Consume(ctx context.Context, token string, expiresAt time.Time) (bool, error) {
	key, ok := r.key(token)
	if !ok {
		return false, nil
	}
	ttl := expiresAt.Sub(r.Now())
	if ttl <= 0 {
		return false, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	set, err := r.Redis.SetNX(ctx, key, formatExpiry(expiresAt), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: consume: %v", ErrUnavailable, err)
	}
	return set, nil
}

func (r *Registry) IsBlocked(ctx context.Context, token string) (bool, error) {
	key, ok := r.key(token)
	if !ok {
		return false, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.Redis.Exists(ctx, key).Result()
	if err != nil {
		metrics.RevocationChecks.WithLabelValues("error").Inc()
		return false, fmt.Errorf("%w: lookup: %v", ErrUnavailable, err)
	}
	if n > 0 {
		metrics.RevocationChecks.WithLabelValues("blocked").Inc()
		return true, nil
	}
	metrics.RevocationChecks.WithLabelValues("clear").Inc()
	return false, nil
}

// ListForUser enumerates the live records of one user.
func (r *Registry) ListForUser(ctx context.Context, username string) ([]Record, error) {
	prefix := Key(username, "")
	records := []Record{}
	iter := r.Redis.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		tokenID, ok := strings.CutPrefix(key, prefix)
		if !ok || tokenID == "" || strings.Contains(tokenID, ":") {
			continue
		}
		raw, err := r.Redis.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
		}
		rec := Record{Username: username, TokenID: tokenID}
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			rec.ExpiresAt = time.UnixMilli(ms).UTC()
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
	}
	return records, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.Redis.Ping(ctx).Err()
}

func formatExpiry(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
