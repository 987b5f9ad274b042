package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrWeakSecret   = errors.New("token secret must be at least 32 bytes")
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"

	minSecretBytes = 32
)

// Claims is the token payload: sub holds the username.
type Claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Manager mints and validates HS256 tokens. Validation uses Now with no leeway.
type Manager struct {
	secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
	NewID      func() string
}

func NewManager(secret string, accessTTL, refreshTTL time.Duration) (*Manager, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrWeakSecret
	}
	return &Manager{
		secret:     []byte(secret),
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		Now:        func() time.Time { return time.Now().UTC() },
		NewID:      newTokenID,
	}, nil
}

func newTokenID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (m *Manager) MintAccess(username string) (string, error) {
	return m.mint(username, TokenAccess, m.AccessTTL)
}

func (m *Manager) MintRefresh(username string) (string, error) {
	return m.mint(username, TokenRefresh, m.RefreshTTL)
}

func (m *Manager) mint(username string, typ TokenType, ttl time.Duration) (string, error) {
	now := m.Now()
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        m.NewID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// Parse verifies signature and expiry. A token whose exp equals now is expired.
func (m *Manager) Parse(token string) (Claims, error) {
	return m.parse(token, jwt.WithExpirationRequired())
}

// ParseIgnoringExpiry verifies only the signature. Revocation keys are derived from it so an
// expired but authentic token still maps to its record.
func (m *Manager) ParseIgnoringExpiry(token string) (Claims, error) {
	return m.parse(token, jwt.WithoutClaimsValidation())
}

func (m *Manager) parse(token string, opts ...jwt.ParserOption) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, ErrInvalidToken
	}
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.Now),
	)
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) Subject(token string) (string, error) {
	claims, err := m.Parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (m *Manager) TokenID(token string) (string, error) {
	claims, err := m.Parse(token)
	if err != nil {
		return "", err
	}
	return claims.ID, nil
}

// IsType never fails: any parse or signature error reports false.
func (m *Manager) IsType(token string, expected TokenType) bool {
	claims, err := m.Parse(token)
	return err == nil && claims.Type == expected
}

// ExpiresAt returns the exp of an authentic token, expired or not.
func (m *Manager) ExpiresAt(token string) (time.Time, bool) {
	claims, err := m.ParseIgnoringExpiry(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (m *Manager) IsExpired(token string) bool {
	_, err := m.Parse(token)
	return err != nil
}

func BearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
