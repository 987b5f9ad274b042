package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/todo-1m/tms/internal/errs"
	"github.com/todo-1m/tms/internal/platform/auth"
	"github.com/todo-1m/tms/internal/platform/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound          = errs.New(errs.ErrNotFound, "user not found")
	ErrUsernameTaken         = errs.New(errs.ErrConflict, "username already exists")
	ErrEmailTaken            = errs.New(errs.ErrConflict, "email already exists")
	ErrInvalidUsername       = errs.New(errs.ErrInvalidInput, "username is required")
	ErrUsernameFormat        = errs.New(errs.ErrInvalidInput, "username may contain only letters, digits, '.', '_' and '-'")
	ErrInvalidEmail          = errs.New(errs.ErrInvalidInput, "a valid email is required")
	ErrInvalidPassword       = errs.New(errs.ErrInvalidInput, "password is required")
	ErrInvalidRole           = errs.New(errs.ErrInvalidInput, "role must be ADMIN or MEMBER")
	ErrInvalidCredentials    = errs.New(errs.ErrUnauthorized, "invalid username or password")
	ErrRefreshTokenMissing   = errs.New(errs.ErrInvalidInput, "Missing refresh token")
	ErrInvalidTokenType      = errs.New(errs.ErrUnauthorized, "Invalid token type. Expecting refresh token.")
	ErrTokenRevoked          = errs.New(errs.ErrUnauthorized, "Refresh token has been invalidated.")
	ErrTokenExpired          = errs.New(errs.ErrUnauthorized, "Refresh token has expired.")
	ErrRevocationUnavailable = errs.New(errs.ErrUnauthorized, "Token could not be verified.")
)

type Revocations interface {
	Block(ctx context.Context, token string, expiresAt time.Time) error
	Consume(ctx context.Context, token string, expiresAt time.Time) (bool, error)
	IsBlocked(ctx context.Context, token string) (bool, error)
}

type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

type Service struct {
	Repo        Repository
	Users       *UserCache
	Tokens      *auth.Manager
	Revocations Revocations
	Log         *zap.Logger
}

func NewService(repo Repository, users *UserCache, tokens *auth.Manager, revocations Revocations, log *zap.Logger) *Service {
	return &Service{
		Repo:        repo,
		Users:       users,
		Tokens:      tokens,
		Revocations: revocations,
		Log:         logging.OrNop(log),
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidUsername reports whether raw uses only the characters allowed in usernames.
func ValidUsername(raw string) bool {
	return usernamePattern.MatchString(strings.TrimSpace(raw))
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	username := normalizeUsername(in.Username)
	email := normalizeEmail(in.Email)
	if username == "" {
		return User{}, ErrInvalidUsername
	}
	if !ValidUsername(username) {
		return User{}, ErrUsernameFormat
	}
	if !validEmail(email) {
		return User{}, ErrInvalidEmail
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.Repo.CreateUser(ctx, User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         RoleMember,
		Active:       true,
	})
	if err != nil {
		return User{}, err
	}
	s.Log.Info("user registered", zap.Int64("user_id", created.ID), zap.String("username", created.Username))
	return created, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, error) {
	uname := normalizeUsername(username)
	if uname == "" || password == "" {
		return TokenPair{}, ErrInvalidCredentials
	}

	u, err := s.Users.Get(ctx, uname)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	if !u.Active {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.mintPair(u.Username)
}

// Logout revokes token until its natural expiry. Unreadable or already revoked tokens are not an error.
// A token whose signature does not verify could never pass the gate, so nothing is recorded for it.
func (s *Service) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	exp, ok := s.Tokens.ExpiresAt(token)
	if !ok {
		return nil
	}
	if err := s.Revocations.Block(ctx, token, exp); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Refresh exchanges a refresh token for a new pair and revokes the old one. The revocation is a
// set-if-absent, so only one exchange per refresh token can succeed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, ErrRefreshTokenMissing
	}
	if !s.Tokens.IsType(refreshToken, auth.TokenRefresh) {
		return TokenPair{}, ErrInvalidTokenType
	}
	blocked, err := s.Revocations.IsBlocked(ctx, refreshToken)
	if err != nil {
		s.Log.Warn("refresh: revocation lookup failed", zap.Error(err))
		return TokenPair{}, ErrRevocationUnavailable
	}
	if blocked {
		return TokenPair{}, ErrTokenRevoked
	}
	if s.Tokens.IsExpired(refreshToken) {
		return TokenPair{}, ErrTokenExpired
	}

	username, err := s.Tokens.Subject(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidTokenType
	}
	u, err := s.Users.Get(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	if !u.Active {
		return TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.mintPair(u.Username)
	if err != nil {
		return TokenPair{}, err
	}

	exp, _ := s.Tokens.ExpiresAt(refreshToken)
	consumed, err := s.Revocations.Consume(ctx, refreshToken, exp)
	if err != nil {
		s.Log.Warn("refresh: rotation failed", zap.String("username", u.Username), zap.Error(err))
		return TokenPair{}, ErrRevocationUnavailable
	}
	if !consumed {
		return TokenPair{}, ErrTokenRevoked
	}
	return pair, nil
}

func (s *Service) mintPair(username string) (TokenPair, error) {
	access, err := s.Tokens.MintAccess(username)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.Tokens.MintRefresh(username)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Token: access, RefreshToken: refresh}, nil
}

func (s *Service) ChangePassword(ctx context.Context, username, current, next string) error {
	if strings.TrimSpace(next) == "" {
		return ErrInvalidPassword
	}
	u, err := s.Repo.FindUserByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.Repo.UpdatePasswordHash(ctx, u.ID, string(hash)); err != nil {
		return err
	}
	s.Users.Evict(u.Username)
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.Repo.ListUsers(ctx)
}

func (s *Service) SetRole(ctx context.Context, userID int64, rawRole string) (User, error) {
	role, ok := ParseRole(rawRole)
	if !ok {
		return User{}, ErrInvalidRole
	}
	u, err := s.Repo.UpdateRole(ctx, userID, role)
	if err != nil {
		return User{}, err
	}
	s.Users.Evict(u.Username)
	s.Log.Info("user role changed", zap.Int64("user_id", u.ID), zap.String("role", string(role)))
	return u, nil
}

func (s *Service) SetActive(ctx context.Context, userID int64, active bool) (User, error) {
	u, err := s.Repo.UpdateActive(ctx, userID, active)
	if err != nil {
		return User{}, err
	}
	s.Users.Evict(u.Username)
	s.Log.Info("user active flag changed", zap.Int64("user_id", u.ID), zap.Bool("active", active))
	return u, nil
}
