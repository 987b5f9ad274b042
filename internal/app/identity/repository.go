package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/todo-1m/tms/internal/platform/dbpool"
)

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleMember:
		return RoleMember, true
	default:
		return "", false
	}
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Authorities are the role grants attached to an authenticated principal.
func (u User) Authorities() []string {
	return []string{"ROLE_" + string(u.Role)}
}

type Repository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	FindUserByID(ctx context.Context, userID int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateRole(ctx context.Context, userID int64, role Role) (User, error)
	UpdateActive(ctx context.Context, userID int64, active bool) (User, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) (User, error)
}

type PostgresRepository struct {
	Pool dbpool.Pool
}

func NewPostgresRepository(pool dbpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const userColumns = `id, username, email, password_hash, role, is_active, created_at, updated_at`

const insertUserSQL = `
INSERT INTO app_user (username, email, password_hash, role, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + userColumns

const selectUserByUsernameSQL = `SELECT ` + userColumns + ` FROM app_user WHERE username = $1`

const selectUserByIDSQL = `SELECT ` + userColumns + ` FROM app_user WHERE id = $1`

const listUsersSQL = `SELECT ` + userColumns + ` FROM app_user ORDER BY id`

const updateRoleSQL = `
UPDATE app_user SET role = $2, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

const updateActiveSQL = `
UPDATE app_user SET is_active = $2, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

const updatePasswordSQL = `
UPDATE app_user SET password_hash = $2, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (User, error) {
	created, err := scanUser(r.Pool.QueryRow(ctx, insertUserSQL,
		user.Username, user.Email, user.PasswordHash, string(user.Role), user.Active))
	if err != nil {
		if constraint, ok := dbpool.UniqueViolation(err); ok {
			if strings.Contains(constraint, "email") {
				return User{}, ErrEmailTaken
			}
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) FindUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(r.Pool.QueryRow(ctx, selectUserByUsernameSQL, username))
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID int64) (User, error) {
	return scanUser(r.Pool.QueryRow(ctx, selectUserByIDSQL, userID))
}

func (r *PostgresRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.Pool.Query(ctx, listUsersSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, userID int64, role Role) (User, error) {
	return scanUser(r.Pool.QueryRow(ctx, updateRoleSQL, userID, string(role)))
}

func (r *PostgresRepository) UpdateActive(ctx context.Context, userID int64, active bool) (User, error) {
	return scanUser(r.Pool.QueryRow(ctx, updateActiveSQL, userID, active))
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, userID int64, hash string) (User, error) {
	return scanUser(r.Pool.QueryRow(ctx, updatePasswordSQL, userID, hash))
}
