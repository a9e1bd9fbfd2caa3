package repository

import (
	"context"
	"errors"
	"time"

	"rechub/internal/common/db"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserRole describes the account's privilege level.
type UserRole string

const (
	UserRoleRunner   UserRole = "runner"
	UserRoleOperator UserRole = "operator"
)

// User represents a runner or operator account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
}

// UserRepository defines account persistence interfaces.
type UserRepository interface {
	Create(ctx context.Context, tx db.Transaction, user *User) (int64, error)
	GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error)
}

// MySQLUserRepository implements UserRepository with MySQL.
type MySQLUserRepository struct {
	dbProvider db.Provider
}

// NewUserRepository creates a user repository.
func NewUserRepository(provider db.Provider) UserRepository {
	return &MySQLUserRepository{dbProvider: provider}
}

const userColumns = "id, username, password_hash, role, created_at"

// Create inserts a user record and returns the new id.
func (r *MySQLUserRepository) Create(ctx context.Context, tx db.Transaction, user *User) (int64, error) {
	if user == nil {
		return 0, errors.New("user is nil")
	}
	if user.Username == "" {
		return 0, errors.New("username is required")
	}
	if user.PasswordHash == "" {
		return 0, errors.New("passwordHash is required")
	}
	if user.Role == "" {
		user.Role = UserRoleRunner
	}

	query := `
		INSERT INTO users (username, password_hash, role)
		VALUES (?, ?, ?)
	`
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return 0, err
	}
	result, err := querier.Exec(ctx, query, user.Username, user.PasswordHash, string(user.Role))
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return 0, ErrUserAlreadyExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetByUsername retrieves a user by username.
func (r *MySQLUserRepository) GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}
	query := "SELECT " + userColumns + " FROM users WHERE username = ? LIMIT 1"
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	row := querier.QueryRow(ctx, query, username)
	user := &User{}
	var role string
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &role, &user.CreatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.Role = UserRole(role)
	return user, nil
}
