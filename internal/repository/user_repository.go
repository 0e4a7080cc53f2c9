package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/timetable-api/internal/models"
)

const uniqueViolation = "23505"

// UserRepository provides database access for user accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByPK returns the user with the given primary key, or nil when absent.
func (r *UserRepository) FindByPK(ctx context.Context, pk string) (*models.User, error) {
	const query = `SELECT pk, role, identifier, name, password_hash, created_at FROM users WHERE pk = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, pk); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user by pk: %w", err)
	}
	return &user, nil
}

// Create inserts a new user. A taken primary key yields models.ErrUserExists.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO users (pk, role, identifier, name, password_hash, created_at) VALUES (:pk, :role, :identifier, :name, :password_hash, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return models.ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
