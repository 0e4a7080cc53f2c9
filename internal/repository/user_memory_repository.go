package repository

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/timetable-api/internal/models"
)

// UserMemoryRepository keeps accounts in process memory.
type UserMemoryRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewUserMemoryRepository creates an empty in-memory account store.
func NewUserMemoryRepository() *UserMemoryRepository {
	return &UserMemoryRepository{users: make(map[string]models.User)}
}

// FindByPK returns the user with the given primary key, or nil when absent.
func (r *UserMemoryRepository) FindByPK(_ context.Context, pk string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[pk]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// Create stores the user unless the primary key is taken.
func (r *UserMemoryRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.PK]; ok {
		return models.ErrUserExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.users[user.PK] = *user
	return nil
}
