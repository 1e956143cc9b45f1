package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"todobot/internal/model"
)

// UserRepository handles CRUD for owner accounts.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, fmt.Errorf("find user %d: %w", id, err)
	}
	return &user, nil
}

func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ListCalendarEnabled returns the accounts participating in calendar sync.
func (r *UserRepository) ListCalendarEnabled(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("calendar_enabled = ?", true).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list calendar-enabled users: %w", err)
	}
	return users, nil
}

// UpdateLastSync advances the account's sync watermark.
func (r *UserRepository) UpdateLastSync(ctx context.Context, userID uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Update("last_calendar_sync", at).Error
	if err != nil {
		return fmt.Errorf("update last sync for user %d: %w", userID, err)
	}
	return nil
}
