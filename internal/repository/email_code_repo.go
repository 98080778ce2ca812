package repository

import (
	"context"
	"errors"
	"time"

	"dsuauth/internal/entity"

	"gorm.io/gorm"
)

type EmailCodeRepository interface {
	Create(ctx context.Context, code *entity.EmailCode) error
	LastRequestedAt(ctx context.Context, email string) (*time.Time, error)
	FindValid(ctx context.Context, userID string, codeHash string, now time.Time) (*entity.EmailCode, error)
	MarkUsed(ctx context.Context, id uint, usedAt time.Time) error
}

type emailCodeRepository struct {
	db *gorm.DB
}

func NewEmailCodeRepository(db *gorm.DB) EmailCodeRepository {
	return &emailCodeRepository{db: db}
}

func (r *emailCodeRepository) Create(ctx context.Context, c *entity.EmailCode) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *emailCodeRepository) LastRequestedAt(ctx context.Context, email string) (*time.Time, error) {
	var code entity.EmailCode
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at DESC").
		First(&code).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &code.CreatedAt, nil
}

func (r *emailCodeRepository) FindValid(ctx context.Context, userID string, codeHash string, now time.Time) (*entity.EmailCode, error) {
	var code entity.EmailCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND code_hash = ? AND used_at IS NULL AND expires_at > ?", userID, codeHash, now).
		First(&code).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *emailCodeRepository) MarkUsed(ctx context.Context, id uint, usedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.EmailCode{}).
		Where("id = ?", id).
		Update("used_at", usedAt).
		Error
}
