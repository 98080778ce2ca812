package repository

import (
	"context"
	"errors"

	"dsuauth/internal/entity"

	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(ctx context.Context, session *entity.OAuthSession) error
	FindByState(ctx context.Context, state string) (*entity.OAuthSession, error)
	RecordExchange(ctx context.Context, state string, code string, accessToken string) error
	FindByCode(ctx context.Context, code string) (*entity.OAuthSession, error)
}

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, s *entity.OAuthSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepository) FindByState(ctx context.Context, state string) (*entity.OAuthSession, error) {
	var session entity.OAuthSession
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		First(&session).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// RecordExchange is idempotent: replaying the same callback overwrites the
// row with the same values.
func (r *sessionRepository) RecordExchange(ctx context.Context, state string, code string, accessToken string) error {
	return r.db.WithContext(ctx).
		Model(&entity.OAuthSession{}).
		Where("state = ?", state).
		Updates(map[string]any{
			"authorization_code": code,
			"access_token":       accessToken,
		}).
		Error
}

func (r *sessionRepository) FindByCode(ctx context.Context, code string) (*entity.OAuthSession, error) {
	var session entity.OAuthSession
	err := r.db.WithContext(ctx).
		Where("authorization_code = ?", code).
		First(&session).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}
