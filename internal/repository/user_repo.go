package repository

import (
	"context"
	"errors"
	"time"

	"dsuauth/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*entity.User, error)
	UpsertSighting(ctx context.Context, id string, tag string, seenAt time.Time) error
	ApplyVerification(ctx context.Context, id string, email string, name string, classification entity.Classification, verifiedAt time.Time) error
	UpdateLabUsername(ctx context.Context, id string, username string) error
	List(ctx context.Context, limit, offset int) ([]entity.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertSighting inserts the user on first sight and refreshes the cached
// tag on every later one. Verified fields are never touched here.
func (r *userRepository) UpsertSighting(ctx context.Context, id string, tag string, seenAt time.Time) error {
	user := entity.User{
		ID:             id,
		DiscordTag:     tag,
		Classification: entity.ClassificationUnknown,
		FirstSeenAt:    seenAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"discord_tag"}),
		}).
		Create(&user).Error
}

// ApplyVerification overwrites the identity fields. Re-verification replaces
// the previous email rather than clearing it.
func (r *userRepository) ApplyVerification(ctx context.Context, id string, email string, name string, classification entity.Classification, verifiedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"email":          email,
			"name":           name,
			"classification": classification,
			"verified_at":    verifiedAt,
		}).
		Error
}

func (r *userRepository) UpdateLabUsername(ctx context.Context, id string, username string) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Update("lab_username", username).
		Error
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]entity.User, error) {
	var users []entity.User
	query := r.db.WithContext(ctx).Order("first_seen_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
