package repo

import (
	"context"
	"errors"

	"github.com/codehive-io/codehive/internal/modules/model"
	"gorm.io/gorm"
)

type UserRepo interface {
	// GetOrCreate returns the user stored under u.Email, creating u when no
	// record exists. An existing record is returned as-is.
	GetOrCreate(ctx context.Context, u *model.User) (*model.User, error)
}

type userRepo struct{ db *gorm.DB }

func NewUserRepo(db *gorm.DB) UserRepo { return &userRepo{db: db} }

func (r *userRepo) GetOrCreate(ctx context.Context, u *model.User) (*model.User, error) {
	var existing model.User
	err := r.db.WithContext(ctx).Where("email = ?", u.Email).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}
