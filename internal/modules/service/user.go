package service

import (
	"context"
	"errors"
	"time"

	"github.com/codehive-io/codehive/internal/modules/model"
	"github.com/codehive-io/codehive/internal/modules/repo"
)

type AssertIdentityInput struct {
	Email     string
	Name      string
	Picture   string
	ExpiresAt time.Time
}

// UserService resolves external identity assertions to persisted users.
type UserService interface {
	// Assert returns the user stored under the asserted email, creating it on
	// first sight. Repeat assertions return the stored record unchanged: name,
	// picture and expiry are not refreshed (first login wins).
	Assert(ctx context.Context, in AssertIdentityInput) (*model.User, error)
}

type userService struct {
	r repo.UserRepo
}

func NewUserService(r repo.UserRepo) UserService {
	return &userService{r: r}
}

func (s *userService) Assert(ctx context.Context, in AssertIdentityInput) (*model.User, error) {
	if in.Email == "" {
		return nil, errors.New("email is required")
	}
	return s.r.GetOrCreate(ctx, &model.User{
		Email:     in.Email,
		Name:      in.Name,
		Picture:   in.Picture,
		ExpiresAt: in.ExpiresAt,
	})
}
