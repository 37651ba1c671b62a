package repo

import (
	"context"

	"github.com/codehive-io/codehive/internal/modules/model"
	"gorm.io/gorm"
)

type ProjectRepo interface {
	Create(ctx context.Context, p *model.Project) error
	// FindByOwnerAndOrigin looks up the project ingested for (email, repoURL).
	// A miss surfaces as gorm.ErrRecordNotFound.
	FindByOwnerAndOrigin(ctx context.Context, email, repoURL string) (*model.Project, error)
	ListByOwner(ctx context.Context, email string) ([]*model.Project, error)
}

type projectRepo struct{ db *gorm.DB }

func NewProjectRepo(db *gorm.DB) ProjectRepo { return &projectRepo{db: db} }

func (r *projectRepo) Create(ctx context.Context, p *model.Project) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *projectRepo) FindByOwnerAndOrigin(ctx context.Context, email, repoURL string) (*model.Project, error) {
	var p model.Project
	err := r.db.WithContext(ctx).
		Where("email = ? AND repo_url = ?", email, repoURL).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepo) ListByOwner(ctx context.Context, email string) ([]*model.Project, error) {
	var projects []*model.Project
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at DESC").
		Find(&projects).Error
	return projects, err
}
