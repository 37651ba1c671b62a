package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	FileNodeFile   = "file"
	FileNodeFolder = "folder"
)

// FileNode is one entry in a project's materialized source tree. Path is
// always relative to the project root. A folder carries children; a file
// carries content, which stays empty when the file is binary, oversized or
// unreadable.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	Content  string     `json:"content,omitempty"`
	Children []FileNode `json:"children,omitempty"`
}

// Project is an owner-scoped snapshot of a source tree, optionally cloned
// from a remote repository. (Email, RepoURL) is the cache key for ingestion;
// uniqueness is enforced by the ingest path, not by the store.
type Project struct {
	ID      uuid.UUID                      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email   string                         `gorm:"type:varchar(255);not null;index:idx_projects_owner_origin" json:"email"`
	Name    string                         `gorm:"type:varchar(255);not null" json:"name"`
	RepoURL string                         `gorm:"column:repo_url;type:text;index:idx_projects_owner_origin" json:"repoUrl"`
	Path    string                         `gorm:"type:text;not null" json:"path"`
	Files   datatypes.JSONType[[]FileNode] `gorm:"type:jsonb" json:"files"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Project) TableName() string { return "projects" }
