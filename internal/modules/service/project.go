package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/codehive-io/codehive/internal/infra/blob"
	mq "github.com/codehive-io/codehive/internal/infra/queue"
	"github.com/codehive-io/codehive/internal/modules/model"
	"github.com/codehive-io/codehive/internal/modules/repo"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MissingFilePlaceholder is returned by ReadFile when the target does not
// exist; the editor shows it instead of erroring.
const MissingFilePlaceholder = "// File not found"

// Cloner materializes a remote repository under a local directory.
type Cloner interface {
	Clone(ctx context.Context, repoURL, dest string) error
}

type gitCloner struct {
	timeout time.Duration
}

func NewGitCloner(timeout time.Duration) Cloner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &gitCloner{timeout: timeout}
}

func (g *gitCloner) Clone(ctx context.Context, repoURL, dest string) error {
	cloneCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone", repoURL, dest)
	cmd.WaitDelay = time.Second
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone %s: %v: %s", repoURL, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ProjectService is the ingestion cache plus the live file read/write path
// for project trees on disk.
type ProjectService interface {
	// Ingest returns the project cached under (email, repoURL), cloning and
	// persisting it first on a miss. Concurrent misses for the same key share
	// a single clone-and-persist.
	Ingest(ctx context.Context, email, repoURL, localRoot string) (*model.Project, error)
	ListByOwner(ctx context.Context, email string) ([]*model.Project, error)
	// ReadFile never fails hard: missing targets yield a placeholder, other
	// read errors yield the error text.
	ReadFile(projectRoot, relativePath string) string
	WriteFile(projectRoot, relativePath, content string) error
}

type projectService struct {
	r      repo.ProjectRepo
	trees  FileTreeBuilder
	cloner Cloner
	log    *zap.Logger
	blob   *blob.S3Deps     // optional snapshot archive
	mqConn *amqp.Connection // optional ingest notification
	queue  string
	flight singleflight.Group
}

func NewProjectService(r repo.ProjectRepo, trees FileTreeBuilder, cloner Cloner, log *zap.Logger, s3 *blob.S3Deps, mqConn *amqp.Connection, queue string) ProjectService {
	return &projectService{
		r:      r,
		trees:  trees,
		cloner: cloner,
		log:    log,
		blob:   s3,
		mqConn: mqConn,
		queue:  queue,
	}
}

func (s *projectService) Ingest(ctx context.Context, email, repoURL, localRoot string) (*model.Project, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}
	if repoURL == "" {
		return nil, errors.New("repoUrl is required")
	}

	key := email + "\x00" + repoURL
	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.ingest(ctx, email, repoURL, localRoot)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Project), nil
}

func (s *projectService) ingest(ctx context.Context, email, repoURL, localRoot string) (*model.Project, error) {
	existing, err := s.r.FindByOwnerAndOrigin(ctx, email, repoURL)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("project lookup: %w", err)
	}

	name := ProjectNameFromURL(repoURL)
	dest := cloneDestination(localRoot, email, repoURL)
	if err := s.cloner.Clone(ctx, repoURL, dest); err != nil {
		return nil, err
	}

	p := &model.Project{
		Email:   email,
		Name:    name,
		RepoURL: repoURL,
		Path:    dest,
		Files:   datatypes.NewJSONType(s.trees.Build(dest)),
	}
	if err := s.r.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("persist project: %w", err)
	}

	s.archiveSnapshot(ctx, p)
	s.notifyIngested(ctx, p)

	return p, nil
}

// archiveSnapshot is best-effort: the project is already persisted and the
// ingest result does not depend on the archive.
func (s *projectService) archiveSnapshot(ctx context.Context, p *model.Project) {
	if s.blob == nil {
		return
	}
	meta, err := s.blob.UploadTreeSnapshot(ctx, p.Email, p.Name, p.Files.Data())
	if err != nil {
		s.log.Sugar().Warnw("snapshot archive failed", "project", p.Name, "err", err)
		return
	}
	s.log.Sugar().Infow("snapshot archived", "project", p.Name, "key", meta.Key, "sizeB", meta.SizeB)
}

func (s *projectService) notifyIngested(ctx context.Context, p *model.Project) {
	if s.mqConn == nil {
		return
	}
	pub, err := mq.NewPublisher(s.mqConn, s.queue, s.log)
	if err != nil {
		s.log.Sugar().Warnw("create ingest publisher failed", "err", err)
		return
	}
	defer pub.Close()
	if err := pub.PublishJSON(ctx, p); err != nil {
		s.log.Sugar().Warnw("publish ingest event failed", "project", p.Name, "err", err)
	}
}

func (s *projectService) ListByOwner(ctx context.Context, email string) ([]*model.Project, error) {
	return s.r.ListByOwner(ctx, email)
}

func (s *projectService) ReadFile(projectRoot, relativePath string) string {
	full := filepath.Join(projectRoot, relativePath)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return MissingFilePlaceholder
		}
		s.log.Sugar().Warnw("file read failed", "path", full, "err", err)
		return fmt.Sprintf("// Unable to read file: %v", err)
	}
	return string(data)
}

func (s *projectService) WriteFile(projectRoot, relativePath, content string) error {
	full := filepath.Join(projectRoot, relativePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", relativePath, err)
	}
	return nil
}

// cloneDestination scopes the checkout under the owner and a digest of the
// origin, so distinct cache keys never share a directory: two owners cloning
// the same repo, or two repos whose URLs end in the same segment, each get
// their own checkout.
func cloneDestination(localRoot, email, repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	dir := ProjectNameFromURL(repoURL) + "-" + hex.EncodeToString(sum[:4])
	return filepath.Join(localRoot, sanitizeSegment(email), dir)
}

// sanitizeSegment makes an arbitrary string safe as a single path element.
func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-' || r == '@':
			return r
		default:
			return '_'
		}
	}, s)
}

// ProjectNameFromURL derives a project name from the origin URL's last path
// segment, stripping a trailing .git suffix.
func ProjectNameFromURL(repoURL string) string {
	trimmed := strings.TrimRight(repoURL, "/")
	name := trimmed
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		name = trimmed[idx+1:]
	}
	name = strings.TrimSuffix(name, ".git")
	if name == "" {
		return "project"
	}
	return name
}
