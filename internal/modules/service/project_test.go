package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codehive-io/codehive/internal/modules/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MockProjectRepo is a mock implementation of ProjectRepo
type MockProjectRepo struct {
	mock.Mock
}

func (m *MockProjectRepo) Create(ctx context.Context, p *model.Project) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockProjectRepo) FindByOwnerAndOrigin(ctx context.Context, email, repoURL string) (*model.Project, error) {
	args := m.Called(ctx, email, repoURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Project), args.Error(1)
}

func (m *MockProjectRepo) ListByOwner(ctx context.Context, email string) ([]*model.Project, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Project), args.Error(1)
}

// stubCloner counts invocations and materializes a one-file tree.
type stubCloner struct {
	calls int32
	delay time.Duration
	err   error
}

func (c *stubCloner) Clone(_ context.Context, _, dest string) error {
	atomic.AddInt32(&c.calls, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return c.err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "README.md"), []byte("# cloned\n"), 0o644)
}

func newTestProjectService(r *MockProjectRepo, cloner Cloner) ProjectService {
	return NewProjectService(r, NewFileTreeBuilder(zap.NewNop()), cloner, zap.NewNop(), nil, nil, "")
}

func TestProjectService_Ingest_CacheHit(t *testing.T) {
	existing := &model.Project{Email: "a@b.c", Name: "widget", RepoURL: "https://github.com/acme/widget.git"}

	repo := &MockProjectRepo{}
	repo.On("FindByOwnerAndOrigin", mock.Anything, "a@b.c", existing.RepoURL).Return(existing, nil)

	cloner := &stubCloner{}
	svc := newTestProjectService(repo, cloner)

	got, err := svc.Ingest(context.Background(), "a@b.c", existing.RepoURL, t.TempDir())
	require.NoError(t, err)
	assert.Same(t, existing, got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&cloner.calls), "cache hit must not clone")
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProjectService_Ingest_CacheMiss(t *testing.T) {
	repoURL := "https://github.com/acme/widget.git"

	repo := &MockProjectRepo{}
	repo.On("FindByOwnerAndOrigin", mock.Anything, "a@b.c", repoURL).Return(nil, gorm.ErrRecordNotFound)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(p *model.Project) bool {
		return p.Email == "a@b.c" && p.Name == "widget" && p.RepoURL == repoURL
	})).Return(nil)

	cloner := &stubCloner{}
	svc := newTestProjectService(repo, cloner)

	got, err := svc.Ingest(context.Background(), "a@b.c", repoURL, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cloner.calls))

	files := got.Files.Data()
	require.Len(t, files, 1)
	assert.Equal(t, "README.md", files[0].Name)
	assert.Equal(t, "# cloned\n", files[0].Content)

	repo.AssertExpectations(t)
}

func TestProjectService_Ingest_CloneFailure(t *testing.T) {
	repo := &MockProjectRepo{}
	repo.On("FindByOwnerAndOrigin", mock.Anything, mock.Anything, mock.Anything).Return(nil, gorm.ErrRecordNotFound)

	cloner := &stubCloner{err: errors.New("remote unreachable")}
	svc := newTestProjectService(repo, cloner)

	_, err := svc.Ingest(context.Background(), "a@b.c", "https://github.com/acme/widget.git", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote unreachable")
	// no partial project is persisted
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProjectService_Ingest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		repoURL string
	}{
		{name: "missing email", email: "", repoURL: "https://github.com/acme/widget.git"},
		{name: "missing repoUrl", email: "a@b.c", repoURL: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockProjectRepo{}
			cloner := &stubCloner{}
			svc := newTestProjectService(repo, cloner)

			_, err := svc.Ingest(context.Background(), tt.email, tt.repoURL, t.TempDir())
			require.Error(t, err)
			assert.Equal(t, int32(0), atomic.LoadInt32(&cloner.calls), "no clone attempted")
			repo.AssertNotCalled(t, "FindByOwnerAndOrigin", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProjectService_Ingest_ConcurrentMissesShareOneClone(t *testing.T) {
	repoURL := "https://github.com/acme/widget.git"

	repo := &MockProjectRepo{}
	repo.On("FindByOwnerAndOrigin", mock.Anything, "a@b.c", repoURL).Return(nil, gorm.ErrRecordNotFound)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	cloner := &stubCloner{delay: 200 * time.Millisecond}
	svc := newTestProjectService(repo, cloner)

	root := t.TempDir()
	var wg sync.WaitGroup
	results := make([]*model.Project, 5)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.Ingest(context.Background(), "a@b.c", repoURL, root)
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&cloner.calls), "all concurrent misses share one clone")
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
}

func TestProjectService_Ingest_DistinctOwnersSameRepo(t *testing.T) {
	repoURL := "https://github.com/acme/widget.git"

	repo := &MockProjectRepo{}
	repo.On("FindByOwnerAndOrigin", mock.Anything, mock.Anything, repoURL).Return(nil, gorm.ErrRecordNotFound)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	cloner := &stubCloner{}
	svc := newTestProjectService(repo, cloner)

	root := t.TempDir()
	first, err := svc.Ingest(context.Background(), "a@b.c", repoURL, root)
	require.NoError(t, err)
	second, err := svc.Ingest(context.Background(), "x@y.z", repoURL, root)
	require.NoError(t, err)

	// distinct cache keys never share a checkout directory
	assert.NotEqual(t, first.Path, second.Path)
	assert.Equal(t, int32(2), atomic.LoadInt32(&cloner.calls))
}

func TestProjectService_Ingest_SameTrailingSegment(t *testing.T) {
	repo := &MockProjectRepo{}
	repo.On("FindByOwnerAndOrigin", mock.Anything, "a@b.c", mock.Anything).Return(nil, gorm.ErrRecordNotFound)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	cloner := &stubCloner{}
	svc := newTestProjectService(repo, cloner)

	root := t.TempDir()
	first, err := svc.Ingest(context.Background(), "a@b.c", "https://github.com/acme/widget.git", root)
	require.NoError(t, err)
	second, err := svc.Ingest(context.Background(), "a@b.c", "https://github.com/other/widget.git", root)
	require.NoError(t, err)

	assert.Equal(t, first.Name, second.Name, "both derive the same display name")
	assert.NotEqual(t, first.Path, second.Path, "but never the same checkout")
}

func TestProjectService_ListByOwner(t *testing.T) {
	repo := &MockProjectRepo{}
	repo.On("ListByOwner", mock.Anything, "a@b.c").Return([]*model.Project{{Name: "widget"}}, nil)

	svc := newTestProjectService(repo, &stubCloner{})

	list, err := svc.ListByOwner(context.Background(), "a@b.c")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "widget", list[0].Name)
}

func TestProjectService_ListByOwner_Error(t *testing.T) {
	repo := &MockProjectRepo{}
	repo.On("ListByOwner", mock.Anything, "a@b.c").Return(nil, errors.New("store down"))

	svc := newTestProjectService(repo, &stubCloner{})

	_, err := svc.ListByOwner(context.Background(), "a@b.c")
	assert.Error(t, err)
}

func TestProjectService_FileRoundTrip(t *testing.T) {
	svc := newTestProjectService(&MockProjectRepo{}, &stubCloner{})
	root := t.TempDir()

	require.NoError(t, svc.WriteFile(root, "src/app.py", "print('hi')"))
	assert.Equal(t, "print('hi')", svc.ReadFile(root, "src/app.py"))
}

func TestProjectService_ReadFile_Missing(t *testing.T) {
	svc := newTestProjectService(&MockProjectRepo{}, &stubCloner{})

	got := svc.ReadFile(t.TempDir(), "nope.py")
	assert.Equal(t, MissingFilePlaceholder, got)
}

func TestProjectNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://github.com/acme/widget.git", want: "widget"},
		{url: "https://github.com/acme/widget", want: "widget"},
		{url: "https://github.com/acme/widget.git/", want: "widget"},
		{url: "", want: "project"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ProjectNameFromURL(tt.url))
		})
	}
}
