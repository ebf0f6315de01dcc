// Package artifact treats a GitHub release as a bucket: it allocates
// release names, publishes build specs on fresh branches, and moves wheels
// in and out of release assets.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/explosion/wheelwright/src/buildspec"
	"github.com/explosion/wheelwright/src/github"
	"github.com/explosion/wheelwright/src/logger"
	"github.com/explosion/wheelwright/src/provider"
)

// MaxReleaseProbes bounds the name search in AllocateRelease.
const MaxReleaseProbes = 1000

// API is the subset of the GitHub client the store needs.
type API interface {
	GetRepository(ctx context.Context, repo string) (*github.Repository, error)
	GetReleaseByTag(ctx context.Context, repo, tag string) (*github.Release, error)
	CreateRelease(ctx context.Context, repo string, in github.CreateReleaseRequest) (*github.Release, error)
	UpdateRelease(ctx context.Context, repo string, id int64, in github.UpdateReleaseRequest) (*github.Release, error)
	ListReleaseAssets(ctx context.Context, repo string, id int64) ([]github.ReleaseAsset, error)
	UploadReleaseAsset(ctx context.Context, uploadURL, name, path string) (*github.ReleaseAsset, error)
	DownloadAsset(ctx context.Context, downloadURL string, w io.Writer) (int64, error)
	GetCommit(ctx context.Context, repo, ref string) (*github.Commit, error)
	CreateTree(ctx context.Context, repo, baseTree string, entries []github.TreeEntry) (*github.Tree, error)
	CreateCommit(ctx context.Context, repo, message, tree string, parents []string) (*github.GitCommit, error)
	CreateRef(ctx context.Context, repo, ref, sha string) (*github.Ref, error)
}

// Asset is a release asset, optionally with its local copy.
type Asset struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
	Path        string `json:"path,omitempty"`
}

// Store manages releases in one build repository.
type Store struct {
	api         API
	repo        string
	concurrency int
	logger      logger.Logger
}

// Option configures a Store
type Option func(*Store)

// WithConcurrency bounds parallel uploads and downloads.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the logger for per-file progress.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store for the "user/repo" build repository.
func NewStore(api API, repo string, opts ...Option) *Store {
	s := &Store{
		api:         api,
		repo:        repo,
		concurrency: 4,
		logger:      logger.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repo returns the build repository id.
func (s *Store) Repo() string {
	return s.repo
}

// AllocateRelease finds the first unused release name among base,
// base-2, base-3 and so on.
func (s *Store) AllocateRelease(ctx context.Context, base string) (string, error) {
	for i := 1; i <= MaxReleaseProbes; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		_, err := s.api.GetReleaseByTag(ctx, s.repo, name)
		if errors.Is(err, provider.ErrNotFound) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("check release %s: %w", name, err)
		}
		s.logger.Debug("release %s exists", name)
	}
	return "", fmt.Errorf("%w: %s after %d attempts", provider.ErrNameExhausted, base, MaxReleaseProbes)
}

// CreateRelease creates the release that collects the build's wheels. Its
// body links the project and embeds the spec.
func (s *Store) CreateRelease(ctx context.Context, releaseID string, spec buildspec.Spec, projectURL string) (*github.Release, error) {
	body, err := spec.ReleaseBody(projectURL)
	if err != nil {
		return nil, err
	}
	release, err := s.api.CreateRelease(ctx, s.repo, github.CreateReleaseRequest{
		TagName: releaseID,
		Name:    releaseID,
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("create release %s: %w", releaseID, err)
	}
	return release, nil
}

// MarkRelease prefixes the release title with a pass or fail mark.
func (s *Store) MarkRelease(ctx context.Context, releaseID string, ok bool) error {
	release, err := s.api.GetReleaseByTag(ctx, s.repo, releaseID)
	if err != nil {
		return fmt.Errorf("get release %s: %w", releaseID, err)
	}
	mark := "❌ "
	if ok {
		mark = "✅ "
	}
	title := release.Name
	if title == "" {
		title = release.TagName
	}
	_, err = s.api.UpdateRelease(ctx, s.repo, release.ID, github.UpdateReleaseRequest{
		Name: mark + title,
		Body: release.Body,
	})
	if err != nil {
		return fmt.Errorf("mark release %s: %w", releaseID, err)
	}
	return nil
}

// ReadSpec recovers the build spec embedded in a release body.
func (s *Store) ReadSpec(ctx context.Context, releaseID string) (buildspec.Spec, error) {
	release, err := s.api.GetReleaseByTag(ctx, s.repo, releaseID)
	if err != nil {
		return buildspec.Spec{}, fmt.Errorf("get release %s: %w", releaseID, err)
	}
	return buildspec.FromReleaseBody(release.Body)
}

// ListAssets returns every asset of a release.
func (s *Store) ListAssets(ctx context.Context, releaseID string) ([]Asset, error) {
	release, err := s.api.GetReleaseByTag(ctx, s.repo, releaseID)
	if err != nil {
		return nil, fmt.Errorf("get release %s: %w", releaseID, err)
	}
	raw, err := s.api.ListReleaseAssets(ctx, s.repo, release.ID)
	if err != nil {
		return nil, fmt.Errorf("list assets of %s: %w", releaseID, err)
	}
	assets := make([]Asset, 0, len(raw))
	for _, a := range raw {
		assets = append(assets, fromGitHub(a))
	}
	return assets, nil
}

func fromGitHub(a github.ReleaseAsset) Asset {
	return Asset{
		ID:          a.ID,
		Name:        a.Name,
		Size:        a.Size,
		DownloadURL: a.BrowserDownloadURL,
	}
}
