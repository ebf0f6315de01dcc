package artifact

import (
	"context"
	"fmt"

	"github.com/explosion/wheelwright/src/buildspec"
	"github.com/explosion/wheelwright/src/github"
)

// Steps of the publish protocol, in order.
const (
	StepResolveBranch = "resolve default branch"
	StepReadHead      = "read head commit"
	StepCreateTree    = "create tree"
	StepCreateCommit  = "create commit"
	StepCreateRef     = "create ref"
)

// PublishError reports which publish step failed.
type PublishError struct {
	Step string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish build spec: %s: %v", e.Step, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// CommitRef is the commit that carries a published spec.
type CommitRef struct {
	Branch string
	SHA    string
}

// BranchName is the build branch for a release.
func BranchName(releaseID string) string {
	return "branch-for-" + releaseID
}

// PublishSpec commits build-spec.json on top of the default branch head and
// points a new build branch at it. CI picks up the branch push.
func (s *Store) PublishSpec(ctx context.Context, releaseID string, spec buildspec.Spec) (CommitRef, error) {
	data, err := spec.Marshal()
	if err != nil {
		return CommitRef{}, err
	}

	repo, err := s.api.GetRepository(ctx, s.repo)
	if err != nil {
		return CommitRef{}, &PublishError{Step: StepResolveBranch, Err: err}
	}
	base := repo.DefaultBranch
	if base == "" {
		base = "master"
	}

	head, err := s.api.GetCommit(ctx, s.repo, base)
	if err != nil {
		return CommitRef{}, &PublishError{Step: StepReadHead, Err: err}
	}

	tree, err := s.api.CreateTree(ctx, s.repo, head.Commit.Tree.SHA, []github.TreeEntry{{
		Path:    buildspec.FileName,
		Mode:    "100644",
		Type:    "blob",
		Content: string(data),
	}})
	if err != nil {
		return CommitRef{}, &PublishError{Step: StepCreateTree, Err: err}
	}

	commit, err := s.api.CreateCommit(ctx, s.repo, "Building: "+releaseID, tree.SHA, []string{head.SHA})
	if err != nil {
		return CommitRef{}, &PublishError{Step: StepCreateCommit, Err: err}
	}

	branch := BranchName(releaseID)
	if _, err := s.api.CreateRef(ctx, s.repo, "refs/heads/"+branch, commit.SHA); err != nil {
		return CommitRef{}, &PublishError{Step: StepCreateRef, Err: err}
	}

	s.logger.Debug("commit %s on branch %s", commit.SHA, branch)
	return CommitRef{Branch: branch, SHA: commit.SHA}, nil
}
