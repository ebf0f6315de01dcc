package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/explosion/wheelwright/src/github"
)

// fakeAPI is an in-memory build repository.
type fakeAPI struct {
	mu       sync.Mutex
	releases map[string]*github.Release
	assets   map[int64][]github.ReleaseAsset
	content  map[string]string // download URL -> body
	nextID   int64

	defaultBranch string
	trees         []github.TreeEntry
	commitMsg     string
	commitParents []string
	refs          map[string]string

	failStep   string
	failUpload map[string]bool
	failFetch  map[string]bool
	lookupErr  error
	lookups    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		releases:      make(map[string]*github.Release),
		assets:        make(map[int64][]github.ReleaseAsset),
		content:       make(map[string]string),
		refs:          make(map[string]string),
		failUpload:    make(map[string]bool),
		failFetch:     make(map[string]bool),
		defaultBranch: "main",
	}
}

func (f *fakeAPI) addRelease(tag string) *github.Release {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r := &github.Release{ID: f.nextID, TagName: tag, Name: tag, UploadURL: fmt.Sprintf("upload/%d{?name,label}", f.nextID)}
	f.releases[tag] = r
	return r
}

func (f *fakeAPI) addAsset(tag, name, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.releases[tag]
	url := "https://dl/" + tag + "/" + name
	f.assets[r.ID] = append(f.assets[r.ID], github.ReleaseAsset{
		ID:                 int64(len(f.assets[r.ID]) + 1),
		Name:               name,
		Size:               int64(len(body)),
		BrowserDownloadURL: url,
	})
	f.content[url] = body
}

func notFound() error {
	return &github.APIError{StatusCode: 404, Body: `{"message":"Not Found"}`}
}

func (f *fakeAPI) GetRepository(ctx context.Context, repo string) (*github.Repository, error) {
	if f.failStep == StepResolveBranch {
		return nil, errors.New("boom")
	}
	return &github.Repository{FullName: repo, DefaultBranch: f.defaultBranch}, nil
}

func (f *fakeAPI) GetReleaseByTag(ctx context.Context, repo, tag string) (*github.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	r, ok := f.releases[tag]
	if !ok {
		return nil, notFound()
	}
	cp := *r
	return &cp, nil
}

func (f *fakeAPI) CreateRelease(ctx context.Context, repo string, in github.CreateReleaseRequest) (*github.Release, error) {
	r := f.addRelease(in.TagName)
	f.mu.Lock()
	r.Name = in.Name
	r.Body = in.Body
	f.mu.Unlock()
	return r, nil
}

func (f *fakeAPI) UpdateRelease(ctx context.Context, repo string, id int64, in github.UpdateReleaseRequest) (*github.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.releases {
		if r.ID == id {
			r.Name = in.Name
			r.Body = in.Body
			return r, nil
		}
	}
	return nil, notFound()
}

func (f *fakeAPI) ListReleaseAssets(ctx context.Context, repo string, id int64) ([]github.ReleaseAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]github.ReleaseAsset(nil), f.assets[id]...), nil
}

func (f *fakeAPI) UploadReleaseAsset(ctx context.Context, uploadURL, name, path string) (*github.ReleaseAsset, error) {
	if f.failUpload[name] {
		return nil, &github.APIError{StatusCode: 422, Body: "already_exists"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var id int64
	fmt.Sscanf(strings.TrimPrefix(uploadURL, "upload/"), "%d", &id)

	f.mu.Lock()
	defer f.mu.Unlock()
	a := github.ReleaseAsset{ID: int64(len(f.assets[id]) + 1), Name: name, Size: int64(len(data)), State: "uploaded"}
	f.assets[id] = append(f.assets[id], a)
	return &a, nil
}

func (f *fakeAPI) DownloadAsset(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	f.mu.Lock()
	body, ok := f.content[downloadURL]
	fail := f.failFetch[filepath.Base(downloadURL)]
	f.mu.Unlock()
	if fail {
		io.WriteString(w, "partial")
		return 0, errors.New("connection reset")
	}
	if !ok {
		return 0, notFound()
	}
	n, err := io.WriteString(w, body)
	return int64(n), err
}

func (f *fakeAPI) GetCommit(ctx context.Context, repo, ref string) (*github.Commit, error) {
	if f.failStep == StepReadHead {
		return nil, errors.New("boom")
	}
	c := &github.Commit{SHA: "head-of-" + ref}
	c.Commit.Tree.SHA = "tree-of-" + ref
	return c, nil
}

func (f *fakeAPI) CreateTree(ctx context.Context, repo, baseTree string, entries []github.TreeEntry) (*github.Tree, error) {
	if f.failStep == StepCreateTree {
		return nil, errors.New("boom")
	}
	f.trees = entries
	return &github.Tree{SHA: "new-tree-on-" + baseTree}, nil
}

func (f *fakeAPI) CreateCommit(ctx context.Context, repo, message, tree string, parents []string) (*github.GitCommit, error) {
	if f.failStep == StepCreateCommit {
		return nil, errors.New("boom")
	}
	f.commitMsg = message
	f.commitParents = parents
	return &github.GitCommit{SHA: "c0ffee", Message: message}, nil
}

func (f *fakeAPI) CreateRef(ctx context.Context, repo, ref, sha string) (*github.Ref, error) {
	if f.failStep == StepCreateRef {
		return nil, errors.New("boom")
	}
	f.refs[ref] = sha
	r := &github.Ref{Ref: ref}
	r.Object.SHA = sha
	return r, nil
}
