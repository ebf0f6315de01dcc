package github

import "time"

// Repository is the subset of repository metadata we use
type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	CloneURL      string `json:"clone_url"`
	Private       bool   `json:"private"`
}

// Release represents a GitHub release
type Release struct {
	ID        int64     `json:"id"`
	TagName   string    `json:"tag_name"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	UploadURL string    `json:"upload_url"`
	Draft     bool      `json:"draft"`
	CreatedAt time.Time `json:"created_at"`
}

// ReleaseAsset is a file attached to a release
type ReleaseAsset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	State              string `json:"state"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// CreateReleaseRequest is the body of POST /repos/{repo}/releases
type CreateReleaseRequest struct {
	TagName         string `json:"tag_name"`
	Name            string `json:"name"`
	Body            string `json:"body"`
	TargetCommitish string `json:"target_commitish,omitempty"`
}

// UpdateReleaseRequest is the body of PATCH /repos/{repo}/releases/{id}
type UpdateReleaseRequest struct {
	Name string `json:"name,omitempty"`
	Body string `json:"body,omitempty"`
}

// Commit is a commit as returned by GET /repos/{repo}/commits/{ref}
type Commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Tree    struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	} `json:"commit"`
}

// TreeEntry is one file of a git tree to create
type TreeEntry struct {
	Path    string `json:"path"`
	Mode    string `json:"mode"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Tree is a created git tree
type Tree struct {
	SHA string `json:"sha"`
}

// GitCommit is a created git commit
type GitCommit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

// Ref is a git reference
type Ref struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// Status is one commit status reported by a CI vendor
type Status struct {
	Context     string `json:"context"`
	State       string `json:"state"`
	TargetURL   string `json:"target_url"`
	Description string `json:"description"`
}

// CombinedStatus is the response of GET /repos/{repo}/commits/{sha}/status
type CombinedStatus struct {
	State      string   `json:"state"`
	SHA        string   `json:"sha"`
	TotalCount int      `json:"total_count"`
	Statuses   []Status `json:"statuses"`
}

// User is the authenticated user
type User struct {
	Login string `json:"login"`
}

// RateLimit is the core API quota
type RateLimit struct {
	Resources struct {
		Core struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"core"`
	} `json:"resources"`
}
