// Package buildspec defines the build request that is committed to the
// build repository and embedded in the release body.
package buildspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// UploadTypeGitHubRelease is the only supported upload target.
const UploadTypeGitHubRelease = "github-release"

// FileName is the path of the spec on the build branch.
const FileName = "build-spec.json"

// UploadTarget says where CI should deliver the built wheels.
type UploadTarget struct {
	Type      string `json:"type"`
	RepoID    string `json:"repo-id"`
	ReleaseID string `json:"release-id"`
}

// Spec is what to build and where to put the results. Option values are
// strings, bools, json.Number or nested JSON values; New normalizes numbers
// so a spec survives a JSON round trip unchanged.
type Spec struct {
	CloneURL    string         `json:"clone-url"`
	PackageName string         `json:"package-name"`
	Commit      string         `json:"commit"`
	Options     map[string]any `json:"options,omitempty"`
	UploadTo    UploadTarget   `json:"upload-to"`
}

// New builds a spec targeting a release in the build repository.
func New(cloneURL, packageName, commit, repoID, releaseID string, options map[string]any) Spec {
	return Spec{
		CloneURL:    cloneURL,
		PackageName: packageName,
		Commit:      commit,
		Options:     normalizeOptions(options),
		UploadTo: UploadTarget{
			Type:      UploadTypeGitHubRelease,
			RepoID:    repoID,
			ReleaseID: releaseID,
		},
	}
}

// normalizeOptions gives options the shape Parse decodes: numbers become
// json.Number and an empty map becomes nil.
func normalizeOptions(options map[string]any) map[string]any {
	if len(options) == 0 {
		return nil
	}
	out := make(map[string]any, len(options))
	for k, v := range options {
		out[k] = v
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		var decoded any
		if err := decodeJSON(data, &decoded); err == nil {
			out[k] = decoded
		}
	}
	return out
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// CloneURL returns the https clone URL for a "user/repo" id.
func CloneURL(repoID string) string {
	return fmt.Sprintf("https://github.com/%s.git", repoID)
}

// Validate rejects specs CI could not act on.
func (s Spec) Validate() error {
	var missing []string
	if s.CloneURL == "" {
		missing = append(missing, "clone-url")
	}
	if s.PackageName == "" {
		missing = append(missing, "package-name")
	}
	if s.Commit == "" {
		missing = append(missing, "commit")
	}
	if s.UploadTo.RepoID == "" {
		missing = append(missing, "upload-to.repo-id")
	}
	if s.UploadTo.ReleaseID == "" {
		missing = append(missing, "upload-to.release-id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("build spec missing %s", strings.Join(missing, ", "))
	}
	if s.UploadTo.Type != UploadTypeGitHubRelease {
		return fmt.Errorf("unsupported upload type %q", s.UploadTo.Type)
	}
	return nil
}

// Marshal returns the compact JSON committed as build-spec.json.
func (s Spec) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// MarshalIndent returns the JSON embedded in the release body.
func (s Spec) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "    ")
}

// Parse decodes and validates a spec.
func Parse(data []byte) (Spec, error) {
	var s Spec
	if err := decodeJSON(data, &s); err != nil {
		return Spec{}, fmt.Errorf("decode build spec: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// Load reads a spec from disk.
func Load(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read build spec: %w", err)
	}
	return Parse(data)
}

// ReleaseBody renders the release description: the project link followed by
// the spec as an indented JSON block.
func (s Spec) ReleaseBody(projectURL string) (string, error) {
	data, err := s.MarshalIndent()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\n\n### Build spec\n\n```json\n%s\n```", projectURL, data), nil
}

var bodyBlockPattern = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")

// ErrNoSpecInBody is returned when a release body carries no spec block.
var ErrNoSpecInBody = errors.New("release body has no build spec")

// FromReleaseBody recovers the spec embedded by ReleaseBody.
func FromReleaseBody(body string) (Spec, error) {
	m := bodyBlockPattern.FindStringSubmatch(strings.ReplaceAll(body, "\r\n", "\n"))
	if m == nil {
		return Spec{}, ErrNoSpecInBody
	}
	return Parse([]byte(m[1]))
}

// EnvLines renders the spec as shell assignments for CI scripts.
func (s Spec) EnvLines() []string {
	lines := []string{
		"BUILD_SPEC_CLONE_URL=" + ShellQuote(s.CloneURL),
		"BUILD_SPEC_COMMIT=" + ShellQuote(s.Commit),
		"BUILD_SPEC_PACKAGE_NAME=" + ShellQuote(s.PackageName),
	}
	keys := make([]string, 0, len(s.Options))
	for k := range s.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, "BUILD_SPEC_OPTION_"+envName(k)+"="+ShellQuote(fmt.Sprint(s.Options[k])))
	}
	return lines
}

var nonEnvChars = regexp.MustCompile(`[^A-Z0-9_]`)

func envName(key string) string {
	return nonEnvChars.ReplaceAllString(strings.ToUpper(key), "_")
}

// ShellQuote single-quotes a value for POSIX shells.
func ShellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
}
