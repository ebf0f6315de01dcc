package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/buildspec"
	"github.com/explosion/wheelwright/src/contracts"
	"github.com/explosion/wheelwright/src/provider"
	"github.com/explosion/wheelwright/src/store"
)

type fakeReleases struct {
	specs  map[string]buildspec.Spec
	assets map[string][]artifact.Asset
}

func (f *fakeReleases) ReadSpec(ctx context.Context, releaseID string) (buildspec.Spec, error) {
	spec, ok := f.specs[releaseID]
	if !ok {
		return buildspec.Spec{}, fmt.Errorf("release %s: %w", releaseID, provider.ErrNotFound)
	}
	return spec, nil
}

func (f *fakeReleases) ListAssets(ctx context.Context, releaseID string) ([]artifact.Asset, error) {
	if _, ok := f.specs[releaseID]; !ok {
		return nil, fmt.Errorf("release %s: %w", releaseID, provider.ErrNotFound)
	}
	return f.assets[releaseID], nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	history := store.NewMemoryStore()
	ctx := context.Background()
	for i, id := range []string{"cymem-v1", "cymem-v2"} {
		rec := &contracts.BuildRecord{
			ReleaseID:  id,
			Verdict:    contracts.VerdictSucceeded,
			Checks:     []contracts.CheckState{{Name: "Travis", State: "success", URL: "https://travis/" + id}},
			FinishedAt: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
		}
		if err := history.SaveOutcome(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	releases := &fakeReleases{
		specs: map[string]buildspec.Spec{
			"cymem-v2": buildspec.New("https://github.com/explosion/cymem.git", "cymem", "v2", "explosion/wheelwright", "cymem-v2", nil),
			"empty":    buildspec.New("https://github.com/explosion/cymem.git", "cymem", "v0", "explosion/wheelwright", "empty", nil),
		},
		assets: map[string][]artifact.Asset{
			"cymem-v2": {{ID: 1, Name: "cymem-2.0-cp38-win_amd64.whl", Size: 10}},
		},
	}
	return NewServer("test", history, releases)
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content type %T", c)
		return ""
	}
}

func TestServer_Tools(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		wantErr bool
		want    []string
	}{
		{
			name:    "outcome",
			handler: s.handleGetBuildOutcome,
			args:    map[string]any{"release_id": "cymem-v1"},
			want:    []string{`"release_id":"cymem-v1"`, `"verdict":"succeeded"`, "https://travis/cymem-v1"},
		},
		{
			name:    "outcome missing",
			handler: s.handleGetBuildOutcome,
			args:    map[string]any{"release_id": "nope"},
			wantErr: true,
			want:    []string{"no saved outcome for release nope"},
		},
		{
			name:    "outcome without id",
			handler: s.handleGetBuildOutcome,
			args:    map[string]any{},
			wantErr: true,
			want:    []string{"release_id parameter is required"},
		},
		{
			name:    "history",
			handler: s.handleListBuildOutcomes,
			args:    map[string]any{"limit": 1},
			want:    []string{"cymem-v2"},
		},
		{
			name:    "history bad limit",
			handler: s.handleListBuildOutcomes,
			args:    map[string]any{"limit": 0},
			wantErr: true,
		},
		{
			name:    "assets",
			handler: s.handleListReleaseAssets,
			args:    map[string]any{"release_id": "cymem-v2"},
			want:    []string{"cymem-2.0-cp38-win_amd64.whl"},
		},
		{
			name:    "assets of empty release",
			handler: s.handleListReleaseAssets,
			args:    map[string]any{"release_id": "empty"},
			want:    []string{"[]"},
		},
		{
			name:    "assets of missing release",
			handler: s.handleListReleaseAssets,
			args:    map[string]any{"release_id": "nope"},
			wantErr: true,
			want:    []string{"nope"},
		},
		{
			name:    "spec",
			handler: s.handleReadBuildSpec,
			args:    map[string]any{"release_id": "cymem-v2"},
			want:    []string{`"clone-url":"https://github.com/explosion/cymem.git"`, `"release-id":"cymem-v2"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.handler(context.Background(), call(tt.args))
			if err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if res.IsError != tt.wantErr {
				t.Errorf("IsError = %v, want %v", res.IsError, tt.wantErr)
			}
			text := resultText(t, res)
			for _, want := range tt.want {
				if !strings.Contains(text, want) {
					t.Errorf("result %s should contain %s", text, want)
				}
			}
		})
	}
}

func TestServer_HistoryIsNewestFirst(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleListBuildOutcomes(context.Background(), call(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	var recs []contracts.BuildRecord
	if err := json.Unmarshal([]byte(resultText(t, res)), &recs); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(recs) != 2 || recs[0].ReleaseID != "cymem-v2" {
		t.Errorf("records = %+v, want cymem-v2 first", recs)
	}
}
