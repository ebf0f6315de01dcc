// Package mcp exposes build history and release contents as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/buildspec"
	"github.com/explosion/wheelwright/src/provider"
	"github.com/explosion/wheelwright/src/store"
)

// Releases reads from the build repository.
type Releases interface {
	ReadSpec(ctx context.Context, releaseID string) (buildspec.Spec, error)
	ListAssets(ctx context.Context, releaseID string) ([]artifact.Asset, error)
}

// Server is the MCP server for wheelwright.
type Server struct {
	mcpServer *server.MCPServer
	history   store.Store
	releases  Releases
}

// NewServer creates a new MCP server.
func NewServer(version string, history store.Store, releases Releases) *Server {
	s := server.NewMCPServer(
		"wheelwright",
		version,
		server.WithToolCapabilities(true),
	)

	srv := &Server{
		mcpServer: s,
		history:   history,
		releases:  releases,
	}
	srv.registerTools()

	return srv
}

func (s *Server) registerTools() {
	outcomeTool := mcp.NewTool("get_build_outcome",
		mcp.WithDescription("Get the saved outcome of a wheel build: verdict, every CI check with its state and log URL, and the downloaded wheels."),
		mcp.WithString("release_id",
			mcp.Required(),
			mcp.Description("Release id, e.g. cymem-v2.0.2"),
		),
	)

	historyTool := mcp.NewTool("list_build_outcomes",
		mcp.WithDescription("List the most recent wheel builds, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Max builds to return (default: 20)"),
		),
	)

	assetsTool := mcp.NewTool("list_release_assets",
		mcp.WithDescription("List the wheels uploaded to a build release."),
		mcp.WithString("release_id",
			mcp.Required(),
			mcp.Description("Release id"),
		),
	)

	specTool := mcp.NewTool("read_build_spec",
		mcp.WithDescription("Read the build spec (clone URL, package, commit, options) stored in a build release."),
		mcp.WithString("release_id",
			mcp.Required(),
			mcp.Description("Release id"),
		),
	)

	s.mcpServer.AddTool(outcomeTool, s.handleGetBuildOutcome)
	s.mcpServer.AddTool(historyTool, s.handleListBuildOutcomes)
	s.mcpServer.AddTool(assetsTool, s.handleListReleaseAssets)
	s.mcpServer.AddTool(specTool, s.handleReadBuildSpec)
}

// Run serves the tools on stdio until the client disconnects.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleGetBuildOutcome(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	releaseID := request.GetString("release_id", "")
	if releaseID == "" {
		return mcp.NewToolResultError("release_id parameter is required"), nil
	}

	rec, err := s.history.GetOutcome(ctx, releaseID)
	if errors.Is(err, provider.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no saved outcome for release %s", releaseID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load outcome: %v", err)), nil
	}
	return jsonResult(rec)
}

func (s *Server) handleListBuildOutcomes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	recs, err := s.history.ListOutcomes(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list outcomes: %v", err)), nil
	}
	return jsonResult(recs)
}

func (s *Server) handleListReleaseAssets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	releaseID := request.GetString("release_id", "")
	if releaseID == "" {
		return mcp.NewToolResultError("release_id parameter is required"), nil
	}

	assets, err := s.releases.ListAssets(ctx, releaseID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list assets of %s: %v", releaseID, err)), nil
	}
	if assets == nil {
		assets = []artifact.Asset{}
	}
	return jsonResult(assets)
}

func (s *Server) handleReadBuildSpec(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	releaseID := request.GetString("release_id", "")
	if releaseID == "" {
		return mcp.NewToolResultError("release_id parameter is required"), nil
	}

	spec, err := s.releases.ReadSpec(ctx, releaseID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read build spec of %s: %v", releaseID, err)), nil
	}
	return jsonResult(spec)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
