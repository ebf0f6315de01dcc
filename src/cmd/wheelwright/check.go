package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/explosion/wheelwright/src/config"
	"github.com/explosion/wheelwright/src/github"
	"github.com/explosion/wheelwright/src/provider"
)

// ciFiles must sit in the root of the build repository.
var ciFiles = []string{".travis.yml", "appveyor.yml"}

// accountAPI is what check asks GitHub.
type accountAPI interface {
	GetAuthenticatedUser(ctx context.Context) (*github.User, error)
	GetRateLimit(ctx context.Context) (*github.RateLimit, error)
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that everything is set up correctly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var api accountAPI
			if a.cfg.Token != "" {
				api = github.NewClient(a.cfg.Token)
			}
			if !runCheck(ctx, cmd.OutOrStdout(), a.cfg, api) {
				return fmt.Errorf("%w: setup is incomplete", provider.ErrConfig)
			}
			return nil
		},
	}
}

var (
	okStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#34A853"))
	noStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EA4335"))
)

// runCheck prints one line per setup item and reports whether all passed.
// api is nil when no token was found.
func runCheck(ctx context.Context, w io.Writer, cfg *config.Config, api accountAPI) bool {
	allOK := true
	ok := func(format string, args ...any) {
		fmt.Fprintln(w, okStyle.Render("✓ "+fmt.Sprintf(format, args...)))
	}
	no := func(format string, args ...any) {
		allOK = false
		fmt.Fprintln(w, noStyle.Render("✘ "+fmt.Sprintf(format, args...)))
	}

	fmt.Fprintln(w, "Checking if things are set up correctly...")
	fmt.Fprintln(w)

	if err := cfg.RequireRepo(); err != nil {
		no("Couldn't get build repo name via git or WHEELWRIGHT_REPO.")
	} else {
		ok("Using build repo %s", cfg.Repo)
	}

	switch cfg.TokenSource {
	case config.TokenFromEnv:
		ok("Found GitHub secret in GITHUB_SECRET_TOKEN environment variable.")
	case config.TokenFromFile:
		ok("Found GitHub secret in %s file.", config.TokenFileName)
	}

	if api == nil {
		no("No GitHub secret found in environment variable or %s.", config.TokenFileName)
	} else {
		user, err := api.GetAuthenticatedUser(ctx)
		if err != nil {
			no("Couldn't connect to GitHub. Maybe the token is invalid?\n%v", err)
		} else {
			ok("Connected to GitHub with token for user @%s", user.Login)
			if rl, err := api.GetRateLimit(ctx); err != nil {
				no("Couldn't check GitHub rate limiting: %v", err)
			} else {
				ok("Checked GitHub rate limiting: %d/%d remaining", rl.Resources.Core.Remaining, rl.Resources.Core.Limit)
			}
		}
	}

	for _, name := range ciFiles {
		if _, err := os.Stat(filepath.Join(cfg.Root, name)); err != nil {
			no("No %s found in root directory.", name)
		} else {
			ok("%s exists in root directory.", name)
		}
	}
	return allOK
}
