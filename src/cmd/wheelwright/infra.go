package main

import (
	"context"
	"fmt"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/broker"
	"github.com/explosion/wheelwright/src/github"
	"github.com/explosion/wheelwright/src/mirror"
	"github.com/explosion/wheelwright/src/provider"
	"github.com/explosion/wheelwright/src/store"
)

// githubClient requires a token.
func (a *app) githubClient() (*github.Client, error) {
	if err := a.cfg.RequireToken(); err != nil {
		return nil, err
	}
	return github.NewClient(a.cfg.Token), nil
}

// releases opens the artifact store of the configured build repository.
func (a *app) releases() (*artifact.Store, *github.Client, error) {
	if err := a.cfg.RequireRepo(); err != nil {
		return nil, nil, err
	}
	client, err := a.githubClient()
	if err != nil {
		return nil, nil, err
	}
	return a.releasesIn(client, a.cfg.Repo), client, nil
}

func (a *app) releasesIn(client *github.Client, repo string) *artifact.Store {
	return artifact.NewStore(client, repo,
		artifact.WithConcurrency(a.cfg.Concurrency),
		artifact.WithLogger(a.log),
	)
}

// history opens Postgres when POSTGRES_DSN is set and an in-memory store
// otherwise.
func (a *app) history(ctx context.Context) (store.Store, error) {
	if a.cfg.PostgresDSN == "" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewPostgresStore(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to Postgres: %w", err)
	}
	return st, nil
}

// requireHistory is history for commands that only read it back.
func (a *app) requireHistory(ctx context.Context) (store.Store, error) {
	if a.cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("%w: POSTGRES_DSN is not set, so no build history is kept", provider.ErrConfig)
	}
	return a.history(ctx)
}

// broker connects to Redpanda when REDPANDA_BROKERS is set and falls back
// to an in-process broker.
func (a *app) broker() (broker.Broker, error) {
	if len(a.cfg.RedpandaBrokers) == 0 {
		return broker.NewInMemoryBroker(), nil
	}
	b, err := broker.NewRedpandaBroker(a.cfg.RedpandaBrokers, a.log)
	if err != nil {
		return nil, fmt.Errorf("connect to Redpanda: %w", err)
	}
	return b, nil
}

// mirror is nil when no bucket is configured.
func (a *app) mirror(ctx context.Context) (*mirror.S3Mirror, error) {
	if !a.cfg.S3.Enabled() {
		return nil, nil
	}
	return mirror.New(ctx, a.cfg.S3, a.log)
}
