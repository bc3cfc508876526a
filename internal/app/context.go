package app

import (
	"context"
	"fmt"

	"gotodo/internal/config"
	"gotodo/internal/domain"
	"gotodo/internal/engine"
	"gotodo/internal/store"
)

// ResolveConfig returns the active system configuration. When none has been
// saved yet it seeds one from the workspace gotodo.yml, or the built-in
// defaults when that file is absent.
func ResolveConfig(ctx context.Context, workspace string, e engine.Engine) (*config.Config, error) {
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		seed = config.Default()
	}
	typed := store.NewTyped(e.Store, store.GlobalScope, store.KeySystemConfig, func() *config.Config { return seed })
	cfg, found, err := typed.Load(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		return cfg, nil
	}
	if err := typed.Save(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed system config: %w", err)
	}
	return seed, nil
}

// SessionUser reads the locally logged-in user; ok is false when nobody is.
func SessionUser(ctx context.Context, gw store.Gateway) (domain.User, bool, error) {
	return sessionStore(gw).Load(ctx)
}

// SaveSessionUser remembers u as the local user, like the browser session.
func SaveSessionUser(ctx context.Context, gw store.Gateway, u domain.User) error {
	return sessionStore(gw).Save(ctx, u)
}

func ClearSessionUser(ctx context.Context, gw store.Gateway) error {
	return sessionStore(gw).Clear(ctx)
}

func sessionStore(gw store.Gateway) store.Typed[domain.User] {
	return store.NewTyped(gw, store.GlobalScope, store.KeyUser, func() domain.User { return domain.User{} })
}
