package app

import (
	"context"
	"os"
	"testing"

	"gotodo/internal/config"
	"gotodo/internal/db"
	"gotodo/internal/domain"
	"gotodo/internal/engine"
	"gotodo/internal/migrate"
)

func newEngine(t *testing.T, workspace string) engine.Engine {
	t.Helper()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	t.Cleanup(e.Chat.Shutdown)
	return e
}

func TestResolveConfigSeedsFromWorkspaceFile(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	e := newEngine(t, workspace)

	cfg := config.Default()
	cfg.Platform.Name = "Neighbourhood Errands"
	cfg.Bidding.MaxBidsPerRequest = 3
	data := config.GenerateDefault()
	if err := os.WriteFile(config.Path(workspace), []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := ResolveConfig(ctx, workspace, e)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Platform.Name != config.Default().Platform.Name {
		t.Fatalf("expected file config, got %q", got.Platform.Name)
	}

	// A saved config wins over the file on the next resolve.
	if _, err := e.EnsureUser(ctx, engine.EnsureUserOptions{ID: "admin", Name: "Admin", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if _, err := e.UpdateSystemConfig(ctx, cfg, "admin"); err != nil {
		t.Fatalf("update config: %v", err)
	}
	got, err = ResolveConfig(ctx, workspace, e)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if got.Platform.Name != "Neighbourhood Errands" || got.Bidding.MaxBidsPerRequest != 3 {
		t.Fatalf("expected saved config, got %+v", got.Platform)
	}
}

func TestResolveConfigFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	e := newEngine(t, workspace)

	got, err := ResolveConfig(ctx, workspace, e)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Platform.Name != config.Default().Platform.Name {
		t.Fatalf("expected defaults, got %q", got.Platform.Name)
	}
	if len(got.Services.Catalog) == 0 {
		t.Fatalf("expected default service catalog")
	}
}

func TestSessionUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir())

	if _, ok, err := SessionUser(ctx, e.Store); err != nil || ok {
		t.Fatalf("expected no session user, ok=%v err=%v", ok, err)
	}
	u := domain.User{ID: "req-1", Name: "Rita", Role: domain.RoleRequester}
	if err := SaveSessionUser(ctx, e.Store, u); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := SessionUser(ctx, e.Store)
	if err != nil || !ok || got.ID != "req-1" {
		t.Fatalf("unexpected session user %+v ok=%v err=%v", got, ok, err)
	}
	if err := ClearSessionUser(ctx, e.Store); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := SessionUser(ctx, e.Store); ok {
		t.Fatalf("expected session cleared")
	}
}
