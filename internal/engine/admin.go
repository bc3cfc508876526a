package engine

import (
	"context"
	"fmt"

	"gotodo/internal/config"
	"gotodo/internal/domain"
	"gotodo/internal/events"
	"gotodo/internal/notify"
)

// UpdateSystemConfig validates and stores a new runtime configuration.
func (e Engine) UpdateSystemConfig(ctx context.Context, cfg *config.Config, actorID string) (*config.Config, error) {
	if cfg == nil {
		return nil, invalid("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if !e.isAdmin(ctx, nil, actorID) {
		return nil, forbidden("admin role required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	publish, err := e.systemConfig().SaveTx(ctx, tx, cfg)
	if err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "config.update", events.KindConfig, "", actorID, events.EventPayload{
		"maintenance_mode": cfg.Platform.MaintenanceMode,
		"service_types":    len(cfg.Services.Catalog),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	publish()
	return cfg, nil
}

type BroadcastOptions struct {
	ActorID string `validate:"required"`
	Message string `validate:"required,max=500"`
	Type    string `validate:"omitempty,oneof=info success warning error"`
	// Role limits the audience; empty reaches everyone.
	Role string `validate:"omitempty,oneof=requester provider admin"`
}

// Broadcast adds a notification for every matching user and returns how
// many were reached.
func (e Engine) Broadcast(ctx context.Context, opts BroadcastOptions) (int, error) {
	if err := validateOpts(opts); err != nil {
		return 0, err
	}
	if !e.isAdmin(ctx, nil, opts.ActorID) {
		return 0, forbidden("admin role required")
	}
	if opts.Type == "" {
		opts.Type = notify.TypeInfo
	}
	users, err := e.Repo.ListUsers(ctx, nil, opts.Role)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, u := range users {
		if _, err := e.Notify.For(u.ID).Add(ctx, domain.Notification{Message: opts.Message, Type: opts.Type}); err != nil {
			return sent, fmt.Errorf("notify %s: %w", u.ID, err)
		}
		sent++
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sent, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "notification.broadcast", events.KindNotification, "", opts.ActorID, events.EventPayload{"role": opts.Role, "recipients": sent}); err != nil {
		return sent, err
	}
	return sent, tx.Commit()
}
