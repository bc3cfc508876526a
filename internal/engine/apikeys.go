package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gotodo/internal/domain"
	"gotodo/internal/events"
	"gotodo/internal/repo"
)

const apiKeyPrefix = "gtd_"

type CreateAPIKeyOptions struct {
	UserID string `validate:"required"`
	Name   string `validate:"max=120"`
}

// CreateAPIKey issues a key for the user. The plaintext is returned once;
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, opts CreateAPIKeyOptions) (domain.APIKey, string, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if err := validateOpts(opts); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	plaintext := apiKeyPrefix + hex.EncodeToString(secret)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUser(ctx, tx, opts.UserID); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("user %s: %w", opts.UserID, err)
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   opts.UserID,
		Name:      opts.Name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, "api_key.create", events.KindAPIKey, key.ID, opts.UserID, events.EventPayload{"name": key.Name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, userID)
}

// RevokeAPIKey deletes a key. Owners revoke their own keys; admins any key.
func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	key, err := e.Repo.GetAPIKey(ctx, tx, id)
	if err != nil {
		return err
	}
	if key.ActorID != actorID && !e.isAdmin(ctx, tx, actorID) {
		return forbidden("only the owner or an admin can revoke this key")
	}
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "api_key.revoke", events.KindAPIKey, id, actorID, events.EventPayload{"owner": key.ActorID}); err != nil {
		return err
	}
	return tx.Commit()
}
