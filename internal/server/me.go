package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"gotodo/internal/domain"
	"gotodo/internal/engine"
	"gotodo/internal/repo"
	"gotodo/internal/theme"
)

func registerDevAuth(api huma.API, e engine.Engine, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Development login",
		Description: "Creates the user when missing and returns a signed bearer token. Only enabled when a JWT secret is configured.",
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if cfg.JWTSecret == "" {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		opts := engine.EnsureUserOptions{
			ID:    input.Body.UserID,
			Name:  input.Body.Name,
			Email: input.Body.Email,
			Role:  input.Body.Role,
		}
		existing, err := e.GetUser(ctx, input.Body.UserID)
		switch {
		case err == nil:
			if opts.Name == "" {
				opts.Name = existing.Name
			}
			if opts.Email == "" {
				opts.Email = existing.Email
			}
			if opts.Role == "" {
				opts.Role = existing.Role
			}
		case errors.Is(err, repo.ErrNotFound):
			if opts.Name == "" {
				opts.Name = input.Body.UserID
			}
		default:
			return nil, handleError(err)
		}
		u, err := e.EnsureUser(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(cfg.JWTSecret, u.ID, []string{u.Role}, cfg.TokenTTL, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, User: u}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		if p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		u, err := e.GetUser(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		th, err := e.Theme(ctx, u.ID, nil)
		if err != nil {
			return nil, handleError(err)
		}
		unread, err := e.Notifications(u.ID).UnreadCount(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := MeResponse{
			User:   u,
			Roles:  nonNilSlice(p.Roles),
			Source: p.Source,
			Theme:  th.Current(),
			Unread: unread,
		}
		if prov, err := e.Repo.GetProviderByUser(ctx, nil, u.ID); err == nil {
			resp.Provider = &prov
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-theme",
		Method:      http.MethodGet,
		Path:        "/me/theme",
		Summary:     "Current theme",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ThemeResponse `json:"body"`
	}, error) {
		st, err := callerTheme(ctx, e)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body ThemeResponse `json:"body"`
		}{Body: ThemeResponse{Theme: st.Current()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-theme",
		Method:      http.MethodPut,
		Path:        "/me/theme",
		Summary:     "Set theme",
	}, func(ctx context.Context, input *struct {
		Body SetThemeRequest `json:"body"`
	}) (*struct {
		Body ThemeResponse `json:"body"`
	}, error) {
		st, err := callerTheme(ctx, e)
		if err != nil {
			return nil, err
		}
		if serr := st.Set(ctx, input.Body.Theme); serr != nil {
			return nil, handleError(serr)
		}
		return &struct {
			Body ThemeResponse `json:"body"`
		}{Body: ThemeResponse{Theme: st.Current()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-theme",
		Method:      http.MethodPost,
		Path:        "/me/theme/toggle",
		Summary:     "Toggle between light and dark",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ThemeResponse `json:"body"`
	}, error) {
		st, err := callerTheme(ctx, e)
		if err != nil {
			return nil, err
		}
		next, terr := st.Toggle(ctx)
		if terr != nil {
			return nil, handleError(terr)
		}
		return &struct {
			Body ThemeResponse `json:"body"`
		}{Body: ThemeResponse{Theme: next}}, nil
	})
}

func callerTheme(ctx context.Context, e engine.Engine) (*theme.State, error) {
	actorID, aerr := actorIDFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	st, err := e.Theme(ctx, actorID, nil)
	if err != nil {
		return nil, handleError(err)
	}
	return st, nil
}

func registerNotifications(api huma.API, e engine.Engine) {
	list := func(ctx context.Context, userID string) (*struct {
		Body NotificationsResponse `json:"body"`
	}, error) {
		c := e.Notifications(userID)
		items, err := c.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		unread, err := c.UnreadCount(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NotificationsResponse `json:"body"`
		}{Body: NotificationsResponse{Items: nonNilSlice(items), Unread: unread}}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Notifications of the caller, newest first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NotificationsResponse `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return list(ctx, actorID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark one notification read",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body NotificationsResponse `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		if merr := e.Notifications(actorID).MarkRead(ctx, input.ID); merr != nil {
			return nil, handleError(merr)
		}
		return list(ctx, actorID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-all-notifications",
		Method:      http.MethodPost,
		Path:        "/notifications/read-all",
		Summary:     "Mark every notification read",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NotificationsResponse `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		if merr := e.Notifications(actorID).MarkAllRead(ctx); merr != nil {
			return nil, handleError(merr)
		}
		return list(ctx, actorID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-notifications",
		Method:      http.MethodDelete,
		Path:        "/notifications",
		Summary:     "Clear all notifications",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NotificationsResponse `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		if cerr := e.Notifications(actorID).Clear(ctx); cerr != nil {
			return nil, handleError(cerr)
		}
		return list(ctx, actorID)
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Issue an API key",
		Description:   "The key is only returned in this response. Send it as X-Api-Key.",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		key, plaintext, cerr := e.CreateAPIKey(ctx, engine.CreateAPIKeyOptions{UserID: actorID, Name: input.Body.Name})
		if cerr != nil {
			return nil, handleError(cerr)
		}
		resp := apiKeyResponse(key)
		resp.Key = plaintext
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List your API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		keys, lerr := e.ListAPIKeys(ctx, actorID)
		if lerr != nil {
			return nil, handleError(lerr)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		if err := e.RevokeAPIKey(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		ActorID    string `query:"actor_id"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx, e); err != nil {
			return nil, err
		}
		var cursor int64
		if input.Cursor != "" {
			c, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			cursor = c
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			ActorID:    input.ActorID,
			Cursor:     cursor,
			Limit:      limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		var next string
		if len(items) == limit {
			next = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: out, NextCursor: next}}, nil
	})
}
