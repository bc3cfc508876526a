package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"gotodo/internal/config"
	"gotodo/internal/domain"
	"gotodo/internal/engine"
)

func registerProviders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/providers",
		Summary:     "List providers",
	}, func(ctx context.Context, input *struct {
		ServiceType string `query:"service_type"`
	}) (*struct {
		Body []domain.Provider `json:"body"`
	}, error) {
		items, err := e.ListProviders(ctx, input.ServiceType)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Provider `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-provider",
		Method:      http.MethodGet,
		Path:        "/providers/{id}",
		Summary:     "Get provider",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Provider `json:"body"`
	}, error) {
		p, err := e.GetProvider(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Provider `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-provider",
		Method:        http.MethodPost,
		Path:          "/providers",
		Summary:       "Register a provider profile",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body RegisterProviderRequest `json:"body"`
	}) (*struct {
		Body domain.Provider `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		userID := input.Body.UserID
		if userID == "" {
			userID = actorID
		}
		if userID != actorID {
			if _, aerr := requireAdmin(ctx, e); aerr != nil {
				return nil, aerr
			}
		}
		p, rerr := e.RegisterProvider(ctx, engine.RegisterProviderOptions{
			UserID:       userID,
			DisplayName:  input.Body.DisplayName,
			ServiceTypes: input.Body.ServiceTypes,
			Location:     input.Body.Location,
			HunterMode:   input.Body.HunterMode,
		})
		if rerr != nil {
			return nil, handleError(rerr)
		}
		return &struct {
			Body domain.Provider `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "nearby-requests",
		Method:      http.MethodPost,
		Path:        "/providers/nearby-requests",
		Summary:     "Hunter mode: open requests near a point",
		Description: "Without coordinates the provider profile location is used. Results are ordered nearest first.",
	}, func(ctx context.Context, input *struct {
		Body NearbyRequestsRequest `json:"body"`
	}) (*struct {
		Body []domain.NearbyRequest `json:"body"`
	}, error) {
		items, err := e.NearbyRequests(ctx, engine.NearbyOptions{
			ProviderID:   input.Body.ProviderID,
			Latitude:     input.Body.Latitude,
			Longitude:    input.Body.Longitude,
			RadiusKm:     input.Body.RadiusKm,
			ServiceTypes: input.Body.ServiceTypes,
			Limit:        input.Body.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.NearbyRequest `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-configuration",
		Method:      http.MethodGet,
		Path:        "/admin/configuration",
		Summary:     "Get system configuration",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx, e); err != nil {
			return nil, err
		}
		cfg, err := e.SystemConfig(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-configuration",
		Method:      http.MethodPut,
		Path:        "/admin/configuration",
		Summary:     "Replace system configuration",
	}, func(ctx context.Context, input *struct {
		Body config.Config `json:"body"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		actorID, err := requireAdmin(ctx, e)
		if err != nil {
			return nil, err
		}
		cfg, uerr := e.UpdateSystemConfig(ctx, &input.Body, actorID)
		if uerr != nil {
			return nil, handleError(uerr)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "broadcast",
		Method:      http.MethodPost,
		Path:        "/admin/broadcast",
		Summary:     "Notify every user, or every user of a role",
	}, func(ctx context.Context, input *struct {
		Body BroadcastRequest `json:"body"`
	}) (*struct {
		Body BroadcastResponse `json:"body"`
	}, error) {
		actorID, err := requireAdmin(ctx, e)
		if err != nil {
			return nil, err
		}
		n, berr := e.Broadcast(ctx, engine.BroadcastOptions{
			ActorID: actorID,
			Message: input.Body.Message,
			Type:    input.Body.Type,
			Role:    input.Body.Role,
		})
		if berr != nil {
			return nil, handleError(berr)
		}
		return &struct {
			Body BroadcastResponse `json:"body"`
		}{Body: BroadcastResponse{Recipients: n}}, nil
	})
}
