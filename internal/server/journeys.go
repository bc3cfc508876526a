package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"gotodo/internal/domain"
	"gotodo/internal/engine"
)

type journeyOutput struct {
	Body domain.JourneyPlan `json:"body"`
}

func journeyResponse(j domain.JourneyPlan, err error) (*journeyOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	j.Stops = nonNilSlice(j.Stops)
	for i := range j.Stops {
		j.Stops[i].Actions = nonNilSlice(j.Stops[i].Actions)
	}
	return &journeyOutput{Body: j}, nil
}

// readableJourney loads a plan visible to the caller: its owner or an admin.
func readableJourney(ctx context.Context, e engine.Engine, id string) (domain.JourneyPlan, error) {
	actorID, aerr := actorIDFromContext(ctx)
	if aerr != nil {
		return domain.JourneyPlan{}, aerr
	}
	j, err := e.GetJourney(ctx, id)
	if err != nil {
		return j, handleError(err)
	}
	if j.OwnerID != actorID {
		if _, err := requireAdmin(ctx, e); err != nil {
			return j, err
		}
	}
	return j, nil
}

func registerJourneys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-journey",
		Method:        http.MethodPost,
		Path:          "/journeys",
		Summary:       "Start a journey plan",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateJourneyRequest `json:"body"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.CreateJourney(ctx, engine.CreateJourneyOptions{
			OwnerID: actorID,
			Title:   input.Body.Title,
			Notes:   input.Body.Notes,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-journeys",
		Method:      http.MethodGet,
		Path:        "/journeys",
		Summary:     "List the caller's journey plans",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.JourneyPlan `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		plans, lerr := e.ListJourneys(ctx, actorID)
		if lerr != nil {
			return nil, handleError(lerr)
		}
		for i := range plans {
			plans[i].Stops = nonNilSlice(plans[i].Stops)
		}
		return &struct {
			Body []domain.JourneyPlan `json:"body"`
		}{Body: nonNilSlice(plans)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-journey",
		Method:      http.MethodGet,
		Path:        "/journeys/{id}",
		Summary:     "Get a journey plan with its stops and actions",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*journeyOutput, error) {
		return journeyResponse(readableJourney(ctx, e, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-journey",
		Method:      http.MethodPatch,
		Path:        "/journeys/{id}",
		Summary:     "Edit title or notes of a draft plan",
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateJourneyRequest `json:"body"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.UpdateJourneyPlan(ctx, engine.JourneyPlanUpdate{
			ID:      input.ID,
			ActorID: actorID,
			Title:   input.Body.Title,
			Notes:   input.Body.Notes,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-journey-stop",
		Method:        http.MethodPost,
		Path:          "/journeys/{id}/stops",
		Summary:       "Add a stop",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body AddStopRequest `json:"body"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.AddStop(ctx, engine.AddStopOptions{
			JourneyID: input.ID,
			ActorID:   actorID,
			Name:      input.Body.Name,
			Location:  input.Body.Location,
			Position:  input.Body.Position,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-journey-stop",
		Method:      http.MethodPatch,
		Path:        "/journeys/{id}/stops/{stop_id}",
		Summary:     "Rename, relocate or reorder a stop",
	}, func(ctx context.Context, input *struct {
		ID     string            `path:"id"`
		StopID string            `path:"stop_id"`
		Body   UpdateStopRequest `json:"body"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.UpdateStop(ctx, engine.UpdateStopOptions{
			JourneyID:     input.ID,
			StopID:        input.StopID,
			ActorID:       actorID,
			Name:          input.Body.Name,
			Location:      input.Body.Location,
			ClearLocation: input.Body.ClearLocation,
			Position:      input.Body.Position,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-journey-stop",
		Method:      http.MethodDelete,
		Path:        "/journeys/{id}/stops/{stop_id}",
		Summary:     "Remove a stop and its actions",
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		StopID string `path:"stop_id"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.RemoveStop(ctx, input.ID, input.StopID, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-journey-action",
		Method:        http.MethodPost,
		Path:          "/journeys/{id}/stops/{stop_id}/actions",
		Summary:       "Attach an action to a stop",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID     string        `path:"id"`
		StopID string        `path:"stop_id"`
		Body   ActionRequest `json:"body"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.ConfigureAction(ctx, engine.ConfigureActionOptions{
			JourneyID:   input.ID,
			StopID:      input.StopID,
			ActorID:     actorID,
			Type:        input.Body.Type,
			RequestID:   input.Body.RequestID,
			Description: input.Body.Description,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-journey-action",
		Method:      http.MethodPut,
		Path:        "/journeys/{id}/stops/{stop_id}/actions/{action_id}",
		Summary:     "Reconfigure an action",
	}, func(ctx context.Context, input *struct {
		ID       string        `path:"id"`
		StopID   string        `path:"stop_id"`
		ActionID string        `path:"action_id"`
		Body     ActionRequest `json:"body"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.ConfigureAction(ctx, engine.ConfigureActionOptions{
			JourneyID:   input.ID,
			StopID:      input.StopID,
			ActorID:     actorID,
			ActionID:    input.ActionID,
			Type:        input.Body.Type,
			RequestID:   input.Body.RequestID,
			Description: input.Body.Description,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-journey-action",
		Method:      http.MethodDelete,
		Path:        "/journeys/{id}/actions/{action_id}",
		Summary:     "Delete an action",
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		ActionID string `path:"action_id"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.DeleteAction(ctx, input.ID, input.ActionID, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "journey-readiness",
		Method:      http.MethodGet,
		Path:        "/journeys/{id}/readiness",
		Summary:     "Whether a plan can be finalized",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ReadinessResponse `json:"body"`
	}, error) {
		if _, err := readableJourney(ctx, e, input.ID); err != nil {
			return nil, err
		}
		r, err := e.JourneyReadiness(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReadinessResponse `json:"body"`
		}{Body: ReadinessResponse{JourneyID: input.ID, Ready: r.Ready, Reason: r.Reason}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-journey",
		Method:      http.MethodPost,
		Path:        "/journeys/{id}/finalize",
		Summary:     "Finalize a ready plan",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.FinalizeJourney(ctx, input.ID, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "exit-journey",
		Method:      http.MethodPost,
		Path:        "/journeys/{id}/exit",
		Summary:     "Leave the planner without finalizing",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*journeyOutput, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return journeyResponse(e.ExitJourney(ctx, input.ID, actorID))
	})
}
