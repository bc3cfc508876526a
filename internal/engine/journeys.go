package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gotodo/internal/domain"
	"gotodo/internal/events"
	"gotodo/internal/lifecycle"
	"gotodo/internal/repo"
)

// NotReadyError carries the readiness reason of a journey that cannot be
// finalized yet.
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string { return e.Reason }

type CreateJourneyOptions struct {
	ID      string
	OwnerID string `validate:"required"`
	Title   string `validate:"required,max=120"`
	Notes   string `validate:"max=2000"`
}

func (e Engine) CreateJourney(ctx context.Context, opts CreateJourneyOptions) (domain.JourneyPlan, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if err := validateOpts(opts); err != nil {
		return domain.JourneyPlan{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.JourneyPlan{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUser(ctx, tx, opts.OwnerID); err != nil {
		return domain.JourneyPlan{}, fmt.Errorf("owner %s: %w", opts.OwnerID, err)
	}
	now := e.stamp()
	j := domain.JourneyPlan{
		ID:        opts.ID,
		OwnerID:   opts.OwnerID,
		Title:     opts.Title,
		Notes:     opts.Notes,
		Status:    lifecycle.JourneyDraft,
		Stops:     []domain.JourneyStop{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertJourney(ctx, tx, j); err != nil {
		return j, fmt.Errorf("insert journey: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "journey.create", events.KindJourney, j.ID, j.OwnerID, events.EventPayload{"title": j.Title}); err != nil {
		return j, err
	}
	return j, tx.Commit()
}

func (e Engine) GetJourney(ctx context.Context, id string) (domain.JourneyPlan, error) {
	return e.Repo.GetJourney(ctx, nil, id)
}

func (e Engine) ListJourneys(ctx context.Context, ownerID string) ([]domain.JourneyPlan, error) {
	return e.Repo.ListJourneys(ctx, ownerID)
}

// JourneyReadiness evaluates the finalize gate against the stored plan.
func (e Engine) JourneyReadiness(ctx context.Context, id string) (lifecycle.Readiness, error) {
	j, err := e.Repo.GetJourney(ctx, nil, id)
	if err != nil {
		return lifecycle.Readiness{}, err
	}
	return lifecycle.CheckJourneyReadiness(j), nil
}

// mutateJourney loads a draft plan owned by actorID, applies fn and commits
// with one audit event. fn returning a nil payload means nothing changed.
func (e Engine) mutateJourney(ctx context.Context, id, actorID, evtType string, fn func(tx *sql.Tx, j *domain.JourneyPlan) (events.EventPayload, error)) (domain.JourneyPlan, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.JourneyPlan{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJourney(ctx, tx, id)
	if err != nil {
		return j, err
	}
	if j.OwnerID != actorID && !e.isAdmin(ctx, tx, actorID) {
		return j, forbidden("journey %s belongs to another user", id)
	}
	if j.Status != lifecycle.JourneyDraft {
		return j, conflict("journey is %s and can no longer be edited", j.Status)
	}
	payload, err := fn(tx, &j)
	if err != nil {
		return j, err
	}
	if payload == nil {
		return j, nil
	}
	j.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateJourney(ctx, tx, j); err != nil {
		return j, err
	}
	if err := e.Events.Append(ctx, tx, evtType, events.KindJourney, j.ID, actorID, payload); err != nil {
		return j, err
	}
	if err := tx.Commit(); err != nil {
		return j, err
	}
	return e.Repo.GetJourney(ctx, nil, id)
}

type JourneyPlanUpdate struct {
	ID      string  `validate:"required"`
	ActorID string  `validate:"required"`
	Title   *string `validate:"omitempty,min=1,max=120"`
	Notes   *string `validate:"omitempty,max=2000"`
}

// UpdateJourneyPlan applies a partial update to the plan itself. Unchanged
// values are not written.
func (e Engine) UpdateJourneyPlan(ctx context.Context, opts JourneyPlanUpdate) (domain.JourneyPlan, error) {
	if opts.Title != nil {
		t := strings.TrimSpace(*opts.Title)
		if t == "" {
			return domain.JourneyPlan{}, invalid("title must not be empty")
		}
		opts.Title = &t
	}
	if err := validateOpts(opts); err != nil {
		return domain.JourneyPlan{}, err
	}
	return e.mutateJourney(ctx, opts.ID, opts.ActorID, "journey.update", func(_ *sql.Tx, j *domain.JourneyPlan) (events.EventPayload, error) {
		changed := events.EventPayload{}
		if opts.Title != nil && *opts.Title != j.Title {
			j.Title = *opts.Title
			changed["title"] = j.Title
		}
		if opts.Notes != nil && *opts.Notes != j.Notes {
			j.Notes = *opts.Notes
			changed["notes"] = j.Notes
		}
		if len(changed) == 0 {
			return nil, nil
		}
		return changed, nil
	})
}

type AddStopOptions struct {
	JourneyID string `validate:"required"`
	ActorID   string `validate:"required"`
	Name      string `validate:"required,max=120"`
	Location  *domain.GeoLocation
	// Position inserts before the stop currently there; nil appends.
	Position *int `validate:"omitempty,gte=0"`
}

func (e Engine) AddStop(ctx context.Context, opts AddStopOptions) (domain.JourneyPlan, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if err := validateOpts(opts); err != nil {
		return domain.JourneyPlan{}, err
	}
	if err := validateLocation(opts.Location); err != nil {
		return domain.JourneyPlan{}, err
	}
	return e.mutateJourney(ctx, opts.JourneyID, opts.ActorID, "journey.stop.add", func(tx *sql.Tx, j *domain.JourneyPlan) (events.EventPayload, error) {
		stop := domain.JourneyStop{
			ID:        uuid.NewString(),
			JourneyID: j.ID,
			Name:      opts.Name,
			Location:  opts.Location,
			Position:  len(j.Stops),
			Actions:   []domain.JourneyAction{},
		}
		idx := len(j.Stops)
		if opts.Position != nil && *opts.Position < idx {
			idx = *opts.Position
		}
		stops := append([]domain.JourneyStop{}, j.Stops[:idx]...)
		stops = append(stops, stop)
		stops = append(stops, j.Stops[idx:]...)
		if err := e.Repo.InsertStop(ctx, tx, stop); err != nil {
			return nil, fmt.Errorf("insert stop: %w", err)
		}
		if err := e.compactStops(ctx, tx, stops); err != nil {
			return nil, err
		}
		j.Stops = stops
		return events.EventPayload{"stop_id": stop.ID, "position": idx}, nil
	})
}

type UpdateStopOptions struct {
	JourneyID     string  `validate:"required"`
	StopID        string  `validate:"required"`
	ActorID       string  `validate:"required"`
	Name          *string `validate:"omitempty,min=1,max=120"`
	Location      *domain.GeoLocation
	ClearLocation bool
	// Position moves the stop to a new index.
	Position *int `validate:"omitempty,gte=0"`
}

func (e Engine) UpdateStop(ctx context.Context, opts UpdateStopOptions) (domain.JourneyPlan, error) {
	if err := validateOpts(opts); err != nil {
		return domain.JourneyPlan{}, err
	}
	if err := validateLocation(opts.Location); err != nil {
		return domain.JourneyPlan{}, err
	}
	return e.mutateJourney(ctx, opts.JourneyID, opts.ActorID, "journey.stop.update", func(tx *sql.Tx, j *domain.JourneyPlan) (events.EventPayload, error) {
		idx := stopIndex(j.Stops, opts.StopID)
		if idx < 0 {
			return nil, repo.ErrNotFound
		}
		stop := j.Stops[idx]
		payload := events.EventPayload{"stop_id": stop.ID}
		if opts.Name != nil && *opts.Name != stop.Name {
			stop.Name = *opts.Name
			payload["name"] = stop.Name
		}
		if opts.ClearLocation {
			stop.Location = nil
			payload["location"] = nil
		} else if opts.Location != nil {
			stop.Location = opts.Location
			payload["location"] = opts.Location
		}
		stops := append([]domain.JourneyStop{}, j.Stops...)
		stops[idx] = stop
		if opts.Position != nil && *opts.Position != idx {
			to := *opts.Position
			if to >= len(stops) {
				to = len(stops) - 1
			}
			stops = append(stops[:idx], stops[idx+1:]...)
			stops = append(stops[:to], append([]domain.JourneyStop{stop}, stops[to:]...)...)
			payload["position"] = to
		}
		if len(payload) == 1 {
			return nil, nil
		}
		if err := e.Repo.UpdateStop(ctx, tx, stop); err != nil {
			return nil, err
		}
		if err := e.compactStops(ctx, tx, stops); err != nil {
			return nil, err
		}
		j.Stops = stops
		return payload, nil
	})
}

// RemoveStop deletes a stop with its actions and closes the position gap.
func (e Engine) RemoveStop(ctx context.Context, journeyID, stopID, actorID string) (domain.JourneyPlan, error) {
	return e.mutateJourney(ctx, journeyID, actorID, "journey.stop.remove", func(tx *sql.Tx, j *domain.JourneyPlan) (events.EventPayload, error) {
		idx := stopIndex(j.Stops, stopID)
		if idx < 0 {
			return nil, repo.ErrNotFound
		}
		if err := e.Repo.DeleteStop(ctx, tx, stopID); err != nil {
			return nil, err
		}
		stops := append(append([]domain.JourneyStop{}, j.Stops[:idx]...), j.Stops[idx+1:]...)
		if err := e.compactStops(ctx, tx, stops); err != nil {
			return nil, err
		}
		j.Stops = stops
		return events.EventPayload{"stop_id": stopID}, nil
	})
}

func (e Engine) compactStops(ctx context.Context, tx *sql.Tx, stops []domain.JourneyStop) error {
	for i := range stops {
		if stops[i].Position == i {
			continue
		}
		stops[i].Position = i
		if err := e.Repo.UpdateStop(ctx, tx, stops[i]); err != nil {
			return err
		}
	}
	return nil
}

func stopIndex(stops []domain.JourneyStop, id string) int {
	for i, s := range stops {
		if s.ID == id {
			return i
		}
	}
	return -1
}

type ConfigureActionOptions struct {
	JourneyID string `validate:"required"`
	StopID    string `validate:"required"`
	ActorID   string `validate:"required"`
	// ActionID replaces an existing action on the stop when set.
	ActionID    string
	Type        string `validate:"required,oneof=pickup dropoff service purchase errand note"`
	RequestID   *string
	Description string `validate:"max=500"`
}

// ConfigureAction adds an action to a stop or replaces one, optionally
// linking it to a request.
func (e Engine) ConfigureAction(ctx context.Context, opts ConfigureActionOptions) (domain.JourneyPlan, error) {
	if err := validateOpts(opts); err != nil {
		return domain.JourneyPlan{}, err
	}
	return e.mutateJourney(ctx, opts.JourneyID, opts.ActorID, "journey.action.configure", func(tx *sql.Tx, j *domain.JourneyPlan) (events.EventPayload, error) {
		idx := stopIndex(j.Stops, opts.StopID)
		if idx < 0 {
			return nil, repo.ErrNotFound
		}
		if opts.RequestID != nil && *opts.RequestID != "" {
			if _, err := e.Repo.GetRequest(ctx, tx, *opts.RequestID); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return nil, invalid("linked request %s does not exist", *opts.RequestID)
				}
				return nil, err
			}
		}
		stop := &j.Stops[idx]
		action := domain.JourneyAction{
			ID:          opts.ActionID,
			StopID:      stop.ID,
			Type:        opts.Type,
			RequestID:   opts.RequestID,
			Description: opts.Description,
			Position:    len(stop.Actions),
		}
		if opts.ActionID != "" {
			found := false
			for i, a := range stop.Actions {
				if a.ID == opts.ActionID {
					action.Position = a.Position
					stop.Actions[i] = action
					found = true
				}
			}
			if !found {
				return nil, repo.ErrNotFound
			}
			if err := e.Repo.UpdateAction(ctx, tx, action); err != nil {
				return nil, err
			}
		} else {
			action.ID = uuid.NewString()
			if err := e.Repo.InsertAction(ctx, tx, action); err != nil {
				return nil, fmt.Errorf("insert action: %w", err)
			}
			stop.Actions = append(stop.Actions, action)
		}
		return events.EventPayload{"stop_id": stop.ID, "action_id": action.ID, "type": action.Type}, nil
	})
}

func (e Engine) DeleteAction(ctx context.Context, journeyID, actionID, actorID string) (domain.JourneyPlan, error) {
	return e.mutateJourney(ctx, journeyID, actorID, "journey.action.delete", func(tx *sql.Tx, j *domain.JourneyPlan) (events.EventPayload, error) {
		for si := range j.Stops {
			stop := &j.Stops[si]
			for ai, a := range stop.Actions {
				if a.ID != actionID {
					continue
				}
				if err := e.Repo.DeleteAction(ctx, tx, actionID); err != nil {
					return nil, err
				}
				stop.Actions = append(stop.Actions[:ai], stop.Actions[ai+1:]...)
				for i := range stop.Actions {
					if stop.Actions[i].Position != i {
						stop.Actions[i].Position = i
						if err := e.Repo.UpdateAction(ctx, tx, stop.Actions[i]); err != nil {
							return nil, err
						}
					}
				}
				return events.EventPayload{"stop_id": stop.ID, "action_id": actionID}, nil
			}
		}
		return nil, repo.ErrNotFound
	})
}

// FinalizeJourney locks a ready plan.
func (e Engine) FinalizeJourney(ctx context.Context, id, actorID string) (domain.JourneyPlan, error) {
	return e.mutateJourney(ctx, id, actorID, "journey.finalize", func(_ *sql.Tx, j *domain.JourneyPlan) (events.EventPayload, error) {
		if r := lifecycle.CheckJourneyReadiness(*j); !r.Ready {
			return nil, &NotReadyError{Reason: r.Reason}
		}
		now := e.stamp()
		j.Status = lifecycle.JourneyFinalized
		j.FinalizedAt = &now
		return events.EventPayload{"stops": len(j.Stops)}, nil
	})
}

// ExitJourney abandons a draft plan.
func (e Engine) ExitJourney(ctx context.Context, id, actorID string) (domain.JourneyPlan, error) {
	return e.mutateJourney(ctx, id, actorID, "journey.exit", func(_ *sql.Tx, j *domain.JourneyPlan) (events.EventPayload, error) {
		j.Status = lifecycle.JourneyExited
		return events.EventPayload{"status": j.Status}, nil
	})
}
