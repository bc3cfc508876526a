package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gotodo/internal/domain"
	"gotodo/internal/events"
	"gotodo/internal/lifecycle"
	"gotodo/internal/notify"
	"gotodo/internal/repo"
)

type CreateRequestOptions struct {
	ID             string
	RequesterID    string  `validate:"required"`
	Type           string  `validate:"required"`
	Title          string  `validate:"required,max=200"`
	Description    string  `validate:"max=4000"`
	Summary        string  `validate:"max=280"`
	SuggestedPrice float64 `validate:"gte=0"`
	Location       *domain.GeoLocation
}

const summaryLength = 140

func (e Engine) CreateRequest(ctx context.Context, opts CreateRequestOptions) (domain.Request, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if err := validateOpts(opts); err != nil {
		return domain.Request{}, err
	}
	if err := validateLocation(opts.Location); err != nil {
		return domain.Request{}, err
	}
	cfg, err := e.SystemConfig(ctx)
	if err != nil {
		return domain.Request{}, err
	}
	if cfg.Platform.MaintenanceMode {
		return domain.Request{}, ErrMaintenance
	}
	if !cfg.HasServiceType(opts.Type) {
		return domain.Request{}, invalid("unknown service type %q", opts.Type)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Summary == "" {
		opts.Summary = summarize(opts.Description)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUser(ctx, tx, opts.RequesterID); err != nil {
		return domain.Request{}, fmt.Errorf("requester %s: %w", opts.RequesterID, err)
	}
	now := e.stamp()
	req := domain.Request{
		ID:             opts.ID,
		RequesterID:    opts.RequesterID,
		Type:           opts.Type,
		Title:          opts.Title,
		Description:    opts.Description,
		Summary:        opts.Summary,
		Status:         domain.StatusPending,
		SuggestedPrice: round2(opts.SuggestedPrice),
		Location:       opts.Location,
		Bids:           []domain.Bid{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.Request{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "request.create", events.KindRequest, req.ID, req.RequesterID, events.EventPayload{"type": req.Type, "status": req.Status}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

func summarize(desc string) string {
	desc = strings.Join(strings.Fields(desc), " ")
	r := []rune(desc)
	if len(r) <= summaryLength {
		return desc
	}
	return strings.TrimSpace(string(r[:summaryLength])) + "..."
}

func validateLocation(loc *domain.GeoLocation) error {
	if loc == nil {
		return nil
	}
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		return invalid("location out of range")
	}
	return nil
}

func (e Engine) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return e.Repo.GetRequest(ctx, nil, id)
}

func (e Engine) ListRequests(ctx context.Context, f repo.RequestFilters) ([]domain.Request, error) {
	for _, s := range f.Status {
		if !lifecycle.Valid(s) {
			return nil, invalid("unknown status %q", s)
		}
	}
	return e.Repo.ListRequests(ctx, f)
}

type StatusUpdateOptions struct {
	ID      string               `validate:"required"`
	Status  domain.RequestStatus `validate:"required"`
	Reason  string               `validate:"max=500"`
	ActorID string               `validate:"required"`
}

// UpdateRequestStatus moves a request one step forward, or into a side
// state. Provider assignment only happens through AcceptBid and the move to
// awaiting acceptance only through the first bid.
func (e Engine) UpdateRequestStatus(ctx context.Context, opts StatusUpdateOptions) (domain.Request, error) {
	if err := validateOpts(opts); err != nil {
		return domain.Request{}, err
	}
	switch opts.Status {
	case domain.StatusProviderAssigned:
		return domain.Request{}, conflict("provider assignment happens by accepting a bid")
	case domain.StatusAwaitingAcceptance:
		return domain.Request{}, conflict("a request awaits acceptance once it receives its first bid")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	req, err := e.Repo.GetRequest(ctx, tx, opts.ID)
	if err != nil {
		return req, err
	}
	if err := e.ensureParticipant(ctx, tx, req, opts.ActorID); err != nil {
		return req, err
	}
	if err := lifecycle.EnsureTransition(req.Status, opts.Status); err != nil {
		return req, err
	}
	from := req.Status
	req.Status = opts.Status
	req.UpdatedAt = e.stamp()
	if lifecycle.IsSideState(opts.Status) {
		req.StatusReason = strings.TrimSpace(opts.Reason)
		for i, b := range req.Bids {
			if b.Status != domain.BidOpen {
				continue
			}
			if err := e.Repo.UpdateBidStatus(ctx, tx, b.ID, domain.BidRejected); err != nil {
				return req, err
			}
			req.Bids[i].Status = domain.BidRejected
		}
	}
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return req, err
	}
	payload := events.EventPayload{"from": from, "to": req.Status}
	if req.StatusReason != "" {
		payload["reason"] = req.StatusReason
	}
	if err := e.Events.Append(ctx, tx, "request.status", events.KindRequest, req.ID, opts.ActorID, payload); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	if lifecycle.IsTerminal(req.Status) && e.Chat != nil {
		if n := e.Chat.CloseRequest(req.ID); n > 0 {
			e.logf("request %s is %s: closed %d chat sessions", req.ID, req.Status, n)
		}
	}

	msg := domain.Notification{
		Message:          fmt.Sprintf("%q is now %s.", req.Title, lifecycle.Label(req.Status)),
		Type:             statusNotificationType(req.Status),
		RelatedRequestID: req.ID,
	}
	for _, uid := range counterparts(req, opts.ActorID) {
		e.notifyUser(ctx, uid, msg)
	}
	return req, nil
}

func statusNotificationType(s domain.RequestStatus) string {
	switch s {
	case domain.StatusCompleted:
		return notify.TypeSuccess
	case domain.StatusCancelled:
		return notify.TypeWarning
	case domain.StatusDisputed:
		return notify.TypeError
	}
	return notify.TypeInfo
}

// counterparts lists the request parties other than actorID.
func counterparts(req domain.Request, actorID string) []string {
	var out []string
	if req.RequesterID != actorID {
		out = append(out, req.RequesterID)
	}
	if req.ProviderID != nil && *req.ProviderID != actorID {
		out = append(out, *req.ProviderID)
	}
	return out
}

func (e Engine) ensureParticipant(ctx context.Context, tx *sql.Tx, req domain.Request, actorID string) error {
	if actorID == req.RequesterID || (req.ProviderID != nil && *req.ProviderID == actorID) {
		return nil
	}
	if e.isAdmin(ctx, tx, actorID) {
		return nil
	}
	return forbidden("%s is not a party to request %s", actorID, req.ID)
}

func (e Engine) RequestTimeline(ctx context.Context, id string) (lifecycle.TimelineView, error) {
	req, err := e.Repo.GetRequest(ctx, nil, id)
	if err != nil {
		return lifecycle.TimelineView{}, err
	}
	return lifecycle.Timeline(req.Status), nil
}
