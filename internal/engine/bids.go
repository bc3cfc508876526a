package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"gotodo/internal/domain"
	"gotodo/internal/events"
	"gotodo/internal/lifecycle"
	"gotodo/internal/notify"
	"gotodo/internal/repo"
)

type SubmitBidOptions struct {
	ID         string
	RequestID  string  `validate:"required"`
	ProviderID string  `validate:"required"`
	Amount     float64 `validate:"gt=0"`
	Message    string  `validate:"max=500"`
}

// SubmitBid records a provider's offer. The first bid moves a pending
// request to awaiting acceptance.
func (e Engine) SubmitBid(ctx context.Context, opts SubmitBidOptions) (domain.Bid, error) {
	opts.Message = strings.TrimSpace(opts.Message)
	if err := validateOpts(opts); err != nil {
		return domain.Bid{}, err
	}
	cfg, err := e.SystemConfig(ctx)
	if err != nil {
		return domain.Bid{}, err
	}
	if opts.Amount < cfg.Bidding.MinBidAmount {
		return domain.Bid{}, invalid("bid amount must be at least %.2f", cfg.Bidding.MinBidAmount)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	req, err := e.Repo.GetRequest(ctx, tx, opts.RequestID)
	if err != nil {
		return domain.Bid{}, err
	}
	if !lifecycle.OpenForBids(req.Status) {
		return domain.Bid{}, fmt.Errorf("%w: status %s", lifecycle.ErrNotOpenForBids, req.Status)
	}
	if req.RequesterID == opts.ProviderID {
		return domain.Bid{}, invalid("requesters cannot bid on their own request")
	}
	user, err := e.Repo.GetUser(ctx, tx, opts.ProviderID)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("provider %s: %w", opts.ProviderID, err)
	}
	name := user.Name
	if p, err := e.Repo.GetProviderByUser(ctx, tx, user.ID); err == nil {
		name = p.DisplayName
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Bid{}, err
	}
	for _, b := range req.Bids {
		if b.ProviderID == opts.ProviderID && b.Status == domain.BidOpen {
			return domain.Bid{}, conflict("provider %s already has an open bid on this request", opts.ProviderID)
		}
	}
	if max := cfg.Bidding.MaxBidsPerRequest; max > 0 && lifecycle.OpenBidCount(req.Bids) >= max {
		return domain.Bid{}, conflict("request already has the maximum of %d open bids", max)
	}

	bid := domain.Bid{
		ID:           opts.ID,
		RequestID:    req.ID,
		ProviderID:   opts.ProviderID,
		ProviderName: name,
		Amount:       round2(opts.Amount),
		Message:      opts.Message,
		Status:       domain.BidOpen,
		Timestamp:    e.stamp(),
	}
	if err := e.Repo.InsertBid(ctx, tx, bid); err != nil {
		return domain.Bid{}, fmt.Errorf("insert bid: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "bid.submit", events.KindBid, bid.ID, opts.ProviderID, events.EventPayload{"request_id": req.ID, "amount": bid.Amount}); err != nil {
		return domain.Bid{}, err
	}
	if req.Status == domain.StatusPending {
		if err := lifecycle.EnsureTransition(req.Status, domain.StatusAwaitingAcceptance); err != nil {
			return domain.Bid{}, err
		}
		req.Status = domain.StatusAwaitingAcceptance
		req.UpdatedAt = bid.Timestamp
		if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
			return domain.Bid{}, err
		}
		if err := e.Events.Append(ctx, tx, "request.status", events.KindRequest, req.ID, opts.ProviderID, events.EventPayload{"from": domain.StatusPending, "to": req.Status}); err != nil {
			return domain.Bid{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	e.notifyUser(ctx, req.RequesterID, domain.Notification{
		Message:          fmt.Sprintf("New offer of $%s from %s on %q.", humanize.CommafWithDigits(bid.Amount, 2), bid.ProviderName, req.Title),
		Type:             notify.TypeBid,
		RelatedRequestID: req.ID,
	})
	return bid, nil
}

func (e Engine) ListBids(ctx context.Context, requestID string) ([]domain.Bid, error) {
	if _, err := e.Repo.GetRequest(ctx, nil, requestID); err != nil {
		return nil, err
	}
	return e.Repo.ListBids(ctx, nil, requestID)
}

type AcceptBidOptions struct {
	RequestID string `validate:"required"`
	BidID     string `validate:"required"`
	ActorID   string `validate:"required"`
}

// AcceptBid assigns the bid's provider in one transaction. Only the
// requester may accept and a request accepts exactly one bid.
func (e Engine) AcceptBid(ctx context.Context, opts AcceptBidOptions) (domain.Request, error) {
	if err := validateOpts(opts); err != nil {
		return domain.Request{}, err
	}
	cfg, err := e.SystemConfig(ctx)
	if err != nil {
		return domain.Request{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	req, err := e.Repo.GetRequest(ctx, tx, opts.RequestID)
	if err != nil {
		return req, err
	}
	if req.RequesterID != opts.ActorID {
		return req, forbidden("only the requester can accept a bid")
	}
	for _, b := range req.Bids {
		if b.Status == domain.BidAccepted {
			return req, conflict("request %s already accepted bid %s", req.ID, b.ID)
		}
	}
	next, err := lifecycle.AcceptBid(req, opts.BidID, e.now())
	if err != nil {
		return req, err
	}
	fee := round2(*next.AgreedPrice * cfg.Bidding.PlatformFeePercent / 100)
	next.PlatformFee = &fee
	if err := e.Repo.UpdateRequest(ctx, tx, next); err != nil {
		return req, err
	}
	var accepted domain.Bid
	var rejected []domain.Bid
	for i, b := range next.Bids {
		if b.Status == req.Bids[i].Status {
			continue
		}
		if err := e.Repo.UpdateBidStatus(ctx, tx, b.ID, b.Status); err != nil {
			return req, err
		}
		if b.Status == domain.BidAccepted {
			accepted = b
		} else {
			rejected = append(rejected, b)
		}
	}
	if err := e.Events.Append(ctx, tx, "bid.accept", events.KindBid, accepted.ID, opts.ActorID, events.EventPayload{
		"request_id": req.ID, "provider_id": accepted.ProviderID, "amount": accepted.Amount, "rejected": len(rejected),
	}); err != nil {
		return req, err
	}
	if err := e.Events.Append(ctx, tx, "request.status", events.KindRequest, req.ID, opts.ActorID, events.EventPayload{"from": req.Status, "to": next.Status}); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}

	e.notifyUser(ctx, accepted.ProviderID, domain.Notification{
		Message:          fmt.Sprintf("Your offer on %q was accepted.", req.Title),
		Type:             notify.TypeSuccess,
		RelatedRequestID: req.ID,
	})
	for _, b := range rejected {
		e.notifyUser(ctx, b.ProviderID, domain.Notification{
			Message:          fmt.Sprintf("Another provider was chosen for %q.", req.Title),
			Type:             notify.TypeInfo,
			RelatedRequestID: req.ID,
		})
	}
	return next, nil
}

// WithdrawBid lets a provider pull an open bid.
func (e Engine) WithdrawBid(ctx context.Context, requestID, bidID, actorID string) (domain.Bid, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	bids, err := e.Repo.ListBids(ctx, tx, requestID)
	if err != nil {
		return domain.Bid{}, err
	}
	var bid *domain.Bid
	for i := range bids {
		if bids[i].ID == bidID {
			bid = &bids[i]
		}
	}
	if bid == nil {
		return domain.Bid{}, repo.ErrNotFound
	}
	if bid.ProviderID != actorID {
		return *bid, forbidden("only the bidding provider can withdraw")
	}
	if bid.Status != domain.BidOpen {
		return *bid, conflict("bid is %s", bid.Status)
	}
	bid.Status = domain.BidWithdrawn
	if err := e.Repo.UpdateBidStatus(ctx, tx, bid.ID, bid.Status); err != nil {
		return *bid, err
	}
	if err := e.Events.Append(ctx, tx, "bid.withdraw", events.KindBid, bid.ID, actorID, events.EventPayload{"request_id": requestID}); err != nil {
		return *bid, err
	}
	return *bid, tx.Commit()
}
