package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"gotodo/internal/domain"
)

var (
	ErrBidNotFound = errors.New("bid not found")
	ErrBidNotOpen  = errors.New("bid is not open")
)

// AcceptBid returns a copy of req with bidID accepted: provider assigned,
// price agreed, the chosen bid marked accepted and every other open bid
// rejected. The input is left untouched.
func AcceptBid(req domain.Request, bidID string, now time.Time) (domain.Request, error) {
	if !OpenForBids(req.Status) {
		return req, fmt.Errorf("%w: status %s", ErrNotOpenForBids, req.Status)
	}
	var chosen *domain.Bid
	bids := make([]domain.Bid, len(req.Bids))
	copy(bids, req.Bids)
	for i := range bids {
		if bids[i].ID == bidID {
			chosen = &bids[i]
		}
	}
	if chosen == nil {
		return req, ErrBidNotFound
	}
	if chosen.Status != domain.BidOpen {
		return req, fmt.Errorf("%w: %s", ErrBidNotOpen, chosen.Status)
	}
	for i := range bids {
		switch {
		case bids[i].ID == bidID:
			bids[i].Status = domain.BidAccepted
		case bids[i].Status == domain.BidOpen:
			bids[i].Status = domain.BidRejected
		}
	}
	out := req
	provider := chosen.ProviderID
	amount := chosen.Amount
	out.ProviderID = &provider
	out.AgreedPrice = &amount
	out.Status = domain.StatusProviderAssigned
	out.Bids = bids
	out.UpdatedAt = now.UTC().Format(time.RFC3339)
	return out, nil
}

// OpenBidCount counts bids that are still competing.
func OpenBidCount(bids []domain.Bid) int {
	n := 0
	for _, b := range bids {
		if b.Status == domain.BidOpen {
			n++
		}
	}
	return n
}
