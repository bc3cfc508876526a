package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gotodo/internal/domain"
)

func TestTimelineOrderedStatuses(t *testing.T) {
	all := Statuses()
	for idx, current := range all {
		view := Timeline(current)
		require.Len(t, view.Steps, len(all), current)
		assert.Empty(t, view.Badge)
		assert.Equal(t, idx, view.CurrentIndex)
		for i, step := range view.Steps {
			switch {
			case i < idx:
				assert.Equal(t, StepCompleted, step.State, "%s step %d", current, i)
			case i == idx:
				assert.Equal(t, StepActive, step.State, "%s step %d", current, i)
			default:
				assert.Equal(t, StepFuture, step.State, "%s step %d", current, i)
			}
		}
	}
}

func TestTimelineSideStates(t *testing.T) {
	for _, s := range []domain.RequestStatus{domain.StatusCancelled, domain.StatusDisputed} {
		view := Timeline(s)
		assert.Equal(t, -1, view.CurrentIndex)
		assert.Empty(t, view.Steps)
		assert.Equal(t, Label(s), view.Badge)
	}
}

func TestTimelineUnknownStatusIsAllFuture(t *testing.T) {
	view := Timeline("BOGUS")
	require.Len(t, view.Steps, len(Statuses()))
	for _, step := range view.Steps {
		assert.Equal(t, StepFuture, step.State)
	}
}

func TestEnsureTransition(t *testing.T) {
	cases := []struct {
		from, to domain.RequestStatus
		ok       bool
	}{
		{domain.StatusPending, domain.StatusAwaitingAcceptance, true},
		{domain.StatusAwaitingAcceptance, domain.StatusProviderAssigned, true},
		{domain.StatusProviderAssigned, domain.StatusEnRoute, true},
		{domain.StatusPendingPayment, domain.StatusCompleted, true},
		{domain.StatusPending, domain.StatusEnRoute, false},
		{domain.StatusEnRoute, domain.StatusProviderAssigned, false},
		{domain.StatusEnRoute, domain.StatusCancelled, true},
		{domain.StatusPending, domain.StatusDisputed, true},
		{domain.StatusCompleted, domain.StatusCancelled, false},
		{domain.StatusCancelled, domain.StatusDisputed, false},
		{domain.StatusDisputed, domain.StatusPending, false},
		{domain.StatusPending, "NOPE", false},
	}
	for _, tc := range cases {
		err := EnsureTransition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
			continue
		}
		var te *TransitionError
		assert.True(t, errors.As(err, &te), "%s -> %s", tc.from, tc.to)
	}
}

func TestAcceptBid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req := domain.Request{
		ID:     "r1",
		Status: domain.StatusAwaitingAcceptance,
		Bids: []domain.Bid{
			{ID: "b1", ProviderID: "p1", Amount: 40, Status: domain.BidOpen},
			{ID: "b2", ProviderID: "p2", Amount: 55, Status: domain.BidOpen},
			{ID: "b3", ProviderID: "p3", Amount: 30, Status: domain.BidWithdrawn},
		},
	}
	out, err := AcceptBid(req, "b2", now)
	require.NoError(t, err)
	require.NotNil(t, out.ProviderID)
	assert.Equal(t, "p2", *out.ProviderID)
	assert.Equal(t, domain.StatusProviderAssigned, out.Status)
	require.NotNil(t, out.AgreedPrice)
	assert.Equal(t, 55.0, *out.AgreedPrice)
	assert.Equal(t, domain.BidRejected, out.Bids[0].Status)
	assert.Equal(t, domain.BidAccepted, out.Bids[1].Status)
	assert.Equal(t, domain.BidWithdrawn, out.Bids[2].Status)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.UpdatedAt)

	// input untouched
	assert.Nil(t, req.ProviderID)
	assert.Equal(t, domain.BidOpen, req.Bids[1].Status)

	_, err = AcceptBid(out, "b1", now)
	assert.ErrorIs(t, err, ErrNotOpenForBids)
}

func TestAcceptBidRejectsUnknownAndClosedBids(t *testing.T) {
	req := domain.Request{
		Status: domain.StatusAwaitingAcceptance,
		Bids:   []domain.Bid{{ID: "b1", Status: domain.BidWithdrawn}},
	}
	_, err := AcceptBid(req, "missing", time.Now())
	assert.ErrorIs(t, err, ErrBidNotFound)
	_, err = AcceptBid(req, "b1", time.Now())
	assert.ErrorIs(t, err, ErrBidNotOpen)
}

func located(name string, actions int) domain.JourneyStop {
	s := domain.JourneyStop{Name: name, Location: &domain.GeoLocation{Latitude: 1, Longitude: 2}}
	for i := 0; i < actions; i++ {
		s.Actions = append(s.Actions, domain.JourneyAction{Type: "pickup"})
	}
	return s
}

func TestCheckJourneyReadiness(t *testing.T) {
	assert.Equal(t, Readiness{Reason: ReasonNoStops}, CheckJourneyReadiness(domain.JourneyPlan{}))

	missing := domain.JourneyPlan{Stops: []domain.JourneyStop{{Name: "A"}, located("B", 1), located("C", 0)}}
	assert.Equal(t, Readiness{Reason: ReasonMissingLocation}, CheckJourneyReadiness(missing))

	plan := domain.JourneyPlan{Stops: []domain.JourneyStop{located("A", 0), located("B", 0), located("C", 0)}}
	assert.Equal(t, Readiness{Reason: ReasonIntermediateActions}, CheckJourneyReadiness(plan))

	plan.Stops[1].Actions = append(plan.Stops[1].Actions, domain.JourneyAction{Type: "dropoff"})
	assert.Equal(t, Readiness{Ready: true}, CheckJourneyReadiness(plan))

	two := domain.JourneyPlan{Stops: []domain.JourneyStop{located("A", 0), located("B", 0)}}
	assert.True(t, CheckJourneyReadiness(two).Ready)
}
