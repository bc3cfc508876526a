package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gotodo/internal/config"
	"gotodo/internal/db"
	"gotodo/internal/domain"
	"gotodo/internal/engine"
	"gotodo/internal/lifecycle"
	"gotodo/internal/migrate"
	"gotodo/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(eng.Chat.Shutdown)
	ctx := context.Background()
	for _, u := range []engine.EnsureUserOptions{
		{ID: "req-1", Name: "Rita", Role: domain.RoleRequester},
		{ID: "prov-1", Name: "Paul", Role: domain.RoleProvider},
		{ID: "prov-2", Name: "Pia", Role: domain.RoleProvider},
		{ID: "admin-1", Name: "Ada", Role: domain.RoleAdmin},
	} {
		if _, err := eng.EnsureUser(ctx, u); err != nil {
			t.Fatalf("ensure user %s: %v", u.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) request(t *testing.T) domain.Request {
	t.Helper()
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{
		RequesterID:    "req-1",
		Type:           "plumbing",
		Title:          "Fix kitchen sink",
		Description:    "Water is leaking under the sink.",
		SuggestedPrice: 80,
		Location:       &domain.GeoLocation{Latitude: 52.52, Longitude: 13.405},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(t)
	if req.Status != domain.StatusPending || req.Summary == "" {
		t.Fatalf("unexpected request %+v", req)
	}
	_, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{RequesterID: "req-1", Type: "plumbing"})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) || verr.Fields["title"] == "" {
		t.Fatalf("expected title validation error, got %v", err)
	}
	_, err = env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{RequesterID: "req-1", Type: "astrology", Title: "x"})
	if !errors.As(err, &verr) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	_, err = env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{RequesterID: "ghost", Type: "plumbing", Title: "x"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected missing requester, got %v", err)
	}
}

func TestMaintenanceModeBlocksNewRequests(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default()
	cfg.Platform.MaintenanceMode = true
	if _, err := env.Engine.UpdateSystemConfig(env.Ctx, cfg, "req-1"); err == nil {
		t.Fatalf("expected non-admin update to fail")
	}
	if _, err := env.Engine.UpdateSystemConfig(env.Ctx, cfg, "admin-1"); err != nil {
		t.Fatalf("update config: %v", err)
	}
	_, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{RequesterID: "req-1", Type: "plumbing", Title: "x"})
	if !errors.Is(err, engine.ErrMaintenance) {
		t.Fatalf("expected maintenance error, got %v", err)
	}
}

func TestConfigUpdateRollsBackWithoutAuditEvent(t *testing.T) {
	env := newTestEnv(t)
	// no events table: the audit insert fails inside the transaction
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `ALTER TABLE events RENAME TO events_moved`); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Platform.MaintenanceMode = true
	if _, err := env.Engine.UpdateSystemConfig(env.Ctx, cfg, "admin-1"); err == nil {
		t.Fatalf("expected update to fail with its audit event")
	}
	got, err := env.Engine.SystemConfig(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Platform.MaintenanceMode {
		t.Fatalf("configuration was stored without its audit event")
	}
}

func TestBidAcceptanceFlow(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(t)

	if _, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "req-1", Amount: 50}); err == nil {
		t.Fatalf("expected self bid to fail")
	}
	if _, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 0}); err == nil {
		t.Fatalf("expected zero amount to fail")
	}
	b1, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 75, Message: "Can come today"})
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	var cerr *engine.ConflictError
	if _, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 70}); !errors.As(err, &cerr) {
		t.Fatalf("expected duplicate bid conflict, got %v", err)
	}
	b2, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-2", Amount: 90})
	if err != nil {
		t.Fatalf("submit second bid: %v", err)
	}
	got, err := env.Engine.GetRequest(env.Ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusAwaitingAcceptance || len(got.Bids) != 2 {
		t.Fatalf("expected awaiting acceptance with 2 bids, got %s %d", got.Status, len(got.Bids))
	}
	unread, _ := env.Engine.Notifications("req-1").UnreadCount(env.Ctx)
	if unread != 2 {
		t.Fatalf("expected 2 bid notifications, got %d", unread)
	}

	var ferr *engine.ForbiddenError
	if _, err := env.Engine.AcceptBid(env.Ctx, engine.AcceptBidOptions{RequestID: req.ID, BidID: b1.ID, ActorID: "prov-1"}); !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden accept, got %v", err)
	}
	accepted, err := env.Engine.AcceptBid(env.Ctx, engine.AcceptBidOptions{RequestID: req.ID, BidID: b2.ID, ActorID: "req-1"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.ProviderID == nil || *accepted.ProviderID != "prov-2" || accepted.Status != domain.StatusProviderAssigned {
		t.Fatalf("unexpected accepted request %+v", accepted)
	}
	if accepted.AgreedPrice == nil || *accepted.AgreedPrice != 90 || accepted.PlatformFee == nil || *accepted.PlatformFee != 9 {
		t.Fatalf("unexpected pricing %v %v", accepted.AgreedPrice, accepted.PlatformFee)
	}
	stored, _ := env.Engine.GetRequest(env.Ctx, req.ID)
	for _, b := range stored.Bids {
		want := domain.BidRejected
		if b.ID == b2.ID {
			want = domain.BidAccepted
		}
		if b.Status != want {
			t.Fatalf("bid %s: want %s got %s", b.ID, want, b.Status)
		}
	}
	if _, err := env.Engine.AcceptBid(env.Ctx, engine.AcceptBidOptions{RequestID: req.ID, BidID: b1.ID, ActorID: "req-1"}); !errors.As(err, &cerr) {
		t.Fatalf("expected second accept conflict, got %v", err)
	}
	if _, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 60}); !errors.Is(err, lifecycle.ErrNotOpenForBids) {
		t.Fatalf("expected closed for bids, got %v", err)
	}
	list, _ := env.Engine.Notifications("prov-2").List(env.Ctx)
	if len(list) != 1 || list[0].RelatedRequestID != req.ID {
		t.Fatalf("expected acceptance notification, got %+v", list)
	}
}

func TestWithdrawBid(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(t)
	b, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 40})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.WithdrawBid(env.Ctx, req.ID, b.ID, "prov-2"); err == nil {
		t.Fatalf("expected other provider withdraw to fail")
	}
	w, err := env.Engine.WithdrawBid(env.Ctx, req.ID, b.ID, "prov-1")
	if err != nil || w.Status != domain.BidWithdrawn {
		t.Fatalf("withdraw: %v %s", err, w.Status)
	}
	if _, err := env.Engine.AcceptBid(env.Ctx, engine.AcceptBidOptions{RequestID: req.ID, BidID: b.ID, ActorID: "req-1"}); !errors.Is(err, lifecycle.ErrBidNotOpen) {
		t.Fatalf("expected withdrawn bid to be unacceptable, got %v", err)
	}
	// a new bid from the same provider is allowed again
	if _, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 45}); err != nil {
		t.Fatalf("rebid: %v", err)
	}
}

func TestRequestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(t)
	update := func(status domain.RequestStatus, actor string) (domain.Request, error) {
		return env.Engine.UpdateRequestStatus(env.Ctx, engine.StatusUpdateOptions{ID: req.ID, Status: status, ActorID: actor})
	}
	if _, err := update(domain.StatusProviderAssigned, "req-1"); err == nil {
		t.Fatalf("expected assignment outside bid acceptance to fail")
	}
	b, _ := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 50})
	if _, err := env.Engine.AcceptBid(env.Ctx, engine.AcceptBidOptions{RequestID: req.ID, BidID: b.ID, ActorID: "req-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := update(domain.StatusEnRoute, "prov-2"); err == nil {
		t.Fatalf("expected outsider to be forbidden")
	}
	var terr *lifecycle.TransitionError
	if _, err := update(domain.StatusPendingPayment, "prov-1"); !errors.As(err, &terr) {
		t.Fatalf("expected skip to fail, got %v", err)
	}
	for _, s := range []domain.RequestStatus{domain.StatusEnRoute, domain.StatusServiceInProgress} {
		if got, err := update(s, "prov-1"); err != nil || got.Status != s {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	got, err := env.Engine.UpdateRequestStatus(env.Ctx, engine.StatusUpdateOptions{ID: req.ID, Status: domain.StatusDisputed, Reason: "left a mess", ActorID: "req-1"})
	if err != nil || got.StatusReason != "left a mess" {
		t.Fatalf("dispute: %v %+v", err, got)
	}
	if _, err := update(domain.StatusCancelled, "admin-1"); !errors.As(err, &terr) {
		t.Fatalf("expected terminal state to reject changes, got %v", err)
	}
	view, err := env.Engine.RequestTimeline(env.Ctx, req.ID)
	if err != nil || view.Badge != "Disputed" || len(view.Steps) != 0 {
		t.Fatalf("unexpected timeline %+v %v", view, err)
	}
	unread, _ := env.Engine.Notifications("prov-1").UnreadCount(env.Ctx)
	if unread == 0 {
		t.Fatalf("expected provider to hear about the dispute")
	}
}

func TestJourneyPlanner(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	j, err := e.CreateJourney(env.Ctx, engine.CreateJourneyOptions{OwnerID: "prov-1", Title: "Saturday run"})
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := e.JourneyReadiness(env.Ctx, j.ID); r.Ready || r.Reason != lifecycle.ReasonNoStops {
		t.Fatalf("unexpected readiness %+v", r)
	}
	loc := &domain.GeoLocation{Latitude: 1, Longitude: 1}
	if j, err = e.AddStop(env.Ctx, engine.AddStopOptions{JourneyID: j.ID, ActorID: "prov-1", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	if j, err = e.AddStop(env.Ctx, engine.AddStopOptions{JourneyID: j.ID, ActorID: "prov-1", Name: "B", Location: loc}); err != nil {
		t.Fatal(err)
	}
	if j, err = e.AddStop(env.Ctx, engine.AddStopOptions{JourneyID: j.ID, ActorID: "prov-1", Name: "C", Location: loc}); err != nil {
		t.Fatal(err)
	}
	if r, _ := e.JourneyReadiness(env.Ctx, j.ID); r.Reason != lifecycle.ReasonMissingLocation {
		t.Fatalf("expected missing location, got %+v", r)
	}
	var nerr *engine.NotReadyError
	if _, err := e.FinalizeJourney(env.Ctx, j.ID, "prov-1"); !errors.As(err, &nerr) || nerr.Reason != lifecycle.ReasonMissingLocation {
		t.Fatalf("expected not ready, got %v", err)
	}
	if j, err = e.UpdateStop(env.Ctx, engine.UpdateStopOptions{JourneyID: j.ID, StopID: j.Stops[0].ID, ActorID: "prov-1", Location: loc}); err != nil {
		t.Fatal(err)
	}
	if r, _ := e.JourneyReadiness(env.Ctx, j.ID); r.Reason != lifecycle.ReasonIntermediateActions {
		t.Fatalf("expected intermediate action reason, got %+v", r)
	}
	req := env.request(t)
	if j, err = e.ConfigureAction(env.Ctx, engine.ConfigureActionOptions{JourneyID: j.ID, StopID: j.Stops[1].ID, ActorID: "prov-1", Type: "service", RequestID: &req.ID}); err != nil {
		t.Fatal(err)
	}
	if r, _ := e.JourneyReadiness(env.Ctx, j.ID); !r.Ready {
		t.Fatalf("expected ready, got %+v", r)
	}

	title := "Saturday run"
	before := len(mustEvents(t, env, j.ID))
	if _, err := e.UpdateJourneyPlan(env.Ctx, engine.JourneyPlanUpdate{ID: j.ID, ActorID: "prov-1", Title: &title}); err != nil {
		t.Fatal(err)
	}
	if after := len(mustEvents(t, env, j.ID)); after != before {
		t.Fatalf("unchanged title must not be committed")
	}
	title = "Sunday run"
	if j, err = e.UpdateJourneyPlan(env.Ctx, engine.JourneyPlanUpdate{ID: j.ID, ActorID: "prov-1", Title: &title}); err != nil || j.Title != "Sunday run" {
		t.Fatalf("rename: %v %s", err, j.Title)
	}

	if _, err := e.AddStop(env.Ctx, engine.AddStopOptions{JourneyID: j.ID, ActorID: "prov-2", Name: "X"}); err == nil {
		t.Fatalf("expected other user to be forbidden")
	}
	if j, err = e.RemoveStop(env.Ctx, j.ID, j.Stops[0].ID, "prov-1"); err != nil {
		t.Fatal(err)
	}
	for i, s := range j.Stops {
		if s.Position != i {
			t.Fatalf("positions not compacted: %+v", j.Stops)
		}
	}
	if j, err = e.FinalizeJourney(env.Ctx, j.ID, "prov-1"); err != nil || j.Status != lifecycle.JourneyFinalized || j.FinalizedAt == nil {
		t.Fatalf("finalize: %v %+v", err, j)
	}
	var cerr *engine.ConflictError
	if _, err := e.ExitJourney(env.Ctx, j.ID, "prov-1"); !errors.As(err, &cerr) {
		t.Fatalf("expected finalized journey to be locked, got %v", err)
	}
}

func TestDeleteActionAndExit(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	j, _ := e.CreateJourney(env.Ctx, engine.CreateJourneyOptions{OwnerID: "req-1", Title: "Errands"})
	j, _ = e.AddStop(env.Ctx, engine.AddStopOptions{JourneyID: j.ID, ActorID: "req-1", Name: "Shop"})
	j, err := e.ConfigureAction(env.Ctx, engine.ConfigureActionOptions{JourneyID: j.ID, StopID: j.Stops[0].ID, ActorID: "req-1", Type: "purchase"})
	if err != nil {
		t.Fatal(err)
	}
	actionID := j.Stops[0].Actions[0].ID
	j, err = e.ConfigureAction(env.Ctx, engine.ConfigureActionOptions{JourneyID: j.ID, StopID: j.Stops[0].ID, ActorID: "req-1", ActionID: actionID, Type: "pickup", Description: "parcel"})
	if err != nil || len(j.Stops[0].Actions) != 1 || j.Stops[0].Actions[0].Type != "pickup" {
		t.Fatalf("replace action: %v %+v", err, j.Stops[0].Actions)
	}
	if j, err = e.DeleteAction(env.Ctx, j.ID, actionID, "req-1"); err != nil || len(j.Stops[0].Actions) != 0 {
		t.Fatalf("delete action: %v", err)
	}
	if _, err := e.DeleteAction(env.Ctx, j.ID, actionID, "req-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if j, err = e.ExitJourney(env.Ctx, j.ID, "req-1"); err != nil || j.Status != lifecycle.JourneyExited {
		t.Fatalf("exit: %v", err)
	}
}

func mustEvents(t *testing.T, env testEnv, entityID string) []domain.Event {
	t.Helper()
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{EntityID: entityID, Limit: 500})
	if err != nil {
		t.Fatal(err)
	}
	return evts
}

func TestProvidersAndNearby(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	p, err := e.RegisterProvider(env.Ctx, engine.RegisterProviderOptions{
		UserID:       "prov-1",
		DisplayName:  "Paul's Plumbing",
		ServiceTypes: []string{"plumbing"},
		Location:     &domain.GeoLocation{Latitude: 52.50, Longitude: 13.40},
		HunterMode:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RegisterProvider(env.Ctx, engine.RegisterProviderOptions{UserID: "prov-1", DisplayName: "again", ServiceTypes: []string{"plumbing"}}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if _, err := e.RegisterProvider(env.Ctx, engine.RegisterProviderOptions{UserID: "prov-2", DisplayName: "Pia", ServiceTypes: []string{"astrology"}}); err == nil {
		t.Fatalf("expected unknown service type to fail")
	}
	near := env.request(t)
	_, err = e.CreateRequest(env.Ctx, engine.CreateRequestOptions{
		RequesterID: "req-1", Type: "plumbing", Title: "Far away",
		Location: &domain.GeoLocation{Latitude: 48.13, Longitude: 11.58},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.CreateRequest(env.Ctx, engine.CreateRequestOptions{
		RequesterID: "req-1", Type: "cleaning", Title: "Wrong type",
		Location: &domain.GeoLocation{Latitude: 52.51, Longitude: 13.40},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.NearbyRequests(env.Ctx, engine.NearbyOptions{ProviderID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Request.ID != near.ID || res[0].DistanceKm <= 0 || res[0].DistanceKm > 10 {
		t.Fatalf("unexpected nearby %+v", res)
	}
	if _, err := e.NearbyRequests(env.Ctx, engine.NearbyOptions{ProviderID: p.ID, RadiusKm: 5000}); err == nil {
		t.Fatalf("expected radius above max to fail")
	}
	bid, err := e.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: near.ID, ProviderID: "prov-1", Amount: 20})
	if err != nil || bid.ProviderName != "Paul's Plumbing" {
		t.Fatalf("bid name: %v %q", err, bid.ProviderName)
	}
	list, _ := e.ListProviders(env.Ctx, "plumbing")
	if len(list) != 1 {
		t.Fatalf("expected 1 plumbing provider, got %d", len(list))
	}
}

func TestDistanceKm(t *testing.T) {
	// Berlin to Munich is roughly 504 km.
	d := engine.DistanceKm(52.52, 13.405, 48.137, 11.575)
	if d < 495 || d > 515 {
		t.Fatalf("unexpected distance %.1f", d)
	}
	if engine.DistanceKm(1, 1, 1, 1) != 0 {
		t.Fatalf("expected zero distance")
	}
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Broadcast(env.Ctx, engine.BroadcastOptions{ActorID: "req-1", Message: "hi"}); err == nil {
		t.Fatalf("expected non-admin broadcast to fail")
	}
	n, err := env.Engine.Broadcast(env.Ctx, engine.BroadcastOptions{ActorID: "admin-1", Message: "Maintenance tonight", Type: "warning", Role: domain.RoleProvider})
	if err != nil || n != 2 {
		t.Fatalf("broadcast: %v %d", err, n)
	}
	list, _ := env.Engine.Notifications("prov-2").List(env.Ctx)
	if len(list) != 1 || list[0].Type != "warning" {
		t.Fatalf("unexpected notifications %+v", list)
	}
	list, _ = env.Engine.Notifications("req-1").List(env.Ctx)
	if len(list) != 0 {
		t.Fatalf("requester should not receive provider broadcast")
	}
}

func TestChatRequiresAssignedProvider(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(t)
	var cerr *engine.ConflictError
	if _, _, err := env.Engine.OpenChat(env.Ctx, req.ID, "req-1"); !errors.As(err, &cerr) {
		t.Fatalf("expected conflict before assignment, got %v", err)
	}
	b, _ := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 50})
	if _, err := env.Engine.AcceptBid(env.Ctx, engine.AcceptBidOptions{RequestID: req.ID, BidID: b.ID, ActorID: "req-1"}); err != nil {
		t.Fatal(err)
	}
	s, _, err := env.Engine.OpenChat(env.Ctx, req.ID, "req-1")
	if err != nil || s.Counterpart.ID != "prov-1" {
		t.Fatalf("open chat: %v", err)
	}
	msg, err := env.Engine.SendChat(env.Ctx, req.ID, "req-1", "See you soon")
	if err != nil || msg.SenderID != "req-1" {
		t.Fatalf("send: %v %+v", err, msg)
	}
	n, err := env.Engine.Chat.Close(env.Ctx, req.ID, "req-1")
	if err != nil || n != nil {
		t.Fatalf("close without replies should not notify: %v %+v", err, n)
	}
	if _, err := env.Engine.SendChat(env.Ctx, req.ID, "prov-2", "hello"); err == nil {
		t.Fatalf("expected outsider to be rejected")
	}
}

func TestChatExcludesRejectedBidders(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(t)
	b1, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 50})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-2", Amount: 55}); err != nil {
		t.Fatal(err)
	}
	var ferr *engine.ForbiddenError
	if _, _, err := env.Engine.OpenChat(env.Ctx, req.ID, "prov-2"); !errors.As(err, &ferr) {
		t.Fatalf("bidders do not chat before assignment, got %v", err)
	}
	if _, err := env.Engine.AcceptBid(env.Ctx, engine.AcceptBidOptions{RequestID: req.ID, BidID: b1.ID, ActorID: "req-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendChat(env.Ctx, req.ID, "req-1", "gate code is 4711"); err != nil {
		t.Fatalf("requester send: %v", err)
	}

	if _, _, err := env.Engine.OpenChat(env.Ctx, req.ID, "prov-2"); !errors.As(err, &ferr) {
		t.Fatalf("rejected bidder open: expected forbidden, got %v", err)
	}
	if _, err := env.Engine.SendChat(env.Ctx, req.ID, "prov-2", "hi"); !errors.As(err, &ferr) {
		t.Fatalf("rejected bidder send: expected forbidden, got %v", err)
	}
	if _, _, err := env.Engine.ChatParties(env.Ctx, req.ID, "prov-2"); !errors.As(err, &ferr) {
		t.Fatalf("rejected bidder history: expected forbidden, got %v", err)
	}
	if got := env.Engine.Chat.OpenSessions(); got != 0 {
		t.Fatalf("expected no sessions, got %d", got)
	}

	s, history, err := env.Engine.OpenChat(env.Ctx, req.ID, "prov-1")
	if err != nil || s.Counterpart.ID != "req-1" || len(history) != 1 {
		t.Fatalf("assigned provider open: %v %+v %d", err, s, len(history))
	}
}

func TestTerminalStatusClosesChat(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(t)
	b, _ := env.Engine.SubmitBid(env.Ctx, engine.SubmitBidOptions{RequestID: req.ID, ProviderID: "prov-1", Amount: 50})
	if _, err := env.Engine.AcceptBid(env.Ctx, engine.AcceptBidOptions{RequestID: req.ID, BidID: b.ID, ActorID: "req-1"}); err != nil {
		t.Fatal(err)
	}
	for _, viewer := range []string{"req-1", "prov-1"} {
		if _, _, err := env.Engine.OpenChat(env.Ctx, req.ID, viewer); err != nil {
			t.Fatalf("open chat for %s: %v", viewer, err)
		}
	}
	if got := env.Engine.Chat.OpenSessions(); got != 2 {
		t.Fatalf("expected 2 sessions, got %d", got)
	}
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, engine.StatusUpdateOptions{ID: req.ID, Status: domain.StatusCancelled, ActorID: "req-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := env.Engine.Chat.OpenSessions(); got != 0 {
		t.Fatalf("expected sessions to stop with the request, got %d", got)
	}
	var cerr *engine.ConflictError
	if _, _, err := env.Engine.OpenChat(env.Ctx, req.ID, "req-1"); !errors.As(err, &cerr) {
		t.Fatalf("expected closed chat conflict, got %v", err)
	}
	if _, err := env.Engine.SendChat(env.Ctx, req.ID, "prov-1", "late"); !errors.As(err, &cerr) {
		t.Fatalf("expected closed chat conflict on send, got %v", err)
	}
	if _, _, err := env.Engine.ChatParties(env.Ctx, req.ID, "req-1"); err != nil {
		t.Fatalf("history stays readable: %v", err)
	}
}

func TestThemeSeesWritesFromAnotherEngine(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.Engine.Theme(env.Ctx, "req-1", nil)
	if err != nil || st.Current() != "light" {
		t.Fatalf("initial theme: %v %v", err, st)
	}
	other := engine.New(env.Engine.DB, config.Default())
	t.Cleanup(other.Chat.Shutdown)
	ost, err := other.Theme(env.Ctx, "req-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := ost.Toggle(env.Ctx); err != nil || v != "dark" {
		t.Fatalf("toggle elsewhere: %v %s", err, v)
	}

	st, err = env.Engine.Theme(env.Ctx, "req-1", nil)
	if err != nil || st.Current() != "dark" {
		t.Fatalf("expected reload to see dark, got %v %s", err, st.Current())
	}
	if v, err := st.Toggle(env.Ctx); err != nil || v != "light" {
		t.Fatalf("expected toggle back to light, got %v %s", err, v)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	key, plaintext, err := env.Engine.CreateAPIKey(env.Ctx, engine.CreateAPIKeyOptions{UserID: "prov-1", Name: "laptop"})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(plaintext, "gtd_") || key.KeyHash != repo.HashAPIKey(plaintext) {
		t.Fatalf("unexpected key material: %q %+v", plaintext, key)
	}
	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plaintext))
	if err != nil || found.ActorID != "prov-1" {
		t.Fatalf("lookup by hash: %v %+v", err, found)
	}
	var ferr *engine.ForbiddenError
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, "req-1"); !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, "admin-1"); err != nil {
		t.Fatalf("admin revoke: %v", err)
	}
	keys, err := env.Engine.ListAPIKeys(env.Ctx, "prov-1")
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected no keys, got %v %+v", err, keys)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, "prov-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := env.Engine.CreateAPIKey(env.Ctx, engine.CreateAPIKeyOptions{UserID: "ghost"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown user, got %v", err)
	}
}
