package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gotodo/internal/config"
	"gotodo/internal/db"
	"gotodo/internal/domain"
	"gotodo/internal/engine"
	"gotodo/internal/lifecycle"
	"gotodo/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	seedUsers(t, e)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			e.Chat.Shutdown()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedUsers(t *testing.T, e engine.Engine) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []engine.EnsureUserOptions{
		{ID: "req-1", Name: "Rita", Role: domain.RoleRequester},
		{ID: "prov-1", Name: "Pablo", Role: domain.RoleRequester},
		{ID: "prov-2", Name: "Priya", Role: domain.RoleRequester},
		{ID: "admin-1", Name: "Ada", Role: domain.RoleAdmin},
	} {
		if _, err := e.EnsureUser(ctx, u); err != nil {
			t.Fatalf("ensure user %s: %v", u.ID, err)
		}
	}
	if _, err := e.RegisterProvider(ctx, engine.RegisterProviderOptions{
		UserID:       "prov-1",
		DisplayName:  "Pablo Plumbing",
		ServiceTypes: []string{"plumbing"},
		Location:     &domain.GeoLocation{Latitude: 40.7128, Longitude: -74.0060},
		HunterMode:   true,
	}); err != nil {
		t.Fatalf("register prov-1: %v", err)
	}
	if _, err := e.RegisterProvider(ctx, engine.RegisterProviderOptions{
		UserID:       "prov-2",
		DisplayName:  "Priya Pipes",
		ServiceTypes: []string{"plumbing", "repair"},
	}); err != nil {
		t.Fatalf("register prov-2: %v", err)
	}
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %T: %v (%s)", v, err, string(data))
	}
	return v
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("expected status %d, got %d: %s", want, res.StatusCode, string(data))
	}
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) apiError {
	t.Helper()
	expectStatus(t, res, data, status)
	env := decode[apiError](t, data)
	if env.Code != code {
		t.Fatalf("expected code %q, got %q (%s)", code, env.Code, env.Message)
	}
	if env.Message == "" {
		t.Fatalf("expected error message in %s", string(data))
	}
	return env
}

func createRequest(t *testing.T, srv *testServer, actor string, body map[string]any) domain.Request {
	t.Helper()
	if body == nil {
		body = map[string]any{
			"type":            "plumbing",
			"title":           "Fix kitchen sink",
			"description":     "The kitchen sink drips constantly.",
			"suggested_price": 90,
			"location":        map[string]any{"latitude": 40.73, "longitude": -73.99, "address": "12 Main St"},
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/requests", body, as(actor))
	expectStatus(t, res, data, http.StatusCreated)
	return decode[domain.Request](t, data)
}

func submitBid(t *testing.T, srv *testServer, requestID, provider string, amount float64) domain.Bid {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/requests/"+requestID+"/bids", map[string]any{
		"bid_amount": amount,
		"message":    "Can come today",
	}, as(provider))
	expectStatus(t, res, data, http.StatusCreated)
	return decode[domain.Bid](t, data)
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `"ok"`) {
		t.Fatalf("unexpected health body %s", string(data))
	}
}

func TestRequestsRequireAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/requests", nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/requests", nil, map[string]string{"Authorization": "Bearer nope"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	stale, err := signDevToken(testSecret, "req-1", []string{domain.RoleRequester}, time.Hour, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/requests", nil, map[string]string{"Authorization": "Bearer " + stale})
	expectError(t, res, data, http.StatusUnauthorized, "token_expired")
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/dev/login", map[string]any{
		"user_id": "new-user",
		"name":    "Nia",
	}, nil)
	expectStatus(t, res, data, http.StatusOK)
	login := decode[DevLoginResponse](t, data)
	if login.Token == "" || login.User.Role != domain.RoleRequester {
		t.Fatalf("unexpected login %+v", login)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	expectStatus(t, res, data, http.StatusOK)
	me := decode[MeResponse](t, data)
	if me.User.ID != "new-user" || me.Source != "jwt" || me.Theme != "light" {
		t.Fatalf("unexpected me %+v", me)
	}

	// Logging in again keeps the stored role.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/dev/login", map[string]any{"user_id": "prov-1"}, nil)
	expectStatus(t, res, data, http.StatusOK)
	login = decode[DevLoginResponse](t, data)
	if login.User.Role != domain.RoleProvider || login.User.Name != "Pablo" {
		t.Fatalf("expected existing provider, got %+v", login.User)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/me/api-keys", map[string]any{"name": "cli"}, as("prov-1"))
	expectStatus(t, res, data, http.StatusCreated)
	created := decode[APIKeyResponse](t, data)
	if created.Key == "" || created.Name != "cli" {
		t.Fatalf("unexpected key %+v", created)
	}

	keyHeader := map[string]string{"X-Api-Key": created.Key}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, keyHeader)
	expectStatus(t, res, data, http.StatusOK)
	me := decode[MeResponse](t, data)
	if me.User.ID != "prov-1" || me.Source != "api_key" {
		t.Fatalf("unexpected me %+v", me)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me/api-keys", nil, keyHeader)
	expectStatus(t, res, data, http.StatusOK)
	keys := decode[[]APIKeyResponse](t, data)
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("listing must not expose keys: %+v", keys)
	}

	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/me/api-keys/"+created.ID, nil, as("req-1"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/me/api-keys/"+created.ID, nil, keyHeader)
	expectStatus(t, res, data, http.StatusNoContent)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, keyHeader)
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestBidAcceptanceFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req := createRequest(t, srv, "req-1", nil)
	if req.Status != domain.StatusPending || req.Summary == "" {
		t.Fatalf("unexpected new request %+v", req)
	}

	first := submitBid(t, srv, req.ID, "prov-1", 80)
	if first.ProviderName != "Pablo Plumbing" || first.Status != domain.BidOpen {
		t.Fatalf("unexpected bid %+v", first)
	}
	submitBid(t, srv, req.ID, "prov-2", 70)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/requests/"+req.ID+"/bids", map[string]any{"bid_amount": 75}, as("prov-1"))
	expectError(t, res, data, http.StatusConflict, "conflict")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/requests/"+req.ID+"/bids", map[string]any{"bid_amount": 60}, as("req-1"))
	expectError(t, res, data, http.StatusUnprocessableEntity, "validation_failed")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/requests/"+req.ID, nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	got := decode[domain.Request](t, data)
	if got.Status != domain.StatusAwaitingAcceptance || len(got.Bids) != 2 {
		t.Fatalf("expected awaiting acceptance with 2 bids, got %s with %d", got.Status, len(got.Bids))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/requests/"+req.ID+"/bids/"+first.ID+"/accept", nil, as("prov-2"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/requests/"+req.ID+"/bids/"+first.ID+"/accept", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	accepted := decode[domain.Request](t, data)
	if accepted.Status != domain.StatusProviderAssigned {
		t.Fatalf("expected provider assigned, got %s", accepted.Status)
	}
	if accepted.ProviderID == nil || *accepted.ProviderID != "prov-1" {
		t.Fatalf("expected prov-1 assigned, got %v", accepted.ProviderID)
	}
	if accepted.AgreedPrice == nil || *accepted.AgreedPrice != 80 {
		t.Fatalf("expected agreed price 80, got %v", accepted.AgreedPrice)
	}
	if accepted.PlatformFee == nil || *accepted.PlatformFee != 8 {
		t.Fatalf("expected platform fee 8, got %v", accepted.PlatformFee)
	}
	for _, b := range accepted.Bids {
		want := domain.BidRejected
		if b.ID == first.ID {
			want = domain.BidAccepted
		}
		if b.Status != want {
			t.Fatalf("bid %s: expected %s, got %s", b.ID, want, b.Status)
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/requests/"+req.ID+"/bids/"+first.ID+"/accept", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusConflict)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/requests/"+req.ID+"/timeline", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	view := decode[lifecycle.TimelineView](t, data)
	if view.CurrentIndex != 2 || view.Steps[2].State != lifecycle.StepActive || view.Steps[1].State != lifecycle.StepCompleted {
		t.Fatalf("unexpected timeline %+v", view)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/notifications", nil, as("prov-1"))
	expectStatus(t, res, data, http.StatusOK)
	notes := decode[NotificationsResponse](t, data)
	if notes.Unread == 0 || len(notes.Items) == 0 {
		t.Fatalf("expected acceptance notification for prov-1, got %+v", notes)
	}
	if notes.Items[0].RelatedRequestID != req.ID {
		t.Fatalf("expected notification linked to %s, got %+v", req.ID, notes.Items[0])
	}
}

func TestStatusTransitions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req := createRequest(t, srv, "req-1", nil)
	statusURL := srv.URL + "/api/requests/" + req.ID + "/status"

	res, data := doJSON(t, client, http.MethodPatch, statusURL, map[string]any{"status": "EN_ROUTE"}, as("req-1"))
	env := expectError(t, res, data, http.StatusConflict, "invalid_transition")
	if env.Details["from"] != string(domain.StatusPending) {
		t.Fatalf("expected from detail, got %+v", env.Details)
	}

	res, data = doJSON(t, client, http.MethodPatch, statusURL, map[string]any{"status": "CANCELLED", "reason": "changed my mind"}, as("prov-2"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPatch, statusURL, map[string]any{"status": "CANCELLED", "reason": "changed my mind"}, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	cancelled := decode[domain.Request](t, data)
	if cancelled.Status != domain.StatusCancelled || cancelled.StatusReason != "changed my mind" {
		t.Fatalf("unexpected cancelled request %+v", cancelled)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/requests/"+req.ID+"/timeline", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	view := decode[lifecycle.TimelineView](t, data)
	if view.Badge == "" || len(view.Steps) != 0 {
		t.Fatalf("expected badge-only timeline, got %+v", view)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/requests/"+req.ID+"/bids", map[string]any{"bid_amount": 50}, as("prov-1"))
	expectError(t, res, data, http.StatusConflict, "not_open_for_bids")
}

func TestListRequestsFilters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	createRequest(t, srv, "req-1", nil)
	other := createRequest(t, srv, "prov-2", map[string]any{"type": "repair", "title": "Hang shelves"})
	submitBid(t, srv, other.ID, "prov-1", 40)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/requests?status=awaiting_acceptance", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	items := decode[[]domain.Request](t, data)
	if len(items) != 1 || items[0].ID != other.ID {
		t.Fatalf("expected only the bid-on request, got %+v", items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/requests?mine=true", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	items = decode[[]domain.Request](t, data)
	if len(items) != 1 || items[0].RequesterID != "req-1" {
		t.Fatalf("expected caller's request only, got %+v", items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/requests", map[string]any{"type": "astrology", "title": "Read my stars"}, as("req-1"))
	expectError(t, res, data, http.StatusUnprocessableEntity, "validation_failed")
}

func TestJourneyPlannerEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/journeys", map[string]any{"title": "Saturday errands"}, as("req-1"))
	expectStatus(t, res, data, http.StatusCreated)
	plan := decode[domain.JourneyPlan](t, data)
	base := srv.URL + "/api/journeys/" + plan.ID

	res, data = doJSON(t, client, http.MethodPost, base+"/finalize", nil, as("req-1"))
	env := expectError(t, res, data, http.StatusUnprocessableEntity, "journey_not_ready")
	if env.Message != lifecycle.ReasonNoStops {
		t.Fatalf("unexpected reason %q", env.Message)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/stops", map[string]any{
		"name":     "Hardware store",
		"location": map[string]any{"latitude": 40.71, "longitude": -74.0},
	}, as("req-1"))
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, client, http.MethodPost, base+"/stops", map[string]any{"name": "Home"}, as("req-1"))
	expectStatus(t, res, data, http.StatusCreated)
	plan = decode[domain.JourneyPlan](t, data)
	if len(plan.Stops) != 2 {
		t.Fatalf("expected 2 stops, got %d", len(plan.Stops))
	}
	home := plan.Stops[1]

	res, data = doJSON(t, client, http.MethodGet, base+"/readiness", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	ready := decode[ReadinessResponse](t, data)
	if ready.Ready || ready.Reason != lifecycle.ReasonMissingLocation {
		t.Fatalf("expected missing location, got %+v", ready)
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/stops/"+home.ID, map[string]any{
		"location": map[string]any{"latitude": 40.72, "longitude": -74.01},
	}, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, base+"/stops/"+home.ID+"/actions", map[string]any{
		"type":        "dropoff",
		"description": "Unload tools",
	}, as("req-1"))
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, client, http.MethodGet, base, nil, as("prov-1"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPost, base+"/finalize", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	plan = decode[domain.JourneyPlan](t, data)
	if plan.Status != lifecycle.JourneyFinalized || plan.FinalizedAt == nil {
		t.Fatalf("expected finalized plan, got %+v", plan)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/stops", map[string]any{"name": "Late stop"}, as("req-1"))
	expectError(t, res, data, http.StatusConflict, "conflict")
}

func TestAdminConfigurationAndMaintenance(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/configuration", nil, as("req-1"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/configuration", nil, as("admin-1"))
	expectStatus(t, res, data, http.StatusOK)
	cfg := decode[config.Config](t, data)
	if cfg.Platform.Name == "" || !cfg.HasServiceType("plumbing") {
		t.Fatalf("unexpected config %+v", cfg.Platform)
	}

	cfg.Platform.MaintenanceMode = true
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/admin/configuration", cfg, as("admin-1"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/requests", map[string]any{"type": "plumbing", "title": "Leak"}, as("req-1"))
	expectError(t, res, data, http.StatusServiceUnavailable, "maintenance")

	cfg.Chat.Replies = nil
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/admin/configuration", cfg, as("admin-1"))
	if res.StatusCode < 400 || res.StatusCode >= 500 {
		t.Fatalf("expected client error for invalid config, got %d: %s", res.StatusCode, string(data))
	}
}

func TestBroadcastAndNotificationCenter(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/admin/broadcast", map[string]any{"message": "Scheduled downtime tonight"}, as("req-1"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/admin/broadcast", map[string]any{
		"message": "Scheduled downtime tonight",
		"type":    "warning",
		"role":    "requester",
	}, as("admin-1"))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[BroadcastResponse](t, data); got.Recipients != 1 {
		t.Fatalf("expected 1 requester reached, got %d", got.Recipients)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/notifications", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	notes := decode[NotificationsResponse](t, data)
	if notes.Unread != 1 || notes.Items[0].Type != "warning" {
		t.Fatalf("unexpected notifications %+v", notes)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/notifications/missing/read", nil, as("req-1"))
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/notifications/"+notes.Items[0].ID+"/read", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[NotificationsResponse](t, data); got.Unread != 0 || !got.Items[0].Read {
		t.Fatalf("expected read notification, got %+v", got)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/notifications", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[NotificationsResponse](t, data); len(got.Items) != 0 {
		t.Fatalf("expected cleared notifications, got %+v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/notifications", nil, as("prov-1"))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[NotificationsResponse](t, data); len(got.Items) != 0 {
		t.Fatalf("providers should not get requester broadcast, got %+v", got)
	}
}

func TestThemeEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/me/theme", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[ThemeResponse](t, data); got.Theme != "light" {
		t.Fatalf("expected light default, got %s", got.Theme)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/me/theme/toggle", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[ThemeResponse](t, data); got.Theme != "dark" {
		t.Fatalf("expected dark after toggle, got %s", got.Theme)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/me/theme", nil, as("prov-1"))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[ThemeResponse](t, data); got.Theme != "light" {
		t.Fatalf("themes are per user, got %s", got.Theme)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/me/theme", map[string]any{"theme": "light"}, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[ThemeResponse](t, data); got.Theme != "light" {
		t.Fatalf("expected light after set, got %s", got.Theme)
	}
}

func TestChatEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req := createRequest(t, srv, "req-1", nil)
	chatURL := srv.URL + "/api/requests/" + req.ID + "/chat"

	res, data := doJSON(t, client, http.MethodPost, chatURL+"/open", nil, as("req-1"))
	expectError(t, res, data, http.StatusConflict, "conflict")

	bid := submitBid(t, srv, req.ID, "prov-1", 85)
	submitBid(t, srv, req.ID, "prov-2", 95)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/requests/"+req.ID+"/bids/"+bid.ID+"/accept", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, chatURL+"/open", nil, as("admin-1"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPost, chatURL+"/close", nil, as("req-1"))
	expectError(t, res, data, http.StatusConflict, "chat_not_open")

	res, data = doJSON(t, client, http.MethodPost, chatURL+"/open", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	session := decode[ChatSessionResponse](t, data)
	if session.Counterpart.ID != "prov-1" || session.Counterpart.Name != "Pablo Plumbing" {
		t.Fatalf("unexpected counterpart %+v", session.Counterpart)
	}

	res, data = doJSON(t, client, http.MethodPost, chatURL+"/messages", map[string]any{"text": "   "}, as("req-1"))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodPost, chatURL+"/messages", map[string]any{"text": "Is 3pm fine?"}, as("req-1"))
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, client, http.MethodGet, chatURL+"/messages", nil, as("prov-1"))
	expectStatus(t, res, data, http.StatusOK)
	msgs := decode[[]domain.ChatMessage](t, data)
	if len(msgs) != 1 || msgs[0].SenderID != "req-1" {
		t.Fatalf("unexpected history %+v", msgs)
	}

	// the losing bidder sees nothing of the thread
	res, data = doJSON(t, client, http.MethodGet, chatURL+"/messages", nil, as("prov-2"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")
	res, data = doJSON(t, client, http.MethodPost, chatURL+"/messages", map[string]any{"text": "pick me"}, as("prov-2"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")
	res, data = doJSON(t, client, http.MethodPost, chatURL+"/open", nil, as("prov-2"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPost, chatURL+"/focus", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, chatURL+"/close", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[ChatCloseResponse](t, data); got.Notified {
		t.Fatalf("own last message must not notify, got %+v", got)
	}
}

func TestProvidersAndNearbyRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/providers?service_type=repair", nil, as("req-1"))
	expectStatus(t, res, data, http.StatusOK)
	providers := decode[[]domain.Provider](t, data)
	if len(providers) != 1 || providers[0].UserID != "prov-2" {
		t.Fatalf("expected repair provider prov-2, got %+v", providers)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/providers", map[string]any{
		"display_name":  "Rita Repairs",
		"service_types": []string{"repair"},
	}, as("req-1"))
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/providers", map[string]any{
		"display_name":  "Rita Again",
		"service_types": []string{"repair"},
	}, as("req-1"))
	expectError(t, res, data, http.StatusConflict, "conflict")

	near := createRequest(t, srv, "admin-1", nil)
	createRequest(t, srv, "admin-1", map[string]any{
		"type":     "plumbing",
		"title":    "Far away leak",
		"location": map[string]any{"latitude": 34.05, "longitude": -118.24},
	})

	prov, err := srv.Engine.Repo.GetProviderByUser(context.Background(), nil, "prov-1")
	if err != nil {
		t.Fatalf("load provider: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/providers/nearby-requests", map[string]any{
		"provider_id": prov.ID,
	}, as("prov-1"))
	expectStatus(t, res, data, http.StatusOK)
	found := decode[[]domain.NearbyRequest](t, data)
	if len(found) != 1 || found[0].Request.ID != near.ID || found[0].DistanceKm <= 0 {
		t.Fatalf("expected only the nearby request, got %+v", found)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/providers/nearby-requests", map[string]any{
		"latitude":  40.7,
		"longitude": -74.0,
		"radius_km": 5000,
	}, as("prov-1"))
	expectError(t, res, data, http.StatusUnprocessableEntity, "validation_failed")
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := createRequest(t, srv, "req-1", nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events", nil, as("req-1"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?type=request.create", nil, as("admin-1"))
	expectStatus(t, res, data, http.StatusOK)
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.Items[0].EntityID != req.ID || page.Items[0].ActorID != "req-1" {
		t.Fatalf("unexpected events %+v", page.Items)
	}
}

func TestOpenAPIAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), "bearerAuth") || !strings.Contains(string(data), "/api/requests/{id}/bids/{bid_id}/accept") {
		t.Fatalf("openapi document missing expected entries")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), "/api/openapi.json") {
		t.Fatalf("docs page does not link the OpenAPI document")
	}
}

func TestWebhookDispatcherDeliversMatchingEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	var mu sync.Mutex
	var delivered []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil && r.Header.Get("X-Gotodo-Secret") == "s3cret" {
			mu.Lock()
			delivered = append(delivered, evt)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg, err := srv.Engine.SystemConfig(ctx)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"request.create"}, Secret: "s3cret"}}
	if _, err := srv.Engine.UpdateSystemConfig(ctx, cfg, "admin-1"); err != nil {
		t.Fatalf("update config: %v", err)
	}

	d := NewWebhookDispatcher(srv.Engine, nil)
	d.Client = &http.Client{Timeout: time.Second}
	d.DispatchOnce(ctx)

	req := createRequest(t, srv, "req-1", nil)
	submitBid(t, srv, req.ID, "prov-1", 50)
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(delivered))
	}
	if delivered[0].Type != "request.create" || delivered[0].EntityID != req.ID {
		t.Fatalf("unexpected delivery %+v", delivered[0])
	}
}
