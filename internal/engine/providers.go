package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"gotodo/internal/domain"
	"gotodo/internal/events"
	"gotodo/internal/lifecycle"
	"gotodo/internal/repo"
)

type RegisterProviderOptions struct {
	ID           string
	UserID       string   `validate:"required"`
	DisplayName  string   `validate:"required,max=120"`
	ServiceTypes []string `validate:"required,min=1,dive,required"`
	Location     *domain.GeoLocation
	HunterMode   bool
}

// RegisterProvider creates the provider profile of a user and promotes a
// requester to the provider role.
func (e Engine) RegisterProvider(ctx context.Context, opts RegisterProviderOptions) (domain.Provider, error) {
	opts.DisplayName = strings.TrimSpace(opts.DisplayName)
	if err := validateOpts(opts); err != nil {
		return domain.Provider{}, err
	}
	if err := validateLocation(opts.Location); err != nil {
		return domain.Provider{}, err
	}
	cfg, err := e.SystemConfig(ctx)
	if err != nil {
		return domain.Provider{}, err
	}
	for _, st := range opts.ServiceTypes {
		if !cfg.HasServiceType(st) {
			return domain.Provider{}, invalid("unknown service type %q", st)
		}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Provider{}, err
	}
	defer tx.Rollback()

	user, err := e.Repo.GetUser(ctx, tx, opts.UserID)
	if err != nil {
		return domain.Provider{}, fmt.Errorf("user %s: %w", opts.UserID, err)
	}
	if _, err := e.Repo.GetProviderByUser(ctx, tx, user.ID); err == nil {
		return domain.Provider{}, conflict("user %s is already a provider", user.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Provider{}, err
	}
	p := domain.Provider{
		ID:           opts.ID,
		UserID:       user.ID,
		DisplayName:  opts.DisplayName,
		ServiceTypes: opts.ServiceTypes,
		Location:     opts.Location,
		HunterMode:   opts.HunterMode,
		CreatedAt:    e.stamp(),
	}
	if err := e.Repo.InsertProvider(ctx, tx, p); err != nil {
		return p, fmt.Errorf("insert provider: %w", err)
	}
	if user.Role == domain.RoleRequester {
		user.Role = domain.RoleProvider
		if err := e.Repo.UpdateUser(ctx, tx, user); err != nil {
			return p, err
		}
	}
	if err := e.Events.Append(ctx, tx, "provider.register", events.KindProvider, p.ID, user.ID, events.EventPayload{"service_types": p.ServiceTypes}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

func (e Engine) ListProviders(ctx context.Context, serviceType string) ([]domain.Provider, error) {
	return e.Repo.ListProviders(ctx, serviceType)
}

func (e Engine) GetProvider(ctx context.Context, id string) (domain.Provider, error) {
	return e.Repo.GetProvider(ctx, nil, id)
}

type NearbyOptions struct {
	// ProviderID fills in location and service types from the provider
	// profile when they are not given.
	ProviderID   string
	Latitude     *float64 `validate:"omitempty,gte=-90,lte=90"`
	Longitude    *float64 `validate:"omitempty,gte=-180,lte=180"`
	RadiusKm     float64  `validate:"gte=0"`
	ServiceTypes []string
	Limit        int `validate:"gte=0"`
}

// NearbyRequests is the Hunter Mode search: requests open for bids within
// the radius of a point, nearest first.
func (e Engine) NearbyRequests(ctx context.Context, opts NearbyOptions) ([]domain.NearbyRequest, error) {
	if err := validateOpts(opts); err != nil {
		return nil, err
	}
	cfg, err := e.SystemConfig(ctx)
	if err != nil {
		return nil, err
	}
	var ownUserID string
	if opts.ProviderID != "" {
		p, err := e.Repo.GetProvider(ctx, nil, opts.ProviderID)
		if err != nil {
			return nil, err
		}
		ownUserID = p.UserID
		if opts.Latitude == nil && opts.Longitude == nil && p.Location != nil {
			opts.Latitude, opts.Longitude = &p.Location.Latitude, &p.Location.Longitude
		}
		if len(opts.ServiceTypes) == 0 {
			opts.ServiceTypes = p.ServiceTypes
		}
	}
	if opts.Latitude == nil || opts.Longitude == nil {
		return nil, invalid("latitude and longitude are required")
	}
	if opts.RadiusKm == 0 {
		opts.RadiusKm = cfg.Hunter.DefaultRadiusKm
	}
	if opts.RadiusKm > cfg.Hunter.MaxRadiusKm {
		return nil, invalid("radius_km must not exceed %.0f", cfg.Hunter.MaxRadiusKm)
	}
	open, err := e.Repo.ListRequests(ctx, repo.RequestFilters{Status: []domain.RequestStatus{domain.StatusPending, domain.StatusAwaitingAcceptance}})
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, st := range opts.ServiceTypes {
		wanted[st] = true
	}
	res := []domain.NearbyRequest{}
	for _, req := range open {
		if req.Location == nil || !lifecycle.OpenForBids(req.Status) {
			continue
		}
		if len(wanted) > 0 && !wanted[req.Type] {
			continue
		}
		if ownUserID != "" && req.RequesterID == ownUserID {
			continue
		}
		d := DistanceKm(*opts.Latitude, *opts.Longitude, req.Location.Latitude, req.Location.Longitude)
		if d > opts.RadiusKm {
			continue
		}
		res = append(res, domain.NearbyRequest{Request: req, DistanceKm: math.Round(d*100) / 100})
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].DistanceKm < res[j].DistanceKm })
	if opts.Limit > 0 && len(res) > opts.Limit {
		res = res[:opts.Limit]
	}
	return res, nil
}

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
