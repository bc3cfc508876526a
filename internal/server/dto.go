package server

import (
	"encoding/json"

	"gotodo/internal/domain"
)

// Request payloads

type DevLoginRequest struct {
	UserID string `json:"user_id" minLength:"1" maxLength:"64"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty" enum:"requester,provider,admin"`
}

type CreateRequestRequest struct {
	Type           string              `json:"type"`
	Title          string              `json:"title" minLength:"1"`
	Description    string              `json:"description,omitempty"`
	Summary        string              `json:"summary,omitempty"`
	SuggestedPrice float64             `json:"suggested_price,omitempty" minimum:"0"`
	Location       *domain.GeoLocation `json:"location,omitempty"`
}

type StatusUpdateRequest struct {
	Status string `json:"status" enum:"PENDING,AWAITING_ACCEPTANCE,PROVIDER_ASSIGNED,EN_ROUTE,SERVICE_IN_PROGRESS,PENDING_PAYMENT,COMPLETED,CANCELLED,DISPUTED"`
	Reason string `json:"reason,omitempty"`
}

type SubmitBidRequest struct {
	Amount  float64 `json:"bid_amount" exclusiveMinimum:"0"`
	Message string  `json:"message,omitempty"`
}

type RegisterProviderRequest struct {
	// UserID defaults to the caller; registering someone else needs admin.
	UserID       string              `json:"user_id,omitempty"`
	DisplayName  string              `json:"display_name" minLength:"1"`
	ServiceTypes []string            `json:"service_types" minItems:"1"`
	Location     *domain.GeoLocation `json:"location,omitempty"`
	HunterMode   bool                `json:"hunter_mode,omitempty"`
}

type NearbyRequestsRequest struct {
	ProviderID   string   `json:"provider_id,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	RadiusKm     float64  `json:"radius_km,omitempty" minimum:"0"`
	ServiceTypes []string `json:"service_types,omitempty"`
	Limit        int      `json:"limit,omitempty" minimum:"0"`
}

type BroadcastRequest struct {
	Message string `json:"message" minLength:"1"`
	Type    string `json:"type,omitempty" enum:"info,success,warning,error"`
	Role    string `json:"role,omitempty" enum:"requester,provider,admin"`
}

type ChatMessageRequest struct {
	Text string `json:"text"`
}

type CreateJourneyRequest struct {
	Title string `json:"title" minLength:"1"`
	Notes string `json:"notes,omitempty"`
}

type UpdateJourneyRequest struct {
	Title *string `json:"title,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

type AddStopRequest struct {
	Name     string              `json:"name" minLength:"1"`
	Location *domain.GeoLocation `json:"location,omitempty"`
	Position *int                `json:"position,omitempty"`
}

type UpdateStopRequest struct {
	Name          *string             `json:"name,omitempty"`
	Location      *domain.GeoLocation `json:"location,omitempty"`
	ClearLocation bool                `json:"clear_location,omitempty"`
	Position      *int                `json:"position,omitempty"`
}

type ActionRequest struct {
	Type        string  `json:"type" enum:"pickup,dropoff,service,purchase,errand,note"`
	RequestID   *string `json:"request_id,omitempty"`
	Description string  `json:"description,omitempty"`
}

type SetThemeRequest struct {
	Theme string `json:"theme" enum:"light,dark"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty" maxLength:"120"`
}

// Response payloads

type DevLoginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type MeResponse struct {
	User     domain.User      `json:"user"`
	Roles    []string         `json:"roles"`
	Source   string           `json:"source"`
	Theme    string           `json:"theme"`
	Unread   int              `json:"unread_notifications"`
	Provider *domain.Provider `json:"provider,omitempty"`
}

// APIKeyResponse never carries the hash. Key is set only on creation.
type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	Key       string `json:"key,omitempty"`
}

type BroadcastResponse struct {
	Recipients int `json:"recipients"`
}

type ChatSessionResponse struct {
	RequestID   string               `json:"request_id"`
	Viewer      ChatParticipant      `json:"viewer"`
	Counterpart ChatParticipant      `json:"counterpart"`
	Messages    []domain.ChatMessage `json:"messages"`
}

type ChatParticipant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ChatCloseResponse struct {
	Notified     bool                 `json:"notified"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

type NotificationsResponse struct {
	Items  []domain.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

type ThemeResponse struct {
	Theme string `json:"theme" enum:"light,dark"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ReadinessResponse struct {
	JourneyID string `json:"journey_id"`
	Ready     bool   `json:"ready"`
	Reason    string `json:"reason,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if e.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(e.Payload), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
