package domain

type RequestStatus string

const (
	StatusPending            RequestStatus = "PENDING"
	StatusAwaitingAcceptance RequestStatus = "AWAITING_ACCEPTANCE"
	StatusProviderAssigned   RequestStatus = "PROVIDER_ASSIGNED"
	StatusEnRoute            RequestStatus = "EN_ROUTE"
	StatusServiceInProgress  RequestStatus = "SERVICE_IN_PROGRESS"
	StatusPendingPayment     RequestStatus = "PENDING_PAYMENT"
	StatusCompleted          RequestStatus = "COMPLETED"
	StatusCancelled          RequestStatus = "CANCELLED"
	StatusDisputed           RequestStatus = "DISPUTED"
)

type BidStatus string

const (
	BidOpen      BidStatus = "open"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
	BidWithdrawn BidStatus = "withdrawn"
)

const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
	RoleAdmin     = "admin"
)

type GeoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Request is a unit of work posted by a requester.
type Request struct {
	ID             string        `json:"id"`
	RequesterID    string        `json:"requester_id"`
	ProviderID     *string       `json:"provider_id,omitempty"`
	Type           string        `json:"type"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Summary        string        `json:"summary,omitempty"`
	Status         RequestStatus `json:"status"`
	SuggestedPrice float64       `json:"suggested_price"`
	AgreedPrice    *float64      `json:"agreed_price,omitempty"`
	PlatformFee    *float64      `json:"platform_fee,omitempty"`
	Location       *GeoLocation  `json:"location,omitempty"`
	StatusReason   string        `json:"status_reason,omitempty"`
	Bids           []Bid         `json:"bids"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
	UpdatedAt      string        `json:"updated_at" format:"date-time"`
}

// Bid is a provider's priced offer on a request.
type Bid struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	ProviderID   string    `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
	Amount       float64   `json:"bid_amount"`
	Message      string    `json:"message,omitempty"`
	Status       BidStatus `json:"status"`
	Timestamp    string    `json:"timestamp" format:"date-time"`
}

type JourneyAction struct {
	ID          string  `json:"id"`
	StopID      string  `json:"stop_id"`
	Type        string  `json:"type"`
	RequestID   *string `json:"request_id,omitempty"`
	Description string  `json:"description,omitempty"`
	Position    int     `json:"position"`
}

type JourneyStop struct {
	ID        string          `json:"id"`
	JourneyID string          `json:"journey_id"`
	Name      string          `json:"name"`
	Location  *GeoLocation    `json:"location,omitempty"`
	Position  int             `json:"position"`
	Actions   []JourneyAction `json:"actions"`
}

type JourneyPlan struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Title       string        `json:"title"`
	Notes       string        `json:"notes,omitempty"`
	Status      string        `json:"status" enum:"draft,finalized,exited"`
	Stops       []JourneyStop `json:"stops"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
	FinalizedAt *string       `json:"finalized_at,omitempty" format:"date-time"`
}

type ChatMessage struct {
	ID         string `json:"id"`
	RequestID  string `json:"request_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp" format:"date-time"`
}

type Notification struct {
	ID               string `json:"id"`
	Message          string `json:"message"`
	Type             string `json:"type" enum:"info,success,warning,error,message,bid"`
	Timestamp        string `json:"timestamp" format:"date-time"`
	Read             bool   `json:"read"`
	Link             string `json:"link,omitempty"`
	RelatedRequestID string `json:"related_request_id,omitempty"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role" enum:"requester,provider,admin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Provider struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	DisplayName  string       `json:"display_name"`
	ServiceTypes []string     `json:"service_types"`
	Location     *GeoLocation `json:"location,omitempty"`
	Rating       float64      `json:"rating"`
	HunterMode   bool         `json:"hunter_mode"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
}

// NearbyRequest is a request returned by a Hunter Mode search.
type NearbyRequest struct {
	Request    Request `json:"request"`
	DistanceKm float64 `json:"distance_km"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
