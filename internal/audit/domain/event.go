package domain

import (
	"encoding/json"
	"time"

	devicedomain "org-security-engine/internal/device/domain"
)

// EventType partitions the audit stream by the subsystem that emitted the
// event.
type EventType string

const (
	EventTypeLogin         EventType = "login"
	EventTypeLogout        EventType = "logout"
	EventTypeSession       EventType = "session"
	EventTypePasswordReset EventType = "password_reset"
	EventTypeMFA           EventType = "mfa"
	EventTypeOAuth         EventType = "oauth"
)

// Status records the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
	StatusPending Status = "pending"
)

// Category groups events for compliance reporting.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategorySecurity   Category = "security"
	CategoryAdmin      Category = "admin"
	CategoryCompliance Category = "compliance"
)

// RequestContext captures where an audited request came from. All fields are
// optional; an event with an empty context is still valid.
type RequestContext struct {
	IP        string                    `json:"ip,omitempty"`
	UserAgent string                    `json:"user_agent,omitempty"`
	Device    devicedomain.DeviceInfo   `json:"device,omitempty"`
	Geo       *devicedomain.Geolocation `json:"geo,omitempty"`
}

// Event is one immutable audit record. SessionToken holds the SHA-256 hash of
// the session token; raw tokens are never written to the trail.
type Event struct {
	ID           string
	UserID       string
	OrgID        string
	SessionToken string
	Type         EventType
	Action       string
	Status       Status
	Category     Category
	Context      RequestContext
	RiskScore    int
	RiskFactors  []string
	Data         json.RawMessage
	ErrorCode    string
	ErrorMessage string
	Source       string
	Processed    bool
	CreatedAt    time.Time
}

// SessionEventData is the typed payload for session lifecycle events.
type SessionEventData struct {
	Purpose       string `json:"purpose,omitempty"`
	SecurityLevel string `json:"security_level,omitempty"`
	TTLSeconds    int64  `json:"ttl_seconds,omitempty"`
	RevokedBy     string `json:"revoked_by,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Count         int64  `json:"count,omitempty"`
}

// LoginEventData is the typed payload for login attempt events. Email is the
// address as submitted; it identifies the attempt even when no user matched.
type LoginEventData struct {
	Email          string `json:"email,omitempty"`
	FailedAttempts int    `json:"failed_attempts,omitempty"`
	LockedUntil    string `json:"locked_until,omitempty"`
}

// PasswordResetEventData is the typed payload for password reset events.
type PasswordResetEventData struct {
	Email     string `json:"email,omitempty"`
	Delivered bool   `json:"delivered,omitempty"`
}

// MarshalData encodes a typed payload into Event.Data. A nil payload yields
// nil Data.
func MarshalData(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
