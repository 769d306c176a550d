package domain

import (
	"encoding/json"
	"time"

	devicedomain "org-security-engine/internal/device/domain"
	"org-security-engine/internal/risk"
)

// Session purposes. A login session authenticates requests; a password reset
// session is a short-lived single-use token that authorizes exactly one
// credential change.
const (
	PurposeLogin         = "login"
	PurposePasswordReset = "password_reset"
)

// Session is one issued session. The opaque token is the primary identifier;
// there is no separate surrogate key.
type Session struct {
	Token   string
	UserID  string
	OrgID   string
	Purpose string

	IssuedAt       time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time

	Revoked      bool
	RevokedAt    *time.Time
	RevokedBy    string
	RevokeReason string

	// Expired is the sweep flag set by cleanup. Liveness is governed by
	// ExpiresAt alone; the flag only marks rows the sweeper has visited.
	Expired bool

	IP     string
	Device devicedomain.DeviceInfo
	Geo    *devicedomain.Geolocation

	RiskScore     int
	SecurityLevel risk.Level
	RiskFactors   []string

	Metadata json.RawMessage
}

// IsLive reports whether the session authenticates requests at the given
// instant: not revoked and not past its expiry.
func (s *Session) IsLive(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
