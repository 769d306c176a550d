package domain

import "time"

// DeviceType classifies the client device from its user agent.
type DeviceType string

const (
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeUnknown DeviceType = "unknown"
)

// DeviceInfo is the resolved device context for one request. Pure value, not
// persisted on its own; embedded into sessions and audit events.
type DeviceInfo struct {
	Name        string
	Type        DeviceType
	Fingerprint string
	Platform    string
	Browser     string
	OS          string
}

// Geolocation is coarse location context derived from a source IP. All fields
// optional; city-level at most.
type Geolocation struct {
	Country  string
	City     string
	Timezone string
}

// Device represents a known device binding for a user in an org. Presence of
// a fingerprint here makes the device "recognized" for risk scoring.
type Device struct {
	ID          string
	UserID      string
	OrgID       string
	Fingerprint string
	Type        DeviceType
	LastSeenAt  *time.Time
	CreatedAt   time.Time
}
