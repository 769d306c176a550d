// Package device derives device and coarse location context from request
// metadata. Resolution is pure CPU work; the geo lookup is an injected
// collaborator and must not perform network I/O.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"org-security-engine/internal/clock"
	"org-security-engine/internal/device/domain"
)

// ipHeaders is the trusted proxy header precedence for client IP extraction.
// First validated value wins.
var ipHeaders = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
	"Cf-Connecting-Ip",
	"True-Client-Ip",
}

// GeoResolver maps a source IP to coarse location context. Implementations
// must be lookup-only (no network calls); return nil when the IP is unknown.
type GeoResolver interface {
	Lookup(ip string) *domain.Geolocation
}

// Resolver derives DeviceInfo and Geolocation from a user agent and IP.
type Resolver struct {
	clock clock.Clock
	geo   GeoResolver
}

// NewResolver returns a Resolver using the given clock for fingerprint
// rotation and geo for IP lookups. geo may be nil.
func NewResolver(clk clock.Clock, geo GeoResolver) *Resolver {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Resolver{clock: clk, geo: geo}
}

// Resolve classifies the user agent and returns device info plus coarse
// geolocation for ip (nil when unresolvable). ip may be empty.
func (r *Resolver) Resolve(userAgent, ip string) (domain.DeviceInfo, *domain.Geolocation) {
	info := domain.DeviceInfo{
		Type:        classify(userAgent),
		Fingerprint: r.Fingerprint(userAgent),
		Browser:     browserOf(userAgent),
		OS:          osOf(userAgent),
	}
	info.Platform = string(info.Type)
	info.Name = deviceName(info.Browser, info.OS)

	var geo *domain.Geolocation
	if r.geo != nil && ip != "" {
		geo = r.geo.Lookup(ip)
	}
	return info, geo
}

// Fingerprint returns a stable hash of the user agent plus the current UTC
// calendar day. Fingerprints are consistent within a day and rotate daily;
// that rotation is a deliberate privacy trade-off, so sessions must not
// assume fingerprints outlive the day they were minted.
func (r *Resolver) Fingerprint(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	day := r.clock.Now().UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(userAgent + "|" + day))
	return hex.EncodeToString(sum[:])
}

// ExtractIP returns the client IP from proxy headers (fixed precedence) or
// remoteAddr, validating every candidate with net.ParseIP. Returns "" when
// nothing validates.
func ExtractIP(headers http.Header, remoteAddr string) string {
	for _, h := range ipHeaders {
		v := headers.Get(h)
		if v == "" {
			continue
		}
		// X-Forwarded-For may carry a chain; the left-most hop is the client.
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		v = strings.TrimSpace(v)
		if net.ParseIP(v) != nil {
			return v
		}
	}
	if remoteAddr == "" {
		return ""
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return host
	}
	return ""
}

// tabletPatterns take precedence over generic mobile patterns: an iPad UA
// also matches "mobile" on some OS versions.
var tabletPatterns = []string{"ipad", "tablet", "kindle", "silk", "playbook"}

var mobilePatterns = []string{"mobile", "iphone", "ipod", "android", "blackberry", "windows phone", "opera mini"}

var desktopPatterns = []string{"windows nt", "macintosh", "x11", "linux", "cros"}

func classify(userAgent string) domain.DeviceType {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return domain.DeviceTypeUnknown
	}
	for _, p := range tabletPatterns {
		if strings.Contains(ua, p) {
			return domain.DeviceTypeTablet
		}
	}
	for _, p := range mobilePatterns {
		if strings.Contains(ua, p) {
			return domain.DeviceTypeMobile
		}
	}
	for _, p := range desktopPatterns {
		if strings.Contains(ua, p) {
			return domain.DeviceTypeDesktop
		}
	}
	return domain.DeviceTypeUnknown
}

func browserOf(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/"):
		return "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "safari"):
		return "Safari"
	default:
		return ""
	}
}

func osOf(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "windows phone"):
		return "Windows Phone"
	case strings.Contains(ua, "windows nt"):
		return "Windows"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ipod"):
		return "iOS"
	case strings.Contains(ua, "mac os x") || strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "cros"):
		return "ChromeOS"
	case strings.Contains(ua, "linux") || strings.Contains(ua, "x11"):
		return "Linux"
	default:
		return ""
	}
}

func deviceName(browser, os string) string {
	switch {
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	case os != "":
		return os
	default:
		return "unknown device"
	}
}

// StaticGeoResolver is a lookup-only GeoResolver backed by an exact-match IP
// table. Stands in for an external IP-to-geo collaborator; no network I/O.
type StaticGeoResolver struct {
	table map[string]domain.Geolocation
}

// NewStaticGeoResolver returns a resolver over the given IP table. The map is
// used as-is; callers must not mutate it afterwards.
func NewStaticGeoResolver(table map[string]domain.Geolocation) *StaticGeoResolver {
	return &StaticGeoResolver{table: table}
}

// Lookup returns the location for ip, or nil when unknown.
func (s *StaticGeoResolver) Lookup(ip string) *domain.Geolocation {
	if s == nil || s.table == nil {
		return nil
	}
	if g, ok := s.table[ip]; ok {
		return &g
	}
	return nil
}
