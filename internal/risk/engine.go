// Package risk scores authentication and session contexts. Scoring is pure
// CPU work over the inputs it is given; it never touches the network or the
// database.
package risk

import (
	"time"

	"org-security-engine/internal/clock"
)

// Level is the discrete security bucket derived from a risk score. It drives
// session TTL and MFA policy and must never be set independently of a score.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelElevated Level = "elevated"
	LevelHighRisk Level = "high_risk"
	LevelCritical Level = "critical"
)

// Factor names reported in Assessment.Factors, in evaluation order.
const (
	FactorNewDevice          = "new_device"
	FactorNoFingerprint      = "no_fingerprint"
	FactorUntrustedCountry   = "untrusted_country"
	FactorHighRiskCountry    = "high_risk_country"
	FactorNewLocation        = "new_location"
	FactorSuspiciousHours    = "suspicious_hours"
	FactorNoSourceIP         = "no_source_ip"
	FactorFailedAttempts     = "failed_attempts"
	FactorConcurrentSessions = "concurrent_sessions"
)

// recommendations maps triggered factors to operator guidance. Deterministic:
// same factors, same advice.
var recommendations = map[string]string{
	FactorNewDevice:          "verify device via secondary channel",
	FactorNoFingerprint:      "request client to resend identifying headers",
	FactorUntrustedCountry:   "confirm login from an unrecognized country",
	FactorHighRiskCountry:    "require MFA; source country is on the high-risk list",
	FactorNewLocation:        "notify user of login from a new location",
	FactorSuspiciousHours:    "flag for review; login during suspicious hours",
	FactorNoSourceIP:         "investigate missing source address",
	FactorFailedAttempts:     "throttle further attempts and alert the user",
	FactorConcurrentSessions: "review active sessions; consider revoking stale ones",
}

// Context carries the signals for one scoring call. Callers resolve the
// signals (device lookups, geo, counters) before scoring; the engine does no
// I/O of its own.
type Context struct {
	// KnownDevice is true when the fingerprint matches a previously seen
	// device for this user.
	KnownDevice bool
	// Fingerprint is the resolved device fingerprint; empty when the client
	// sent no usable user agent.
	Fingerprint string
	// IP is the validated source IP; empty when nothing validated.
	IP string
	// Country is the ISO code from geo resolution; empty when unresolved.
	Country string
	// KnownLocation is true when the user has previously authenticated from
	// this country.
	KnownLocation bool
	// At is the request time used for the suspicious-hours window. Zero means
	// "now" per the engine clock.
	At time.Time
	// ConsecutiveFailures is the user's current consecutive failed-login count.
	ConsecutiveFailures int
	// ActiveSessions is the user's current live session count.
	ActiveSessions int
}

// Assessment is the pure output of a scoring call. Embedded into sessions at
// creation; never stored independently.
type Assessment struct {
	Score           int
	Level           Level
	Factors         []string
	Recommendations []string
	ComputedAt      time.Time
}

// Config holds scoring weights, the canonical threshold table, and the
// location/time policies. All values are externally configurable.
type Config struct {
	WeightNewDevice          int
	WeightNoFingerprint      int
	WeightUntrustedCountry   int
	WeightHighRiskCountry    int
	WeightNewLocation        int
	WeightSuspiciousHours    int
	WeightNoSourceIP         int
	WeightPerFailure         int
	FailureWeightCap         int
	WeightConcurrentSessions int

	// ThresholdElevated..Critical is the canonical 30/60/80 table. Must be
	// strictly increasing.
	ThresholdElevated int
	ThresholdHighRisk int
	ThresholdCritical int

	// SuspiciousHourStart/End bound the risky local-time window [start, end).
	SuspiciousHourStart int
	SuspiciousHourEnd   int

	// TrustedCountries add no location risk; HighRiskCountries add the
	// high-risk weight instead of the untrusted one.
	TrustedCountries  []string
	HighRiskCountries []string

	// MaxConcurrentSessions is the live-session count above which the
	// concurrent-sessions weight applies.
	MaxConcurrentSessions int
}

// DefaultConfig returns the default weights and the canonical 30/60/80
// threshold table.
func DefaultConfig() Config {
	return Config{
		WeightNewDevice:          25,
		WeightNoFingerprint:      10,
		WeightUntrustedCountry:   15,
		WeightHighRiskCountry:    35,
		WeightNewLocation:        15,
		WeightSuspiciousHours:    10,
		WeightNoSourceIP:         10,
		WeightPerFailure:         10,
		FailureWeightCap:         40,
		WeightConcurrentSessions: 20,
		ThresholdElevated:        30,
		ThresholdHighRisk:        60,
		ThresholdCritical:        80,
		SuspiciousHourStart:      2,
		SuspiciousHourEnd:        6,
		TrustedCountries:         []string{"US", "CA", "GB", "DE", "FR", "NL", "AU", "JP"},
		MaxConcurrentSessions:    5,
	}
}

// Engine scores contexts using a fixed config and clock.
type Engine struct {
	cfg     Config
	clock   clock.Clock
	trusted map[string]bool
	flagged map[string]bool
}

// NewEngine returns an Engine over cfg. clk may be nil; then the real clock
// is used.
func NewEngine(cfg Config, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Engine{cfg: cfg, clock: clk, trusted: make(map[string]bool), flagged: make(map[string]bool)}
	for _, c := range cfg.TrustedCountries {
		e.trusted[c] = true
	}
	for _, c := range cfg.HighRiskCountries {
		e.flagged[c] = true
	}
	return e
}

// Score evaluates ctx and returns an Assessment with the score clamped to
// [0, 100] and the level derived from the canonical threshold table.
func (e *Engine) Score(ctx Context) Assessment {
	at := ctx.At
	if at.IsZero() {
		at = e.clock.Now()
	}

	score := 0
	var factors []string
	add := func(factor string, weight int) {
		score += weight
		factors = append(factors, factor)
	}

	if !ctx.KnownDevice {
		add(FactorNewDevice, e.cfg.WeightNewDevice)
	}
	if ctx.Fingerprint == "" {
		add(FactorNoFingerprint, e.cfg.WeightNoFingerprint)
	}
	if ctx.Country != "" {
		if e.flagged[ctx.Country] {
			add(FactorHighRiskCountry, e.cfg.WeightHighRiskCountry)
		} else if !e.trusted[ctx.Country] {
			add(FactorUntrustedCountry, e.cfg.WeightUntrustedCountry)
		}
	}
	if !ctx.KnownLocation && ctx.Country != "" {
		add(FactorNewLocation, e.cfg.WeightNewLocation)
	}
	if e.inSuspiciousHours(at) {
		add(FactorSuspiciousHours, e.cfg.WeightSuspiciousHours)
	}
	if ctx.IP == "" {
		add(FactorNoSourceIP, e.cfg.WeightNoSourceIP)
	}
	if ctx.ConsecutiveFailures > 0 {
		w := ctx.ConsecutiveFailures * e.cfg.WeightPerFailure
		if w > e.cfg.FailureWeightCap {
			w = e.cfg.FailureWeightCap
		}
		add(FactorFailedAttempts, w)
	}
	if ctx.ActiveSessions > e.cfg.MaxConcurrentSessions {
		add(FactorConcurrentSessions, e.cfg.WeightConcurrentSessions)
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	recs := make([]string, 0, len(factors))
	for _, f := range factors {
		if r, ok := recommendations[f]; ok {
			recs = append(recs, r)
		}
	}

	return Assessment{
		Score:           score,
		Level:           e.LevelFor(score),
		Factors:         factors,
		Recommendations: recs,
		ComputedAt:      at,
	}
}

// LevelFor maps a score to its security level per the configured thresholds.
// Monotonic: a higher score never maps to a lower level.
func (e *Engine) LevelFor(score int) Level {
	switch {
	case score >= e.cfg.ThresholdCritical:
		return LevelCritical
	case score >= e.cfg.ThresholdHighRisk:
		return LevelHighRisk
	case score >= e.cfg.ThresholdElevated:
		return LevelElevated
	default:
		return LevelNormal
	}
}

// Fallback returns the conservative assessment used when scoring inputs
// cannot be resolved: moderate score, elevated level. Risk scoring is
// advisory, so callers degrade to this instead of failing the login.
func (e *Engine) Fallback() Assessment {
	score := e.cfg.ThresholdHighRisk - 10
	if score < e.cfg.ThresholdElevated {
		score = e.cfg.ThresholdElevated
	}
	return Assessment{
		Score:      score,
		Level:      LevelElevated,
		Factors:    []string{"scoring_degraded"},
		ComputedAt: e.clock.Now(),
	}
}

func (e *Engine) inSuspiciousHours(at time.Time) bool {
	h := at.Hour()
	start, end := e.cfg.SuspiciousHourStart, e.cfg.SuspiciousHourEnd
	if start == end {
		return false
	}
	if start < end {
		return h >= start && h < end
	}
	// Overnight window, e.g. 22-06.
	return h >= start || h < end
}
