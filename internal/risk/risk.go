// Package risk implements deterministic request risk scoring.
//
// Every inbound request is evaluated against 6 additive rules: IP drift,
// fingerprint drift, request velocity, credential-stuffing pattern,
// concurrent-session count, and geo reputation. Scores range 0–100 and
// requests at or above the block threshold are rejected before they reach
// business logic.
package risk

import (
	"time"

	"github.com/avelar/shopfence/internal/fingerprint"
)

// Level is the ordinal risk band derived from a score.
type Level string

const (
	LevelLow      Level = "low"      // [0,30)
	LevelMedium   Level = "medium"   // [30,60)
	LevelHigh     Level = "high"     // [60,80)
	LevelCritical Level = "critical" // [80,100]
)

// Factor identifies the rule that contributed to a score. The set is closed:
// these are the only values the engine emits.
type Factor string

const (
	FactorIPChange            Factor = "ip_change"
	FactorFingerprintCritical Factor = "fingerprint_critical_change"
	FactorFingerprintModerate Factor = "fingerprint_moderate_change"
	FactorHighVelocity        Factor = "high_request_velocity"
	FactorExcessiveLogins     Factor = "excessive_login_attempts"
	FactorMultipleSessions    Factor = "multiple_active_sessions"
	FactorHighRiskGeo         Factor = "high_risk_geo_location"
)

// FeatureLogin is the feature label that activates the credential-stuffing rule.
const FeatureLogin = "login"

// Assessment is the engine's verdict on a single request.
type Assessment struct {
	Score       int      `json:"score"`
	Level       Level    `json:"level"`
	Factors     []Factor `json:"factors"`
	ShouldBlock bool     `json:"shouldBlock"`
}

// HistoryEvent is the engine's view of one prior fingerprint event.
// The history slice is ordered newest-first; index 0 is the most recent.
type HistoryEvent struct {
	IP          string
	Feature     string
	Fingerprint *fingerprint.Record
	Time        time.Time
}

// SessionState is the engine's view of one session row for the current user.
type SessionState struct {
	Active bool
}

// Input carries everything the engine needs to score one request.
// The engine reads nothing else: identical inputs always produce identical
// assessments.
type Input struct {
	SessionID   string
	UserID      string
	IP          string
	Fingerprint *fingerprint.Record
	Feature     string
	History     []HistoryEvent // recency-ordered, bounded window
	Sessions    []SessionState // the user's session rows
	Now         time.Time      // evaluation instant; zero means time.Now()
}

// GeoChecker is the pluggable IP-reputation predicate (rule 6).
type GeoChecker interface {
	IsHighRisk(ip string) bool
}

// StaticGeoChecker answers every lookup with a fixed verdict. The default
// deployment uses StaticGeoChecker(false) until a real reputation feed is
// wired in.
type StaticGeoChecker bool

// IsHighRisk implements GeoChecker.
func (s StaticGeoChecker) IsHighRisk(string) bool { return bool(s) }

// LevelFor maps a score to its risk band.
func LevelFor(score int) Level {
	switch {
	case score < 30:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 80:
		return LevelHigh
	default:
		return LevelCritical
	}
}
