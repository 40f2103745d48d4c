package risk

import (
	"time"

	"github.com/avelar/shopfence/internal/fingerprint"
)

// Rule weights and thresholds. Rules are additive; the final score is the
// clamped sum of every triggered contribution.
const (
	scoreIPChange     = 30
	scoreCriticalFp   = 25 // per mismatched critical attribute
	scoreModerateFp   = 10 // per mismatched moderate attribute
	scoreVelocity     = 40
	scoreLoginPattern = 35
	scoreManySessions = 50
	scoreGeoRisk      = 20

	velocityWindow    = 60 * time.Second
	velocityThreshold = 10

	loginWindow    = 5 * time.Minute
	loginThreshold = 5

	activeSessionThreshold = 3

	// MaxScore is the clamp ceiling.
	MaxScore = 100
	// BlockThreshold is the hard score cutoff for rejecting a request.
	BlockThreshold = 80
)

// Engine evaluates risk inputs. It holds no mutable state: the only
// dependency is the geo-reputation predicate, so evaluation is deterministic
// for a fixed checker.
type Engine struct {
	geo GeoChecker
}

// NewEngine creates a risk engine with the given geo-reputation predicate.
// A nil checker disables the geo rule.
func NewEngine(geo GeoChecker) *Engine {
	if geo == nil {
		geo = StaticGeoChecker(false)
	}
	return &Engine{geo: geo}
}

// Evaluate scores one request. Rules run in fixed order; order affects only
// the factor list, never the sum. The function is total: it never fails,
// whatever the input.
func (e *Engine) Evaluate(in Input) Assessment {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	score := 0
	factors := make([]Factor, 0, 4)

	// 1. IP drift against the most recent historical event
	if len(in.History) > 0 {
		last := in.History[0]
		if last.IP != "" && last.IP != in.IP {
			score += scoreIPChange
			factors = append(factors, FactorIPChange)
		}
	}

	// 2. Fingerprint drift against the most recent snapshot
	if len(in.History) > 0 && in.Fingerprint != nil {
		if prev := in.History[0].Fingerprint; prev != nil {
			critical, moderate := compareFingerprints(prev, in.Fingerprint)
			if critical > 0 {
				score += critical * scoreCriticalFp
				factors = append(factors, FactorFingerprintCritical)
			}
			if moderate > 0 {
				score += moderate * scoreModerateFp
				factors = append(factors, FactorFingerprintModerate)
			}
		}
	}

	// 3. Request velocity in the trailing window
	recent := 0
	for _, ev := range in.History {
		if now.Sub(ev.Time) < velocityWindow {
			recent++
		}
	}
	if recent > velocityThreshold {
		score += scoreVelocity
		factors = append(factors, FactorHighVelocity)
	}

	// 4. Credential-stuffing pattern, only on login requests
	if in.Feature == FeatureLogin {
		logins := 0
		for _, ev := range in.History {
			if ev.Feature == FeatureLogin && now.Sub(ev.Time) < loginWindow {
				logins++
			}
		}
		if logins > loginThreshold {
			score += scoreLoginPattern
			factors = append(factors, FactorExcessiveLogins)
		}
	}

	// 5. Concurrent active sessions
	if len(in.Sessions) > 1 {
		active := 0
		for _, s := range in.Sessions {
			if s.Active {
				active++
			}
		}
		if active > activeSessionThreshold {
			score += scoreManySessions
			factors = append(factors, FactorMultipleSessions)
		}
	}

	// 6. Geo reputation
	if e.geo.IsHighRisk(in.IP) {
		score += scoreGeoRisk
		factors = append(factors, FactorHighRiskGeo)
	}

	if score > MaxScore {
		score = MaxScore
	}

	return Assessment{
		Score:       score,
		Level:       LevelFor(score),
		Factors:     factors,
		ShouldBlock: score >= BlockThreshold,
	}
}

// compareFingerprints counts attribute mismatches across the two drift tiers.
// Critical: platform, user agent. Moderate: language, timezone.
func compareFingerprints(prev, cur *fingerprint.Record) (critical, moderate int) {
	if prev.Platform != cur.Platform {
		critical++
	}
	if prev.UserAgent != cur.UserAgent {
		critical++
	}
	if prev.Language != cur.Language {
		moderate++
	}
	if prev.Timezone != cur.Timezone {
		moderate++
	}
	return critical, moderate
}
