package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/avelar/shopfence/internal/circuitbreaker"
)

// GeoProvider performs the remote IP reputation lookup.
type GeoProvider interface {
	Lookup(ctx context.Context, ip string) (bool, error)
}

// HTTPGeoProvider queries an external reputation endpoint with
// GET {baseURL}?ip=<addr> and expects {"high_risk": <bool>}.
type HTTPGeoProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGeoProvider creates a provider against the given endpoint.
func NewHTTPGeoProvider(baseURL string) *HTTPGeoProvider {
	return &HTTPGeoProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Second},
	}
}

// Lookup implements GeoProvider.
func (p *HTTPGeoProvider) Lookup(ctx context.Context, ip string) (bool, error) {
	u := p.baseURL + "?ip=" + url.QueryEscape(ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("geo provider status %d", resp.StatusCode)
	}

	var body struct {
		HighRisk bool `json:"high_risk"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.HighRisk, nil
}

const geoBreakerKey = "geo"

// GuardedGeoChecker adapts a GeoProvider to the GeoChecker interface with a
// circuit breaker in front. Scoring must never wait on a dead upstream, so
// every failure path answers "not high risk" (fail open) while the breaker
// sheds further calls.
type GuardedGeoChecker struct {
	provider GeoProvider
	breaker  *circuitbreaker.Breaker
	timeout  time.Duration
}

// NewGuardedGeoChecker wraps provider with default breaker settings
// (5 consecutive failures trip the circuit for 30s).
func NewGuardedGeoChecker(provider GeoProvider) *GuardedGeoChecker {
	return &GuardedGeoChecker{
		provider: provider,
		breaker:  circuitbreaker.New(5, 30*time.Second),
		timeout:  2 * time.Second,
	}
}

// WithBreaker replaces the breaker (for tests or custom thresholds).
func (g *GuardedGeoChecker) WithBreaker(b *circuitbreaker.Breaker) *GuardedGeoChecker {
	g.breaker = b
	return g
}

// IsHighRisk implements GeoChecker.
func (g *GuardedGeoChecker) IsHighRisk(ip string) bool {
	if !g.breaker.Allow(geoBreakerKey) {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	high, err := g.provider.Lookup(ctx, ip)
	if err != nil {
		g.breaker.RecordFailure(geoBreakerKey)
		return false
	}
	g.breaker.RecordSuccess(geoBreakerKey)
	return high
}
