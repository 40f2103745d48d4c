package risk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avelar/shopfence/internal/circuitbreaker"
)

type scriptedProvider struct {
	high  bool
	err   error
	calls int
}

func (p *scriptedProvider) Lookup(ctx context.Context, ip string) (bool, error) {
	p.calls++
	return p.high, p.err
}

func TestGuardedCheckerPassesVerdictThrough(t *testing.T) {
	g := NewGuardedGeoChecker(&scriptedProvider{high: true})
	if !g.IsHighRisk("203.0.113.10") {
		t.Error("expected high-risk verdict")
	}

	g = NewGuardedGeoChecker(&scriptedProvider{high: false})
	if g.IsHighRisk("203.0.113.10") {
		t.Error("expected low-risk verdict")
	}
}

func TestGuardedCheckerFailsOpen(t *testing.T) {
	g := NewGuardedGeoChecker(&scriptedProvider{err: errors.New("connection refused")})
	if g.IsHighRisk("203.0.113.10") {
		t.Error("provider error must answer not-high-risk")
	}
}

func TestGuardedCheckerTripsBreaker(t *testing.T) {
	p := &scriptedProvider{err: errors.New("connection refused")}
	g := NewGuardedGeoChecker(p).WithBreaker(circuitbreaker.New(3, time.Minute))

	for i := 0; i < 5; i++ {
		g.IsHighRisk("203.0.113.10")
	}

	// After 3 failures the circuit is open; the provider is no longer called.
	if p.calls != 3 {
		t.Errorf("provider calls = %d, want 3 (breaker should shed the rest)", p.calls)
	}
}

func TestHTTPGeoProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ip") != "203.0.113.10" {
			http.Error(w, "missing ip", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"high_risk":true}`))
	}))
	defer srv.Close()

	p := NewHTTPGeoProvider(srv.URL)
	high, err := p.Lookup(context.Background(), "203.0.113.10")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !high {
		t.Error("expected high_risk=true")
	}
}

func TestHTTPGeoProviderNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPGeoProvider(srv.URL)
	if _, err := p.Lookup(context.Background(), "203.0.113.10"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
