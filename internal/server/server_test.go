package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelar/shopfence/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		JWTSecret:    "test-secret-at-least-16-chars",
		SessionTTL:   2 * time.Hour,
		BcryptCost:   4,
		RateLimitRPM: 10000,
		StoreTimeout: 3 * time.Second,
	}
}

// newTestServer creates a server backed by in-memory stores
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
	})
	return s
}

func doJSON(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health/live", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health/ready", "", nil)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"POST:/api/users",
		"POST:/api/login",
		"POST:/api/logout",
		"GET:/api/items",
		"POST:/api/orders",
		"GET:/api/orders",
		"GET:/api/sessions",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end flow over in-memory stores
// ---------------------------------------------------------------------------

func TestRegisterLoginOrderFlow(t *testing.T) {
	s := newTestServer(t)

	// Register
	w := doJSON(s, "POST", "/api/users",
		`{"name":"Alice","email":"alice@example.com","password":"hunter2-long"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}

	// Login
	w = doJSON(s, "POST", "/api/login",
		`{"email":"alice@example.com","password":"hunter2-long"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil || login.Token == "" {
		t.Fatalf("login body = %s", w.Body.String())
	}
	auth := map[string]string{"Authorization": "Bearer " + login.Token}

	// Unauthenticated order creation is rejected
	w = doJSON(s, "POST", "/api/orders", `{"items":[{"id":"itm_1","quantity":1,"price":9.99}]}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous order status = %d, want 401", w.Code)
	}

	// Create an order with the session token
	w = doJSON(s, "POST", "/api/orders", `{"items":[{"id":"itm_1","quantity":1,"price":9.99}]}`, auth)
	if w.Code != http.StatusCreated {
		t.Fatalf("order status = %d, body = %s", w.Code, w.Body.String())
	}

	// Listing shows the order
	w = doJSON(s, "GET", "/api/orders", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("list orders status = %d", w.Code)
	}
	var orderPage struct {
		Orders  []map[string]interface{} `json:"orders"`
		HasMore bool                     `json:"has_more"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &orderPage); err != nil {
		t.Fatalf("parse orders: %v", err)
	}
	if len(orderPage.Orders) != 1 || orderPage.HasMore {
		t.Fatalf("orders page = %s", w.Body.String())
	}

	// The caller can see their active sessions
	w = doJSON(s, "GET", "/api/sessions", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", w.Code)
	}
	var sessResp struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &sessResp)
	if sessResp.Count != 1 {
		t.Errorf("session count = %d, want 1", sessResp.Count)
	}

	// Logout kills the session
	w = doJSON(s, "POST", "/api/logout", `{}`, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	w = doJSON(s, "GET", "/api/orders", "", auth)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("post-logout status = %d, want 401", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/api/items", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("items status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	// An upstream-provided id is echoed back
	w = doJSON(s, "GET", "/api/items", "", map[string]string{"X-Request-ID": "req-upstream-1"})
	if got := w.Header().Get("X-Request-ID"); got != "req-upstream-1" {
		t.Errorf("X-Request-ID = %q, want req-upstream-1", got)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/api/nonexistent", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
