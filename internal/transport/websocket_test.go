package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ntmd/ntmd/internal/rpc"
)

func TestTokenFromRequestPrefersQueryParam(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=query-tok", nil)
	r.Header.Set("X-NTMD-Token", "header-tok")
	if got := tokenFromRequest(r); got != "query-tok" {
		t.Fatalf("expected query param to take precedence, got %q", got)
	}
}

func TestTokenFromRequestFallsBackToCustomHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("X-NTMD-Token", "header-tok")
	if got := tokenFromRequest(r); got != "header-tok" {
		t.Fatalf("expected custom header token, got %q", got)
	}
}

func TestTokenFromRequestFallsBackToBearer(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer bearer-tok")
	if got := tokenFromRequest(r); got != "bearer-tok" {
		t.Fatalf("expected bearer token, got %q", got)
	}
}

func TestTokenFromRequestEmptyWhenNoneSupplied(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	if got := tokenFromRequest(r); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestCheckOriginAllowsEmptyOrigin(t *testing.T) {
	s := NewWebSocketServer(nil, nil, nil, 0, 0, nil, nil)
	r := httptest.NewRequest("GET", "/ws", nil)
	if !s.checkOrigin(r) {
		t.Fatalf("expected no Origin header to be allowed")
	}
}

func TestCheckOriginAllowsLoopbackByDefault(t *testing.T) {
	s := NewWebSocketServer(nil, nil, nil, 0, 0, nil, nil)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://localhost:8787")
	if !s.checkOrigin(r) {
		t.Fatalf("expected localhost origin to be allowed by default")
	}
}

func TestCheckOriginRejectsUnlistedRemoteOrigin(t *testing.T) {
	s := NewWebSocketServer(nil, nil, nil, 0, 0, nil, nil)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://evil.example.com")
	if s.checkOrigin(r) {
		t.Fatalf("expected a remote origin to be rejected when no allowlist and no host match")
	}
}

func TestCheckOriginHonorsExplicitAllowlist(t *testing.T) {
	s := NewWebSocketServer(nil, nil, nil, 0, 0, []string{"http://allowed.example.com"}, nil)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://allowed.example.com")
	if !s.checkOrigin(r) {
		t.Fatalf("expected allowlisted origin to be accepted")
	}

	r2 := httptest.NewRequest("GET", "/ws", nil)
	r2.Header.Set("Origin", "http://other.example.com")
	if s.checkOrigin(r2) {
		t.Fatalf("expected non-allowlisted origin to be rejected")
	}
}

func TestWebSocketServerRoundTripsHealthGet(t *testing.T) {
	srv := NewWebSocketServer(newTestDispatcher(), rpc.NewAuthenticator("", "", false), rpc.NewRateLimiter(100), 0, 0, nil, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"health.get"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), `"jsonrpc"`) {
		t.Fatalf("expected a JSON-RPC envelope, got %s", data)
	}
}
