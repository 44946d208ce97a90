package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ntmd/ntmd/internal/eventbus"
	"github.com/ntmd/ntmd/internal/model"
	"github.com/ntmd/ntmd/internal/rpc"
)

type fakeReadStore struct{}

func (fakeReadStore) ListSources(ctx context.Context) ([]*model.Source, error) { return nil, nil }
func (fakeReadStore) ListSessions(ctx context.Context, sourceID string) ([]*model.Session, error) {
	return nil, nil
}
func (fakeReadStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (fakeReadStore) ListPanes(ctx context.Context, sessionID string) ([]*model.Pane, error) {
	return nil, nil
}
func (fakeReadStore) GetPane(ctx context.Context, id string) (*model.Pane, error) { return nil, nil }
func (fakeReadStore) ReadEventsSince(ctx context.Context, sinceID int64, limit int) ([]model.Event, error) {
	return nil, nil
}
func (fakeReadStore) ListEscalations(ctx context.Context, pendingOnly bool, limit int) ([]model.Event, error) {
	return nil, nil
}
func (fakeReadStore) StatsSummary(ctx context.Context, sessionID string) (model.DailyStat, error) {
	return model.DailyStat{}, nil
}
func (fakeReadStore) StatsHourly(ctx context.Context, sessionID string, sinceHour, untilHour int64) ([]model.HourlyStat, error) {
	return nil, nil
}
func (fakeReadStore) StatsDaily(ctx context.Context, sessionID string, sinceDay, untilDay int64) ([]model.DailyStat, error) {
	return nil, nil
}
func (fakeReadStore) LatestEventID(ctx context.Context) (int64, error) { return 0, nil }

type fakeBus struct{}

func (fakeBus) Subscribe(ctx context.Context, id string, sinceEventID int64) (*eventbus.Subscription, []model.Event, error) {
	return nil, nil, nil
}

func newTestDispatcher() *rpc.Dispatcher {
	d := rpc.NewDispatcher()
	d.Store = fakeReadStore{}
	d.Bus = fakeBus{}
	return d
}

func newTestServer() *HTTPServer {
	return &HTTPServer{
		Dispatcher: newTestDispatcher(),
		Auth:       rpc.NewAuthenticator("", "", false),
		Limiter:    rpc.NewRateLimiter(100),
	}
}

func TestHTTPServerRejectsNonPost(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHTTPServerRejectsOversizedBody(t *testing.T) {
	srv := newTestServer()
	srv.MaxBodyBytes = 10
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(strings.Repeat("a", 100)))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestHTTPServerDispatchesValidRequest(t *testing.T) {
	srv := newTestServer()
	body := `{"jsonrpc":"2.0","id":1,"method":"health.get"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"jsonrpc"`) {
		t.Fatalf("expected a JSON-RPC envelope in the response, got %s", rec.Body.String())
	}
}

func TestHTTPServerNotificationProducesNoBody(t *testing.T) {
	srv := newTestServer()
	body := `{"jsonrpc":"2.0","method":"health.get"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for a bare notification, got %d", rec.Code)
	}
}
