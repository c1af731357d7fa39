//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/metacards/internal/domain"
	"github.com/ashureev/metacards/internal/monitor"
)

type fakeRepo struct {
	mu       sync.Mutex
	pingErr  error
	listErr  error
	sessions []*domain.Session
	lastUser int64
	lastLim  int
}

func (f *fakeRepo) SaveSession(context.Context, *domain.Session) error { return nil }

func (f *fakeRepo) ListSessions(_ context.Context, userID int64, limit int) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUser, f.lastLim = userID, limit
	return f.sessions, f.listErr
}

func (f *fakeRepo) CountSessions(context.Context) (int64, error) {
	return int64(len(f.sessions)), nil
}

func (f *fakeRepo) CleanupArchive(context.Context, time.Duration) (int64, error) { return 0, nil }

func (f *fakeRepo) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRepo) Close() error { return nil }

type fakeStats struct{ snap monitor.Snapshot }

func (f fakeStats) Snapshot() monitor.Snapshot { return f.snap }

func newTestRouter(repo *fakeRepo, token string) http.Handler {
	return NewRouter(RouterConfig{
		Repo:           repo,
		Stats:          fakeStats{snap: monitor.Snapshot{Requests: 7, SessionsActive: 2}},
		Token:          token,
		StreamInterval: 10 * time.Millisecond,
	})
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "nope")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error":"nope"`) {
		t.Errorf("Unexpected body: %s", w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantState  string
	}{
		{name: "healthy", wantStatus: http.StatusOK, wantState: "healthy"},
		{name: "database down", pingErr: errors.New("closed"), wantStatus: http.StatusServiceUnavailable, wantState: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := newTestRouter(&fakeRepo{pingErr: tt.pingErr}, "")

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantState {
				t.Errorf("status = %q, want %q", body.Status, tt.wantState)
			}
			if _, ok := body.Checks["database"]; !ok {
				t.Errorf("missing database check: %v", body.Checks)
			}
		})
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&fakeRepo{}, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap monitor.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Requests != 7 || snap.SessionsActive != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestUserSessions(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{sessions: []*domain.Session{
		{UserID: 42, RunID: "b", State: domain.StateCompleted},
		{UserID: 42, RunID: "a", State: domain.StateCompleted},
	}}
	router := newTestRouter(repo, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/42/sessions?limit=500", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		UserID   int64             `json:"user_id"`
		Count    int               `json:"count"`
		Sessions []*domain.Session `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != 42 || body.Count != 2 || body.Sessions[0].RunID != "b" {
		t.Errorf("body = %+v", body)
	}
	if repo.lastUser != 42 || repo.lastLim != maxSessionLimit {
		t.Errorf("repo called with user=%d limit=%d", repo.lastUser, repo.lastLim)
	}
}

func TestUserSessionsBadRequest(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&fakeRepo{}, "")

	for _, path := range []string{"/api/users/abc/sessions", "/api/users/1/sessions?limit=-3"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestUserSessionsRepoError(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&fakeRepo{listErr: errors.New("disk")}, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/1/sessions", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRouterRequiresToken(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&fakeRepo{}, "secret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("without token: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("with token: status = %d, want 200", w.Code)
	}

	// Health stays public.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health: status = %d", w.Code)
	}
}

func TestRouterWebhook(t *testing.T) {
	t.Parallel()

	var hits int
	router := NewRouter(RouterConfig{
		Repo:  &fakeRepo{},
		Token: "secret",
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits++
			w.WriteHeader(http.StatusOK)
		}),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader("{}")))
	if w.Code != http.StatusOK || hits != 1 {
		t.Errorf("webhook: status = %d hits = %d", w.Code, hits)
	}
}

func TestStatsStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(&fakeRepo{}, ""))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stats"
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.CloseNow() }()

	for i := range 2 {
		var snap monitor.Snapshot
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if snap.Requests != 7 {
			t.Errorf("read %d: requests = %d", i, snap.Requests)
		}
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Logf("close: %v", err)
	}
}

func TestGRPCHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pingErr error
		want    healthpb.HealthCheckResponse_ServingStatus
	}{
		{name: "serving", want: healthpb.HealthCheckResponse_SERVING},
		{name: "database down", pingErr: errors.New("closed"), want: healthpb.HealthCheckResponse_NOT_SERVING},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lis, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				t.Fatalf("listen: %v", err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			g := NewGRPCHealth(&fakeRepo{pingErr: tt.pingErr}, time.Hour, nil)
			go func() { done <- g.Serve(ctx, lis) }()

			conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				t.Fatalf("client: %v", err)
			}
			defer func() { _ = conn.Close() }()

			callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer callCancel()
			resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{})
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if resp.GetStatus() != tt.want {
				t.Errorf("status = %v, want %v", resp.GetStatus(), tt.want)
			}

			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("serve: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("server did not stop")
			}
		})
	}
}

func TestHealthExtraChecks(t *testing.T) {
	t.Parallel()

	router := NewRouter(RouterConfig{
		Repo:   &fakeRepo{},
		Checks: map[string]Pinger{"cache": &fakeRepo{pingErr: errors.New("refused")}},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"cache":"unreachable"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"database":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
