package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/romcoding/architex/internal/auth"
	"github.com/romcoding/architex/internal/config"
	"github.com/romcoding/architex/internal/knowledge"
	"github.com/romcoding/architex/internal/server"
	"github.com/romcoding/architex/internal/storage/memory"
	"github.com/romcoding/architex/pkg/types"
	"github.com/romcoding/architex/web/handlers"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig(mode string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           0, // random port
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimit:      1000,
			Burst:          1000,
		},
		Storage:  config.StorageConfig{Engine: config.EngineMemory, Timeout: time.Second},
		Security: config.SecurityConfig{Mode: mode, DevPrincipalID: "user-123", DevPrincipalRole: "architect"},
	}
}

type testServer struct {
	url    string
	tokens *auth.TokenService
	reg    *prometheus.Registry
	done   <-chan struct{}
	cancel context.CancelFunc
}

// startTestServer starts a server over an in-memory store and registers
// cleanup with t.Cleanup.
func startTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	mw := auth.NewMiddleware(tokens, nil)
	if cfg.IsDevelopment() {
		mw.WithDevelopmentPrincipal(cfg.Security.DevPrincipal())
	}

	reg := prometheus.NewRegistry()
	events := handlers.NewWebSocketHub(nil, server.OriginPatterns(cfg.Server.AllowedOrigins)...)
	go events.Run()

	store, err := memory.NewStore(0)
	require.NoError(t, err)
	svc, err := knowledge.NewService(store,
		knowledge.WithMetrics(knowledge.NewMetrics(reg)),
		knowledge.WithPublisher(events))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	addr, done, err := server.Start(ctx, cfg, svc, server.Options{
		Version:  "test",
		Auth:     mw,
		Events:   events,
		Gatherer: reg,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		<-done
		_ = svc.Close()
	})
	return &testServer{url: "http://" + addr, tokens: tokens, reg: reg, done: done, cancel: cancel}
}

func (s *testServer) request(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.url+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testServer) token(t *testing.T, p types.Principal) string {
	t.Helper()
	tok, err := s.tokens.Issue(p)
	require.NoError(t, err)
	return tok
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

const assetBody = `{"title":"API Gateway Best Practices","content":"Route through one entry point.","type":"best_practice","category":"Integration","tags":["api"],"is_public":true}`

func TestServer_HealthEndpointNoAuth(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeProduction))

	for _, path := range []string{"/api/health", "/health"} {
		resp := s.request(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.JSONEq(t, `{"status":"healthy","version":"test","storage":"memory"}`, readBody(t, resp))
	}
}

func TestServer_SecurityHeaders(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeDevelopment))
	resp := s.request(t, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestServer_DevelopmentMode_ActsAsDevPrincipal(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeDevelopment))

	resp := s.request(t, http.MethodPost, "/api/knowledge/assets", "", assetBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var a types.Asset
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	assert.Equal(t, "user-123", a.AuthorID)
}

func TestServer_ProductionMode_RequiresAuth(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeProduction))

	resp := s.request(t, http.MethodGet, "/api/knowledge/assets", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"code":"AUTHENTICATION"`)

	resp = s.request(t, http.MethodGet, "/api/knowledge/assets", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok := s.token(t, types.Principal{ID: "alice", Role: types.RoleArchitect})
	resp = s.request(t, http.MethodGet, "/api/knowledge/assets", tok, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RouteRegistration(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeProduction))
	architect := s.token(t, types.Principal{ID: "alice", Role: types.RoleArchitect})
	viewer := s.token(t, types.Principal{ID: "val", Role: types.RoleViewer})

	resp := s.request(t, http.MethodPost, "/api/knowledge/assets", architect, assetBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var gw types.Asset
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&gw))

	resp = s.request(t, http.MethodPost, "/api/knowledge/assets", architect,
		`{"title":"Microservices","content":"Split by capability.","type":"pattern","category":"Architecture","is_public":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ms types.Asset
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ms))

	id := gw.ID
	tests := []struct {
		method, path, token, body string
		status                    int
	}{
		{http.MethodGet, "/api/knowledge/assets", viewer, "", http.StatusOK},
		{http.MethodGet, "/api/knowledge/assets/" + id, viewer, "", http.StatusOK},
		{http.MethodPatch, "/api/knowledge/assets/" + id, viewer, `{"title":"x"}`, http.StatusForbidden},
		{http.MethodPost, "/api/knowledge/assets/" + id + "/ratings", viewer, `{"score":4}`, http.StatusOK},
		{http.MethodPost, "/api/knowledge/relationships", architect,
			`{"from_asset_id":"` + id + `","to_asset_id":"` + ms.ID + `","type":"DEPENDS_ON"}`, http.StatusCreated},
		{http.MethodGet, "/api/knowledge/assets/" + id + "/neighbors?direction=outgoing", viewer, "", http.StatusOK},
		{http.MethodGet, "/api/knowledge/assets/" + id + "/conflicts", viewer, "", http.StatusOK},
		{http.MethodGet, "/api/knowledge/assets/" + id + "/relationships", viewer, "", http.StatusOK},
		{http.MethodPost, "/api/knowledge/search", viewer, `{"query":"gateway"}`, http.StatusOK},
		{http.MethodGet, "/api/knowledge/search?q=gateway", viewer, "", http.StatusOK},
		{http.MethodGet, "/api/knowledge/analytics", viewer, "", http.StatusOK},
		{http.MethodDelete, "/api/knowledge/relationships?from=" + id + "&to=" + ms.ID + "&type=DEPENDS_ON", architect, "", http.StatusNoContent},
		{http.MethodDelete, "/api/knowledge/assets/" + id, architect, "", http.StatusNoContent},
		{http.MethodPut, "/api/knowledge/assets/" + ms.ID, architect, "{}", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/knowledge/nope", architect, "", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := s.request(t, tt.method, tt.path, tt.token, tt.body)
		assert.Equal(t, tt.status, resp.StatusCode, "%s %s: %s", tt.method, tt.path, readBody(t, resp))
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeDevelopment))

	s.request(t, http.MethodPost, "/api/knowledge/assets", "", assetBody)
	s.request(t, http.MethodGet, "/api/knowledge/assets/missing", "", "")

	resp := s.request(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `knowledge_operations_total{kind="OK",operation="create_asset"} 1`)
	assert.Contains(t, body, `knowledge_operations_total{kind="NOT_FOUND",operation="get_asset"} 1`)
	assert.Contains(t, body, "knowledge_operation_duration_seconds")
}

func TestServer_WebSocketStreamsEvents(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeProduction))
	tok := s.token(t, types.Principal{ID: "bob", Role: types.RoleStakeholder})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(s.url, "http") + "/ws?token=" + tok
	conn, _, err := websocket.Dial(ctx, wsURL, nil) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	got := make(chan knowledge.Event, 1)
	go func() {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var e knowledge.Event
		if json.Unmarshal(msg, &e) == nil {
			got <- e
		}
	}()

	// The hub registers the client asynchronously, so keep creating until
	// one event arrives.
	author := s.token(t, types.Principal{ID: "alice", Role: types.RoleArchitect})
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case e := <-got:
			assert.Equal(t, knowledge.EventAssetCreated, e.Type)
			assert.Equal(t, "alice", e.ActorID)
			require.NotNil(t, e.Asset)
			assert.Equal(t, "API Gateway Best Practices", e.Asset.Title)
			return
		case <-ticker.C:
			resp := s.request(t, http.MethodPost, "/api/knowledge/assets", author, assetBody)
			require.Equal(t, http.StatusCreated, resp.StatusCode)
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}

func TestServer_WebSocketRequiresAuth(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeProduction))
	resp := s.request(t, http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_GracefulShutdown(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeDevelopment))
	s.cancel()

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	_, err := http.Get(s.url + "/api/health")
	assert.Error(t, err)
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	s := startTestServer(t, testConfig(config.ModeDevelopment))

	cfg := testConfig(config.ModeDevelopment)
	cfg.Server.Host, cfg.Server.Port = splitHostPort(t, strings.TrimPrefix(s.url, "http://"))
	_, _, err := server.Start(context.Background(), cfg, nil, server.Options{})
	assert.Error(t, err)
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t,
		[]string{"localhost:3000", "app.example.com", "*"},
		server.OriginPatterns([]string{"http://localhost:3000", "https://app.example.com", "*"}))
}
