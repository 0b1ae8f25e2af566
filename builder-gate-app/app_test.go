package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/builder-gate/builder-gate-app/config"
	permshttp "github.com/compose-network/builder-gate/x/perms/http"
	"github.com/compose-network/builder-gate/x/slot"
)

// testConfig uses very long slots so a test never straddles a rotation.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Chain.StartTimestamp = 12
	cfg.Chain.SlotDuration = 1 << 40
	cfg.Perms.Builders = config.Roster{"a", "b", "c"}
	cfg.Perms.BlockQueryStart = 0
	cfg.Perms.BlockQueryCutoff = 1 << 40
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	require.NoError(t, cfg.Validate())
	app, err := NewApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	return app
}

func serve(app *App, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		req.Header[k] = vs
	}
	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, req)
	return rec
}

func TestApp_HealthAndReady(t *testing.T) {
	app := newTestApp(t, testConfig())

	rec := serve(app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = serve(app, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ready))
	assert.Equal(t, "ready", ready["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestApp_NotReadyBeforeChainStart(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.StartTimestamp = uint64(time.Now().Add(time.Hour).Unix())
	app := newTestApp(t, cfg)

	rec := serve(app, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "before_chain_start")
}

func TestApp_GatesBuilderRoutes(t *testing.T) {
	app := newTestApp(t, testConfig())
	assigned := app.authz.Snapshot(time.Now()).Assigned
	require.NotEmpty(t, assigned)

	h := http.Header{}
	h.Set(permshttp.DefaultIdentityHeader, assigned)
	rec := serve(app, http.MethodGet, "/v1/builders/permission", h)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"permitted"`)

	other := "a"
	if assigned == "a" {
		other = "b"
	}
	h.Set(permshttp.DefaultIdentityHeader, other)
	rec = serve(app, http.MethodGet, "/v1/builders/permission", h)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "PERMISSION_DENIED")

	rec = serve(app, http.MethodGet, "/v1/builders/permission", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(app, http.MethodGet, "/v1/roster", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), assigned)
}

func TestApp_MetricsEndpoint(t *testing.T) {
	app := newTestApp(t, testConfig())
	serve(app, http.MethodGet, "/v1/builders/permission", nil)
	require.NoError(t, app.onSlot(context.Background(), slot.Tick{Slot: 4}))

	rec := serve(app, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "builder_gate_perms_decisions_total")
	assert.Contains(t, string(body), `outcome="missing_identity"`)
	assert.Contains(t, string(body), `builder_gate_perms_assigned_builder{builder="b"} 1`)
	assert.Contains(t, string(body), `builder_gate_perms_assigned_builder{builder="a"} 0`)
	assert.Contains(t, string(body), "builder_gate_perms_current_slot 4")
}

func TestNewApp_FailedInitReleasesHostChain(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.HostChain.Enabled = true
	cfg.HostChain.RPCEndpoint = "http://127.0.0.1:1"
	cfg.Upstream.URL = "ftp://upstream.invalid"

	app, err := NewApp(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "upstream")
	assert.Nil(t, app)
}

func TestApp_ReleaseStopsWatcher(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.HostChain.Enabled = true
	cfg.HostChain.RPCEndpoint = "http://127.0.0.1:1"
	app := newTestApp(t, cfg)
	require.NotNil(t, app.watcher)

	require.NotPanics(t, app.release)
	require.NotPanics(t, app.release)
	_, ok := app.watcher.Latest()
	assert.False(t, ok)
}

func TestApp_ForwardsToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Upstream.URL = upstream.URL
	app := newTestApp(t, cfg)
	assigned := app.authz.Snapshot(time.Now()).Assigned

	h := http.Header{}
	h.Set(permshttp.DefaultIdentityHeader, assigned)
	rec := serve(app, http.MethodPost, "/v1/builders/transactions", h)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/v1/builders/transactions", rec.Body.String())
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return app.apiServer.Addr() != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + app.apiServer.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("1695902424")
	require.NoError(t, err)
	assert.Equal(t, int64(1695902424), got.Unix())

	got, err = parseTime("2023-09-28T12:00:24Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1695902424), got.Unix())

	_, err = parseTime("yesterday")
	require.Error(t, err)
}
