package bridgehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ftbridge/internal/cache"
	"ftbridge/internal/config"
	"ftbridge/internal/engine"
	"ftbridge/internal/events"
	"ftbridge/internal/gate"
	"ftbridge/internal/gateway/broker"
	"ftbridge/internal/poller"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct{}

func (stubClient) ListAccounts(ctx context.Context) ([]broker.Account, error) { return nil, nil }
func (stubClient) GetBalance(ctx context.Context, accountID int64) (broker.Balance, error) {
	return broker.Balance{Balance: 50000}, nil
}
func (stubClient) ListPositions(ctx context.Context, accountID int64) ([]broker.Position, error) {
	return nil, nil
}
func (stubClient) ListOrders(ctx context.Context, accountID int64) ([]broker.Order, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *cache.Cache) {
	t.Helper()
	cfg := &config.Config{
		Cache:   config.CacheConfig{StaleAfterMS: 600000},
		Polling: config.PollingConfig{CriticalPositions: 2, CriticalOrders: 3},
	}
	gw := gate.New(config.GateConfig{MinIntervalMS: 1, MaxAttempts: 3, HealthyQueueMax: 10})
	bus := events.NewBus()
	dataCache := cache.New(nil, bus)
	sup := poller.NewSupervisor(cfg.Polling, gw, stubClient{}, dataCache, bus, nil)
	e := engine.New(cfg, gw, stubClient{}, dataCache, sup, bus, nil)

	srv, err := NewServer(ServerConfig{Addr: ":0", Engine: e})
	require.NoError(t, err)
	return srv, dataCache
}

func doRequest(srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, dataCache := newTestServer(t)

	t.Run("no data yet", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, "/api/accounts/1/snapshot", nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "collection in progress")
	})

	t.Run("invalid account id", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, "/api/accounts/abc/snapshot", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("with cached data", func(t *testing.T) {
		dataCache.PutBalance(context.Background(), 1, broker.Balance{Balance: 50000})
		rec := doRequest(srv, http.MethodGet, "/api/accounts/1/snapshot", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		assert.EqualValues(t, 1, payload["accountId"])
		require.Contains(t, payload, "dataAge")
	})
}

func TestGroupedOrdersEndpoint(t *testing.T) {
	srv, dataCache := newTestServer(t)

	limit := 5150.0
	parent := int64(1)
	dataCache.PutOrders(context.Background(), 2, []broker.Order{
		{ID: 1, Action: "Buy", OrderType: "Market", Status: "Filled"},
		{ID: 3, Action: "Sell", OrderType: "Limit", Status: "Working", LimitPrice: &limit, ParentID: &parent},
	})

	rec := doRequest(srv, http.MethodGet, "/api/accounts/2/orders/grouped", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Orders []struct {
			IsGroup   bool   `json:"isGroup"`
			GroupType string `json:"groupType"`
		} `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Orders, 1)
	assert.True(t, payload.Orders[0].IsGroup)
	assert.Equal(t, "Bracket", payload.Orders[0].GroupType)
}

func TestForceModeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("malformed body", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/api/polling/1/mode", []byte(`{`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown mode", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/api/polling/1/mode", []byte(`{"mode":"turbo"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("untracked account", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/api/polling/1/mode", []byte(`{"mode":"CRITICAL"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGateStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/gate/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats gate.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.Healthy)
	assert.Zero(t, stats.TotalRequests)
}

func TestPollingStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/polling/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "accounts")
}

func TestServerRequiresEngine(t *testing.T) {
	_, err := NewServer(ServerConfig{Addr: ":0"})
	assert.Error(t, err)
}
