package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changrenyuan/okx-auto/internal/orderbook"
	"github.com/changrenyuan/okx-auto/internal/risk"
	"github.com/changrenyuan/okx-auto/internal/storage"
)

func TestStatusEndpoint(t *testing.T) {
	breaker := risk.NewCircuitBreaker(risk.BreakerConfig{}, nil)
	s := NewServer("127.0.0.1:0", Deps{
		Book:    orderbook.New("BTC-USDT-SWAP"),
		Breaker: breaker,
		Risk:    risk.NewManager(risk.ManagerConfig{}, breaker),
		Hot:     storage.NewHotStore(10),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "orderbook")
	assert.Contains(t, body, "circuit_breaker")
	assert.Contains(t, body, "risk")
	assert.Contains(t, body, "storage")
}

func TestRiskResetEndpoint(t *testing.T) {
	breaker := risk.NewCircuitBreaker(risk.BreakerConfig{}, nil)
	mgr := risk.NewManager(risk.ManagerConfig{}, breaker)
	mgr.EmergencyStop()
	require.True(t, mgr.IsStopped())

	s := NewServer("127.0.0.1:0", Deps{Breaker: breaker, Risk: mgr})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/risk/reset", nil)
	s.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, mgr.IsStopped())
	assert.True(t, breaker.IsSafe())
}
