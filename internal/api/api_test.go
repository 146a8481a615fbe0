package api

import (
	"encoding/json"
	"math"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twynelabs/liqbot/internal/vault"
)

type staticSource []vault.State

func (s staticSource) AccountsByHealth() []vault.State { return s }

func usdWei(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testServer(sources map[int64]PositionSource) *Server {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewServer(sources, logrus.NewEntry(log))
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestAllPositions(t *testing.T) {
	source := staticSource{
		{
			Address:             common.HexToAddress("0x01"),
			Protocol:            vault.ProtocolEuler,
			Symbol:              "eWETH",
			InternalHealthScore: 0.95,
			ExternalHealthScore: 2.0,
			InternalBorrowed:    usdWei(100),
			ExternalBorrowed:    usdWei(50),
			Balance:             big.NewInt(777),
		},
		{
			Address:             common.HexToAddress("0x02"),
			Protocol:            vault.ProtocolAave,
			Symbol:              "WSTETH",
			InternalHealthScore: 1.3,
			ExternalHealthScore: 1.8,
			InternalBorrowed:    usdWei(10),
			ExternalBorrowed:    new(big.Int),
			Balance:             big.NewInt(1),
		},
		// No debt on either side: suppressed from the response.
		{
			Address:             common.HexToAddress("0x03"),
			InternalHealthScore: math.Inf(1),
			ExternalHealthScore: math.Inf(1),
			InternalBorrowed:    new(big.Int),
			ExternalBorrowed:    new(big.Int),
			Balance:             new(big.Int),
		},
	}
	s := testServer(map[int64]PositionSource{8453: source})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidation/allPositions?chainId=8453", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var positions []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	require.Len(t, positions, 2)

	first := positions[0]
	assert.Equal(t, common.HexToAddress("0x01").Hex(), first["account_address"])
	assert.Equal(t, 0.95, first["internal_health_score"])
	assert.Equal(t, 2.0, first["external_health_score"])
	assert.Equal(t, 0.95, first["health_score"])
	assert.Equal(t, "777", first["balance"])
	assert.Equal(t, 100.0, first["internal_value_borrowed"])
	assert.Equal(t, 50.0, first["external_value_borrowed"])
	assert.Equal(t, "eWETH", first["symbol"])
}

func TestAllPositionsUnknownChain(t *testing.T) {
	s := testServer(map[int64]PositionSource{8453: staticSource{}})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidation/allPositions?chainId=1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAllPositionsInvalidChainID(t *testing.T) {
	s := testServer(nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidation/allPositions?chainId=base", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
