// Package api serves the bot's HTTP surface: a health probe, the live
// position snapshot and the Prometheus metrics endpoint.
package api

import (
	"encoding/json"
	"math"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/vault"
)

// PositionSource exposes one chain's live vault states.
type PositionSource interface {
	AccountsByHealth() []vault.State
}

// Server wires the routes over a set of per-chain position sources.
type Server struct {
	sources map[int64]PositionSource
	log     *logrus.Entry
}

func NewServer(sources map[int64]PositionSource, log *logrus.Entry) *Server {
	return &Server{sources: sources, log: log}
}

// Router builds the HTTP handler.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/liquidation/allPositions", s.handleAllPositions).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// position is one row of the snapshot response. Borrow values are USD;
// balance is raw vault shares.
type position struct {
	AccountAddress        string      `json:"account_address"`
	InternalHealthScore   vault.Score `json:"internal_health_score"`
	ExternalHealthScore   vault.Score `json:"external_health_score"`
	HealthScore           vault.Score `json:"health_score"`
	Balance               string      `json:"balance"`
	InternalValueBorrowed float64     `json:"internal_value_borrowed"`
	ExternalValueBorrowed float64     `json:"external_value_borrowed"`
	Symbol                string      `json:"symbol"`
}

func usd(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}

// handleAllPositions returns every tracked vault with finite risk,
// sorted ascending by minimum health score.
func (s *Server) handleAllPositions(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(r.URL.Query().Get("chainId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid chainId"})
		return
	}
	source, ok := s.sources[chainID]
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unknown chain"})
		return
	}

	states := source.AccountsByHealth()
	positions := make([]position, 0, len(states))
	for _, st := range states {
		min := st.MinHealthScore()
		if math.IsInf(min, 1) {
			continue
		}
		positions = append(positions, position{
			AccountAddress:        st.Address.Hex(),
			InternalHealthScore:   vault.Score(st.InternalHealthScore),
			ExternalHealthScore:   vault.Score(st.ExternalHealthScore),
			HealthScore:           vault.Score(min),
			Balance:               st.Balance.String(),
			InternalValueBorrowed: usd(st.InternalBorrowed),
			ExternalValueBorrowed: usd(st.ExternalBorrowed),
			Symbol:                st.Symbol,
		})
	}
	writeJSON(w, http.StatusOK, positions)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
