package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/lattice-trading/dexstrat/internal/barstore"
	"github.com/lattice-trading/dexstrat/internal/db"
)

type api struct {
	store *db.Store
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// listBacktests handles GET /backtests.
func (a *api) listBacktests(w http.ResponseWriter, r *http.Request) {
	records, err := a.store.ListBacktests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func parseBacktestID(r *http.Request) (uint, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// getBacktest handles GET /backtests/{id}.
func (a *api) getBacktest(w http.ResponseWriter, r *http.Request) {
	id, err := parseBacktestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backtest id")
		return
	}
	rec, err := a.store.GetBacktest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// pairDetailResponse bundles a pair's closed trades and, when start_at/
// end_at/resolution are given, its persisted bars, within one backtest.
type pairDetailResponse struct {
	ClosedTrades []db.BacktestClosedTradeRecord `json:"closed_trades"`
	Bars         []db.BarRecord                 `json:"bars,omitempty"`
}

// pairDetail handles GET /backtests/{id}/pairs/{addr}, with optional
// start_at, end_at and resolution (5m|1h|4h) query parameters selecting the
// bar window to include alongside the pair's closed-trade history.
func (a *api) pairDetail(w http.ResponseWriter, r *http.Request) {
	id, err := parseBacktestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backtest id")
		return
	}
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["addr"]) {
		writeError(w, http.StatusBadRequest, "invalid pair address")
		return
	}
	pair := common.HexToAddress(vars["addr"])

	trades, err := a.store.ClosedTradesForPair(r.Context(), id, pair)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := pairDetailResponse{ClosedTrades: trades}

	q := r.URL.Query()
	resolutionRaw := q.Get("resolution")
	if resolutionRaw != "" {
		resolution, err := barstore.ParseResolution(resolutionRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		startAt, err := parseUintParam(q.Get("start_at"), 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_at")
			return
		}
		endAt, err := parseUintParam(q.Get("end_at"), ^uint64(0))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_at")
			return
		}
		bars, err := a.store.BarsForPair(r.Context(), id, pair, resolution.String(), startAt, endAt)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Bars = bars
	}

	writeJSON(w, http.StatusOK, resp)
}

func parseUintParam(raw string, dflt uint64) (uint64, error) {
	if raw == "" {
		return dflt, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
