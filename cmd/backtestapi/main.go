// Command backtestapi is the read-only HTTP surface over backtest results:
// GET /backtests, GET /backtests/{id}, and
// GET /backtests/{id}/pairs/{addr}. Every handler parses request
// parameters and calls straight through to internal/db's range queries;
// no domain logic lives in this package.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/lattice-trading/dexstrat/internal/config"
	"github.com/lattice-trading/dexstrat/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "backtestapi: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	logCleanup, err := config.SetupLogging(cfg, "backtestapi")
	if err != nil {
		return err
	}
	defer logCleanup()

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	addr := os.Getenv("BACKTESTAPI_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	api := &api{store: store}
	router := mux.NewRouter()
	router.HandleFunc("/backtests", api.listBacktests).Methods(http.MethodGet)
	router.HandleFunc("/backtests/{id}", api.getBacktest).Methods(http.MethodGet)
	router.HandleFunc("/backtests/{id}/pairs/{addr}", api.pairDetail).Methods(http.MethodGet)

	log.Printf("backtestapi: listening on %s", addr)
	return http.ListenAndServe(addr, router)
}
