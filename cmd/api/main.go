package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"routeday/internal/api"
	"routeday/internal/metrics"
)

func main() {
	// .env is a dev convenience; real deployments set the environment.
	_ = godotenv.Load()

	srvDeps, err := api.NewServer()
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Estimation and solving
	mux.HandleFunc("/v1/travel-matrix", srvDeps.MatrixHandler)
	mux.HandleFunc("/v1/solve", srvDeps.SolveHandler)

	// Plans (includes /items, /candidates, /apply, /normalize, /optimize,
	// /events/stream)
	mux.HandleFunc("/v1/plans/", srvDeps.PlansHandler)
	mux.HandleFunc("/v1/candidates/", srvDeps.CandidateByIDHandler)

	// Subscriptions
	mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)

	// WebSocket plan events
	mux.HandleFunc("/v1/ws", srvDeps.WSHandler)

	// Health & observability
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.HandleFunc("/debug/info", srvDeps.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.LogMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", addr)
	// Start webhook worker
	if srvDeps.Pub != nil {
		worker := srvDeps.NewWebhookWorker()
		worker.Start()
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
