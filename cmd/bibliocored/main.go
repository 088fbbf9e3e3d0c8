// cmd/bibliocored/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bibliocore/internal/catalog"
	"bibliocore/internal/circulation"
	"bibliocore/internal/config"
	"bibliocore/internal/events"
	"bibliocore/internal/registry"
	"bibliocore/internal/store"
	"bibliocore/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer shutdownTelemetry(ctx)

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	bus := events.NewBus()
	bus.Subscribe(func(e events.Type) {
		log.Printf("event: %s", e)
	})

	books := catalog.NewRepository(db, bus)
	clients := registry.NewRepository(db, bus)
	loans := circulation.NewService(db, books, clients, bus, cfg.Circulation.LoanPeriodDays)

	if err := books.LoadAll(ctx); err != nil {
		log.Fatalf("Failed to load books: %v", err)
	}
	if err := clients.LoadAll(ctx); err != nil {
		log.Fatalf("Failed to load clients: %v", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Route("/api/v1", func(r chi.Router) {
		catalog.NewHandler(books).Register(r)
		registry.NewHandler(clients).Register(r)
		circulation.NewHandler(loans, cfg.Circulation.RatePerSecond, cfg.Circulation.RateBurst).Register(r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	log.Printf("bibliocored listening on %s (database %s)", addr, cfg.Database.Path)
	log.Fatal(http.ListenAndServe(addr, router))
}
