package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"slidecast/internal/aggregate"
	"slidecast/internal/api"
	"slidecast/internal/config"
	"slidecast/internal/lifecycle"
	"slidecast/internal/room"
	"slidecast/internal/router"
	"slidecast/internal/store"
	ws "slidecast/internal/websocket"
	"slidecast/pkg/database"
)

// Application owns every component and its lifecycle. Construction order
// matters: each component receives only dependencies built before it.
type Application struct {
	cfg        *config.Config
	store      *store.Manager
	rooms      *room.Registry
	controller *lifecycle.Controller
	aggregator *aggregate.Aggregator
	httpServer *http.Server
}

// New wires the full dependency graph from configuration.
func New(cfg *config.Config) (*Application, error) {
	db, err := database.Open(database.DefaultConfig(cfg.Database.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	st := store.NewManager(db)
	rooms := room.NewRegistry()

	controller := lifecycle.NewController(st, st, rooms, cfg.Activity.AutoStartDelay, cfg.Database.Timeout)
	aggregator := aggregate.New(st, rooms, controller, cfg.Database.Timeout)
	// The controller clears and snapshots answers through the aggregator;
	// the aggregator gates submissions through the controller. Late binding
	// breaks the construction cycle.
	controller.SetAnswers(aggregator)

	eventRouter := router.NewRouter(st, rooms, controller, aggregator, cfg.Database.Timeout)

	wsHandler := ws.NewHandler(eventRouter, ws.Config{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
	})

	apiServer := api.NewServer(st, rooms, controller, wsHandler, cfg.Database.Timeout)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		store:      st,
		rooms:      rooms,
		controller: controller,
		aggregator: aggregator,
		httpServer: httpServer,
	}, nil
}

// Start runs the HTTP server until it is shut down. It blocks.
func (a *Application) Start() error {
	log.Printf("app: listening on %s", a.httpServer.Addr)
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts down in reverse construction order: stop accepting HTTP
// traffic, drain the store's write queue, then close the database.
func (a *Application) Stop(ctx context.Context) error {
	log.Printf("app: shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("app: http shutdown error: %v", err)
	}

	// Manager.Close drains the write queue and closes the database.
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	log.Printf("app: shutdown complete")
	return nil
}
