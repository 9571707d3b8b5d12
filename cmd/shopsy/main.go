package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/shopsy-backend/internal/cart"
	"github.com/vasiliy-maslov/shopsy-backend/internal/catalog"
	"github.com/vasiliy-maslov/shopsy-backend/internal/config"
	"github.com/vasiliy-maslov/shopsy-backend/internal/db"
	"github.com/vasiliy-maslov/shopsy-backend/internal/handler"
	"github.com/vasiliy-maslov/shopsy-backend/internal/order"
	"github.com/vasiliy-maslov/shopsy-backend/pkg/metrics"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "shopsy").Logger()

	log.Info().Msg("Shopsy backend starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx := context.Background()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	catalogRepo := catalog.NewRepository()
	cartRepo := cart.NewRepository()
	orderRepo := order.NewRepository()

	cartSvc := cart.NewService(pg.Pool, cartRepo, catalogRepo)
	orderSvc := order.NewService(pg, pg.Pool, orderRepo, cartRepo, catalogRepo, cfg.Pricing)

	srvMetrics := metrics.NewServerMetrics("backend")

	router := chi.NewRouter()
	router.Use(srvMetrics.Middleware)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api", func(api chi.Router) {
		api.Use(handler.BuyerIdentity)
		handler.NewOrderHandler(orderSvc).RegisterRoutes(api)
		handler.NewCartHandler(cartSvc).RegisterRoutes(api)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
