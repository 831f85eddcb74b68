package main

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentimeter/backend/internal/auth"
	"github.com/sentimeter/backend/internal/config"
	"github.com/sentimeter/backend/internal/dashboard"
	"github.com/sentimeter/backend/internal/history"
	"github.com/sentimeter/backend/internal/jobs"
	"github.com/sentimeter/backend/internal/ledger"
	"github.com/sentimeter/backend/internal/queue"
	"github.com/sentimeter/backend/internal/router"
	"github.com/sentimeter/backend/internal/services"
)

// newAPI wires repositories, services and handlers onto the router.
func newAPI(pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) (http.Handler, error) {
	validator, err := services.NewValidator()
	if err != nil {
		return nil, err
	}

	// Insert-only: this process never works jobs.
	riverClient, err := queue.NewInsertClient(pool, logger)
	if err != nil {
		return nil, err
	}
	enqueuer := queue.NewEnqueuer(riverClient, cfg.QueueName)

	ledgerSvc := ledger.NewService(ledger.NewRepository(pool))

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret, cfg.TokenTTL())

	jobsRepo := jobs.NewRepository(pool)
	jobsSvc := jobs.NewService(jobsRepo, ledgerSvc, enqueuer.EnqueueTx, jobsRepo, jobs.Options{
		Cost:           cfg.PredictionCost,
		DefaultModel:   cfg.ModelName,
		MaxInputLength: cfg.MaxInputLength,
	})

	historySvc := history.NewService(history.NewRepository(pool))

	return router.New(router.Handlers{
		Auth:      auth.NewHandler(authSvc, logger),
		Jobs:      jobs.NewHandler(jobsSvc, logger),
		History:   history.NewHandler(historySvc, validator, logger),
		Dashboard: dashboard.NewHandler(authSvc, ledgerSvc, logger),
	}, authSvc, cfg.CallbackToken), nil
}
