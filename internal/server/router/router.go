package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ivmalkov/fieldsync/internal/server/handlers"
	"github.com/ivmalkov/fieldsync/internal/server/middleware"
	"github.com/ivmalkov/fieldsync/internal/server/storage"
	"github.com/ivmalkov/fieldsync/internal/server/token"
)

// New собирает HTTP маршруты сервера синхронизации.
// /healthz доступен без токена, эндпоинты /api/v1/sync/* требуют
// действующий токен устройства.
func New(logger *slog.Logger, store storage.SyncStorage, tokenConfig token.Config) http.Handler {
	syncHandler := handlers.NewSyncHandler(logger, store)

	r := chi.NewRouter()
	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingMiddleware(logger))

	r.Get("/healthz", handlers.HandleHealth)

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(logger, tokenConfig))
		r.Post("/push", syncHandler.HandlePush)
		r.Get("/pull", syncHandler.HandlePull)
		r.Post("/conflicts/{id}/resolve", syncHandler.HandleResolve)
	})

	return r
}
