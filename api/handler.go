// Package api provides HTTP handlers for the deal agent platform.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dealdesk/dealdesk/config"
	"github.com/dealdesk/dealdesk/hub"
	"github.com/dealdesk/dealdesk/runner"
	"github.com/dealdesk/dealdesk/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store  store.Store
	runner *runner.Service
	hub    *hub.Hub
	config *config.Config
}

// NewHandler creates a new handler.
func NewHandler(store store.Store, runnerSvc *runner.Service, h *hub.Hub, config *config.Config) *Handler {
	return &Handler{
		store:  store,
		runner: runnerSvc,
		hub:    h,
		config: config,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/deals/:deal_id/runs", h.StartRun)
	e.GET("/v1/deals/:deal_id/runs", h.ListRuns)
	e.GET("/v1/deals/:deal_id/ws", h.Subscribe)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/messages", h.GetRunMessages)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
