package api

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dealdesk/dealdesk/domain"
)

// GetRunMessages returns the conversation turns of a run in ascending
// creation order.
// GET /v1/runs/:run_id/messages
func (h *Handler) GetRunMessages(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("ERROR: failed to get run: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	messages, err := h.store.GetRunMessages(ctx, runID)
	if err != nil {
		log.Printf("ERROR: failed to get messages: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get messages"})
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, domain.MessagesResponse{
		Messages: messages,
		Total:    len(messages),
	})
}
