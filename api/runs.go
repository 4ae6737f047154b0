package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dealdesk/dealdesk/domain"
	"github.com/dealdesk/dealdesk/runner"
)

// StartRun creates a new agent run for a deal.
// POST /v1/deals/:deal_id/runs
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()
	dealID := c.Param("deal_id")

	var req domain.StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.runner.StartRun(ctx, dealID, req)
	if err != nil {
		// Validation and policy failures carry the reason in the error
		// text; anything else stays internal.
		var reqErr *runner.RequestError
		if errors.As(err, &reqErr) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": reqErr.Error()})
		}
		log.Printf("ERROR: failed to start run: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start run"})
	}

	return c.JSON(http.StatusAccepted, resp)
}

// GetRun returns the current state of a run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
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

	return c.JSON(http.StatusOK, run)
}

// ListRuns returns a page of run history for a deal, newest first.
// GET /v1/deals/:deal_id/runs?page=1&page_size=10&agent_type=deal_analyst
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()
	dealID := c.Param("deal_id")

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}

	agentType := domain.AgentType(strings.TrimSpace(c.QueryParam("agent_type")))
	if agentType != "" && !domain.IsKnownAgentType(agentType) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown agent type"})
	}

	runs, total, err := h.store.ListRuns(ctx, dealID, agentType, page, pageSize)
	if err != nil {
		log.Printf("ERROR: failed to list runs: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
	}
	if runs == nil {
		runs = []domain.Run{}
	}

	return c.JSON(http.StatusOK, domain.RunsResponse{
		Runs:     runs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}
