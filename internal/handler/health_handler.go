package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/pkg/logger"
	"github.com/VictorHugoLeme/multitenancy/pkg/multitenancy"
)

// HealthHandler reports process and management database health.
type HealthHandler struct {
	manager *multitenancy.Manager
}

func NewHealthHandler(manager *multitenancy.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	log := logger.FromContext(c)

	// Basic response
	response := map[string]interface{}{
		"status":       "ok",
		"time":         time.Now().Format(time.RFC3339),
		"tenant_pools": h.manager.PoolCount(),
	}

	// Check the management database connection if requested
	if c.QueryParam("check") == "db" {
		if err := h.manager.ManagementPool().Validate(c.Request().Context()); err != nil {
			log.Error("Management database check failed", zap.Error(err))
			response["status"] = "error"
			response["db_status"] = "error"
			return c.JSON(http.StatusInternalServerError, response)
		}
		response["db_status"] = "ok"
	}

	return c.JSON(http.StatusOK, response)
}
