package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/internal/service"
	"github.com/VictorHugoLeme/multitenancy/pkg/logger"
	"github.com/VictorHugoLeme/multitenancy/pkg/multitenancy"
	"github.com/VictorHugoLeme/multitenancy/prometheus"
)

// TenantRequest defines the structure for tenant creation requests
type TenantRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// TenantHandler exposes tenant administration over HTTP.
type TenantHandler struct {
	tenants *service.TenantService
}

func NewTenantHandler(tenants *service.TenantService) *TenantHandler {
	return &TenantHandler{tenants: tenants}
}

// Create registers a tenant and provisions its database
func (h *TenantHandler) Create(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("create")

	var req TenantRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse tenant creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Code == "" || req.Name == "" {
		log.Warn("Incomplete tenant data",
			zap.String("code", req.Code),
			zap.String("name", req.Name))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code and name are required"})
	}

	log.Info("Creating tenant",
		zap.String("code", req.Code),
		zap.String("name", req.Name))

	tenant, err := h.tenants.Create(c.Request().Context(), req.Code, req.Name)
	if err != nil {
		if errors.Is(err, service.ErrTenantExists) {
			log.Warn("Tenant code already exists", zap.String("code", req.Code))
			return c.JSON(http.StatusConflict, echo.Map{"error": "tenant code already exists"})
		}
		var vErr *multitenancy.ValidationError
		if errors.As(err, &vErr) {
			log.Warn("Invalid tenant code", zap.String("code", req.Code), zap.Error(err))
			return c.JSON(http.StatusBadRequest, echo.Map{"error": vErr.Error()})
		}
		log.Error("Failed to provision tenant", zap.String("code", req.Code), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant provisioning failed"})
	}

	log.Info("Tenant created",
		zap.String("code", tenant.Code),
		zap.Uint("id", tenant.ID))

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Tenant created successfully",
		"tenant":  tenant,
	})
}

// List returns every registered tenant
func (h *TenantHandler) List(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("list")

	tenants, err := h.tenants.List(c.Request().Context())
	if err != nil {
		log.Error("Failed to list tenants", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve tenants"})
	}

	return c.JSON(http.StatusOK, tenants)
}

// Enable activates a tenant and provisions its pool
func (h *TenantHandler) Enable(c echo.Context) error {
	return h.setActive(c, true)
}

// Disable deactivates a tenant and closes its pool
func (h *TenantHandler) Disable(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *TenantHandler) setActive(c echo.Context, active bool) error {
	log := logger.FromContext(c)
	code := c.Param("code")

	operation := "disable"
	if active {
		operation = "enable"
	}
	prometheus.RecordTenantOperation(operation)
	log.Info("Changing tenant state",
		zap.String("tenant", code),
		zap.String("operation", operation))

	var err error
	if active {
		err = h.tenants.Enable(c.Request().Context(), code)
	} else {
		err = h.tenants.Disable(c.Request().Context(), code)
	}
	if err != nil {
		if errors.Is(err, multitenancy.ErrTenantNotFound) {
			log.Warn("Tenant not found", zap.String("tenant", code))
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
		}
		log.Error("Failed to change tenant state",
			zap.String("tenant", code),
			zap.String("operation", operation),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant " + operation + " failed"})
	}

	return c.NoContent(http.StatusNoContent)
}

// Revalidate reloads the tenant registry on demand
func (h *TenantHandler) Revalidate(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("revalidate")

	if err := h.tenants.Revalidate(c.Request().Context()); err != nil {
		log.Error("Revalidation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revalidation failed"})
	}

	return c.NoContent(http.StatusNoContent)
}
