package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/internal/service"
	"github.com/VictorHugoLeme/multitenancy/pkg/logger"
	"github.com/VictorHugoLeme/multitenancy/pkg/multitenancy"
	"github.com/VictorHugoLeme/multitenancy/prometheus"
)

// TenantHeader carries the tenant code on every tenant-scoped request.
const TenantHeader = "X-Tenant-Code"

// TenantContext resolves the tenant code header, rejects requests for
// unknown or inactive tenants, and runs the rest of the chain inside the
// tenant's scope. The binding ends with the request; nothing tenant-specific
// survives on the original request context.
func TenantContext(tenants *service.TenantService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			// Get the tenant code header
			code := strings.TrimSpace(c.Request().Header.Get(TenantHeader))
			if code == "" {
				log.Warn("Missing tenant code header")
				prometheus.TenantContextMissingCounter.Inc()
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing required header: " + TenantHeader})
			}

			// Check the tenant against the management database
			active, err := tenants.ExistsActive(c.Request().Context(), code)
			if err != nil {
				log.Error("Tenant lookup failed", zap.String("tenant", code), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant lookup failed"})
			}
			if !active {
				log.Warn("Rejected request for unknown or inactive tenant", zap.String("tenant", code))
				prometheus.TenantContextRejectedCounter.Inc()
				return c.JSON(http.StatusNotFound, echo.Map{"error": fmt.Sprintf("tenant [%s] not found or inactive", code)})
			}

			// Run the handler inside the tenant scope, restoring the original
			// request on the way out
			req := c.Request()
			err = tenants.RunScoped(req.Context(), code, func(ctx context.Context) error {
				defer c.SetRequest(req)
				c.SetRequest(req.WithContext(ctx))
				return next(c)
			})

			var vErr *multitenancy.ValidationError
			if errors.As(err, &vErr) {
				// The cache has not caught up with the database yet
				log.Warn("Tenant rejected by scope check", zap.String("tenant", code), zap.Error(err))
				prometheus.TenantContextRejectedCounter.Inc()
				return c.JSON(http.StatusNotFound, echo.Map{"error": fmt.Sprintf("tenant [%s] not found or inactive", code)})
			}
			return err
		}
	}
}
