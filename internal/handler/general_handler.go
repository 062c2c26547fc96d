package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/internal/service"
	"github.com/VictorHugoLeme/multitenancy/pkg/logger"
	"github.com/VictorHugoLeme/multitenancy/prometheus"
)

// GeneralHandler exposes cross-tenant aggregate endpoints. These run outside
// any single tenant scope and visit each tenant database in turn.
type GeneralHandler struct {
	products *service.ProductService
}

func NewGeneralHandler(products *service.ProductService) *GeneralHandler {
	return &GeneralHandler{products: products}
}

// CountProducts sums the product counts of every active tenant
func (h *GeneralHandler) CountProducts(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordProductOperation("count_all")

	defer prometheus.TrackDBOperation("select")(time.Now())

	total, err := h.products.CountAllTenants(c.Request().Context())
	if err != nil {
		log.Error("Failed to count products across tenants", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to count products"})
	}

	log.Info("Counted products across tenants", zap.Int64("total", total))
	return c.JSON(http.StatusOK, echo.Map{"count": total})
}
