package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/internal/model"
	"github.com/VictorHugoLeme/multitenancy/internal/service"
	"github.com/VictorHugoLeme/multitenancy/pkg/logger"
	"github.com/VictorHugoLeme/multitenancy/prometheus"
)

// ProductRequest defines the structure for product creation requests
type ProductRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

// ProductHandler exposes product operations for the current tenant.
type ProductHandler struct {
	products *service.ProductService
}

func NewProductHandler(products *service.ProductService) *ProductHandler {
	return &ProductHandler{products: products}
}

// Create stores a new product in the current tenant's database
func (h *ProductHandler) Create(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordProductOperation("create")

	var req ProductRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Name == "" {
		log.Warn("Incomplete product data")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	product, err := h.products.Create(c.Request().Context(), model.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		log.Error("Failed to create product",
			zap.String("name", req.Name),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create product"})
	}

	log.Info("Product created",
		zap.Uint("id", product.ID),
		zap.String("name", product.Name))
	return c.JSON(http.StatusCreated, product)
}

// List returns the current tenant's products
func (h *ProductHandler) List(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordProductOperation("list")

	defer prometheus.TrackDBOperation("select")(time.Now())

	products, err := h.products.List(c.Request().Context())
	if err != nil {
		log.Error("Failed to list products", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve products"})
	}

	log.Info("Products retrieved", zap.Int("count", len(products)))
	return c.JSON(http.StatusOK, products)
}
