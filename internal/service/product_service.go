package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/internal/model"
	"github.com/VictorHugoLeme/multitenancy/pkg/multitenancy"
)

// ProductService performs product operations against whichever database the
// ambient tenant context routes to. It never names a database itself; the
// manager resolves every handle from the context.
type ProductService struct {
	manager *multitenancy.Manager
	tenants *TenantService
	log     *zap.Logger
}

func NewProductService(manager *multitenancy.Manager, tenants *TenantService, log *zap.Logger) *ProductService {
	return &ProductService{manager: manager, tenants: tenants, log: log}
}

// Create stores a product in the current tenant's database.
func (p *ProductService) Create(ctx context.Context, product model.Product) (model.Product, error) {
	db, err := p.manager.DB(ctx)
	if err != nil {
		return model.Product{}, err
	}
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return model.Product{}, fmt.Errorf("creating product: %w", err)
	}
	return product, nil
}

// List returns the current tenant's products.
func (p *ProductService) List(ctx context.Context) ([]model.Product, error) {
	db, err := p.manager.DB(ctx)
	if err != nil {
		return nil, err
	}
	var products []model.Product
	if err := db.WithContext(ctx).Order("id").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

// CountAllTenants sums the product counts of every active tenant, visiting
// each tenant database inside its own scope.
func (p *ProductService) CountAllTenants(ctx context.Context) (int64, error) {
	var total int64
	err := p.tenants.IterateTenants(ctx, func(scoped context.Context, tenant model.Tenant) error {
		db, err := p.manager.DB(scoped)
		if err != nil {
			return err
		}
		var count int64
		if err := db.WithContext(scoped).Model(&model.Product{}).Count(&count).Error; err != nil {
			return fmt.Errorf("counting products for tenant [%s]: %w", tenant.Code, err)
		}
		p.log.Debug("Counted products",
			zap.String("tenant", tenant.Code),
			zap.Int64("count", count))
		total += count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
