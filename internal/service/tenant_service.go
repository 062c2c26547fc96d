package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/internal/model"
	"github.com/VictorHugoLeme/multitenancy/pkg/multitenancy"
)

// ErrTenantExists reports a creation attempt for a code that is already
// registered, compared case-insensitively.
var ErrTenantExists = errors.New("tenant code already exists")

// TenantService manages the source-of-truth tenant records in the management
// database and keeps the live pool registry reconciled against them. It also
// holds the active-tenant cache consulted before any tenant scope is entered.
type TenantService struct {
	manager *multitenancy.Manager
	log     *zap.Logger

	mu     sync.RWMutex
	active map[string]model.Tenant
}

func NewTenantService(manager *multitenancy.Manager, log *zap.Logger) *TenantService {
	return &TenantService{
		manager: manager,
		log:     log,
		active:  make(map[string]model.Tenant),
	}
}

// LoadTenants refreshes the active-tenant cache from the management database
// and reconciles the pool registry against it. A tenant that fails to
// provision is logged and skipped; the call itself only errors when the
// management database cannot be read.
func (s *TenantService) LoadTenants(ctx context.Context) error {
	var tenants []model.Tenant
	err := s.manager.ManagementDB().WithContext(ctx).
		Where("active = ?", true).
		Find(&tenants).Error
	if err != nil {
		return fmt.Errorf("loading active tenants: %w", err)
	}

	desired := make([]string, 0, len(tenants))
	active := make(map[string]model.Tenant, len(tenants))
	for _, tenant := range tenants {
		desired = append(desired, tenant.Code)
		active[tenant.Code] = tenant
	}

	s.mu.Lock()
	s.active = active
	s.mu.Unlock()

	if len(desired) == 0 {
		s.log.Warn("No active tenants found, registry is empty")
		s.manager.Reconcile(ctx, nil)
		return nil
	}

	provisioned := s.manager.Reconcile(ctx, desired)
	sort.Strings(provisioned)
	s.log.Info("Tenant pools loaded",
		zap.Int("active", len(desired)),
		zap.Strings("provisioned", provisioned))
	return nil
}

// Revalidate re-runs the load and reconcile cycle on demand.
func (s *TenantService) Revalidate(ctx context.Context) error {
	s.log.Info("Revalidating tenant pools")
	return s.LoadTenants(ctx)
}

// StartRevalidation revalidates on the given interval until ctx is cancelled.
// It blocks, so callers run it on its own goroutine.
func (s *TenantService) StartRevalidation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Revalidate(ctx); err != nil {
				s.log.Error("Scheduled revalidation failed", zap.Error(err))
			}
		}
	}
}

// Create registers a new tenant and provisions its database and pool. The
// record is written first, so a provisioning failure leaves the tenant
// registered but without a live pool; the next reconciliation retries it.
func (s *TenantService) Create(ctx context.Context, code, name string) (model.Tenant, error) {
	if err := multitenancy.ValidateCode(code); err != nil {
		return model.Tenant{}, err
	}

	db := s.manager.ManagementDB().WithContext(ctx)

	var count int64
	err := db.Model(&model.Tenant{}).
		Where("lower(code) = ?", strings.ToLower(code)).
		Count(&count).Error
	if err != nil {
		return model.Tenant{}, fmt.Errorf("checking for existing tenant: %w", err)
	}
	if count > 0 {
		return model.Tenant{}, fmt.Errorf("tenant [%s]: %w", code, ErrTenantExists)
	}

	tenant := model.Tenant{Code: code, Name: name, Active: true}
	if err := db.Create(&tenant).Error; err != nil {
		return model.Tenant{}, fmt.Errorf("creating tenant [%s]: %w", code, err)
	}
	s.log.Info("Tenant registered",
		zap.String("tenant", tenant.Code),
		zap.String("name", tenant.Name))

	if err := s.manager.AddTenant(ctx, tenant.Code); err != nil {
		return model.Tenant{}, err
	}

	s.cachePut(tenant)
	return tenant, nil
}

// List returns every tenant record, active or not.
func (s *TenantService) List(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	err := s.manager.ManagementDB().WithContext(ctx).
		Order("code").
		Find(&tenants).Error
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	return tenants, nil
}

// Enable marks the tenant active and provisions its pool.
func (s *TenantService) Enable(ctx context.Context, code string) error {
	tenant, err := s.setActive(ctx, code, true)
	if err != nil {
		return err
	}
	if err := s.manager.AddTenant(ctx, tenant.Code); err != nil {
		return err
	}
	s.cachePut(tenant)
	s.log.Info("Tenant enabled", zap.String("tenant", tenant.Code))
	return nil
}

// Disable marks the tenant inactive and closes its pool.
func (s *TenantService) Disable(ctx context.Context, code string) error {
	tenant, err := s.setActive(ctx, code, false)
	if err != nil {
		return err
	}
	s.manager.RemoveTenant(tenant.Code)
	s.cacheRemove(tenant.Code)
	s.log.Info("Tenant disabled", zap.String("tenant", tenant.Code))
	return nil
}

func (s *TenantService) setActive(ctx context.Context, code string, active bool) (model.Tenant, error) {
	db := s.manager.ManagementDB().WithContext(ctx)

	res := db.Model(&model.Tenant{}).
		Where("code = ?", code).
		Update("active", active)
	if res.Error != nil {
		return model.Tenant{}, fmt.Errorf("updating tenant [%s]: %w", code, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Tenant{}, &multitenancy.NotFoundError{Code: code}
	}

	var tenant model.Tenant
	if err := db.Where("code = ?", code).First(&tenant).Error; err != nil {
		return model.Tenant{}, fmt.Errorf("fetching tenant [%s]: %w", code, err)
	}
	return tenant, nil
}

// ExistsActive reports whether an active tenant with the given code exists in
// the management database. The request boundary uses this, not the cache, so
// a tenant disabled behind the service's back is rejected immediately.
func (s *TenantService) ExistsActive(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.manager.ManagementDB().WithContext(ctx).
		Model(&model.Tenant{}).
		Where("code = ? AND active = ?", code, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking tenant [%s]: %w", code, err)
	}
	return count > 0, nil
}

// RunScoped executes fn with the ambient tenant bound to code. Codes missing
// from the active-tenant cache are rejected before fn runs.
func (s *TenantService) RunScoped(ctx context.Context, code string, fn func(context.Context) error) error {
	s.mu.RLock()
	_, ok := s.active[code]
	s.mu.RUnlock()
	if !ok {
		return &multitenancy.ValidationError{Code: code, Reason: "tenant is not active"}
	}
	return multitenancy.RunScoped(ctx, code, fn)
}

// IterateTenants runs fn once per active tenant, each call inside that
// tenant's own scope. The first error stops the iteration.
func (s *TenantService) IterateTenants(ctx context.Context, fn func(context.Context, model.Tenant) error) error {
	var tenants []model.Tenant
	err := s.manager.ManagementDB().WithContext(ctx).
		Where("active = ?", true).
		Order("code").
		Find(&tenants).Error
	if err != nil {
		return fmt.Errorf("loading active tenants: %w", err)
	}

	for _, tenant := range tenants {
		s.mu.RLock()
		_, ok := s.active[tenant.Code]
		s.mu.RUnlock()
		if !ok {
			s.log.Warn("Tenant missing from active cache, skipping",
				zap.String("tenant", tenant.Code))
			continue
		}
		err := multitenancy.RunScoped(ctx, tenant.Code, func(scoped context.Context) error {
			return fn(scoped, tenant)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *TenantService) cachePut(tenant model.Tenant) {
	s.mu.Lock()
	s.active[tenant.Code] = tenant
	s.mu.Unlock()
}

func (s *TenantService) cacheRemove(code string) {
	s.mu.Lock()
	delete(s.active, code)
	s.mu.Unlock()
}
