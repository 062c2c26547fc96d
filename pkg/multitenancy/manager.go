package multitenancy

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/VictorHugoLeme/multitenancy/pkg/config"
)

// codePattern is the shape a tenant code must have before it is embedded into
// a database name. CREATE DATABASE cannot take the name as a bind parameter,
// so nothing outside this alphabet ever reaches the statement.
var codePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{0,7}$`)

// ValidateCode rejects tenant codes that cannot safely derive a database
// name. Callers writing tenant records check this up front; the provisioner
// checks it again before building any DDL.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return &ValidationError{
			Code:   code,
			Reason: "code must be 1 to 8 alphanumeric characters and start with a letter",
		}
	}
	return nil
}

// Manager owns the live registry of tenant connection pools, routes
// context-bound work to the right database and reconciles the registry
// against a desired tenant set. All methods are safe for concurrent use.
type Manager struct {
	cfg    *config.Config
	log    *zap.Logger
	runner *Runner
	mgmt   *Pool

	management Scope
	commons    Scope
	app        *Scope

	mu    sync.RWMutex
	pools map[string]*Pool

	// provisions collapses concurrent provisioning attempts for the same
	// tenant code into a single execution.
	provisions singleflight.Group

	// reconcileMu serializes whole reconciliation runs so two overlapping
	// runs cannot interleave their close and provision phases.
	reconcileMu sync.Mutex

	openPool func(dbName string) (*Pool, error)
}

// NewManager connects to the management database and returns a manager with
// an empty tenant registry. The management schema is not migrated here; call
// MigrateManagement before serving traffic.
func NewManager(cfg *config.Config, log *zap.Logger) (*Manager, error) {
	mgmt, err := OpenPool(&cfg.Database, cfg.Multitenancy.ManagementDBName)
	if err != nil {
		return nil, fmt.Errorf("opening management pool: %w", err)
	}

	m := newManager(cfg, log, mgmt)
	m.openPool = func(dbName string) (*Pool, error) {
		return OpenPool(&cfg.Database, dbName)
	}
	return m, nil
}

// NewFakeManager builds a manager around pre-opened pools. Used for tests.
func NewFakeManager(cfg *config.Config, log *zap.Logger, mgmt *Pool, tenants map[string]*Pool) *Manager {
	m := newManager(cfg, log, mgmt)
	for code, pool := range tenants {
		m.pools[code] = pool
	}
	return m
}

func newManager(cfg *config.Config, log *zap.Logger, mgmt *Pool) *Manager {
	m := &Manager{
		cfg:        cfg,
		log:        log,
		runner:     NewRunner(log),
		mgmt:       mgmt,
		management: ManagementScope(),
		commons:    CommonsScope(),
		pools:      make(map[string]*Pool),
		openPool: func(string) (*Pool, error) {
			return nil, errors.New("no pool opener configured")
		},
	}
	if loc := cfg.Multitenancy.AppMigrationLocation; loc != "" {
		app := AppScope(loc, cfg.Multitenancy.AppMigrationTable)
		m.app = &app
	}
	return m
}

// ManagementDB returns the handle of the shared management database.
func (m *Manager) ManagementDB() *gorm.DB {
	return m.mgmt.DB()
}

// ManagementPool returns the management pool itself, for health probes.
func (m *Manager) ManagementPool() *Pool {
	return m.mgmt
}

// MigrateManagement brings the management database schema up to date.
func (m *Manager) MigrateManagement(ctx context.Context) error {
	if err := m.runner.Apply(ctx, m.mgmt.DB(), m.management); err != nil {
		return &MigrationError{Table: m.management.Table, Err: err}
	}
	return nil
}

// DB resolves the database handle for the tenant bound to ctx. Contexts with
// no tenant fall through to the management database; contexts bound to a code
// with no live pool get a RoutingError, never another tenant's handle.
func (m *Manager) DB(ctx context.Context) (*gorm.DB, error) {
	code, ok := TenantFrom(ctx)
	if !ok {
		return m.mgmt.DB(), nil
	}

	m.mu.RLock()
	pool, ok := m.pools[code]
	m.mu.RUnlock()
	if !ok {
		return nil, &RoutingError{Code: code}
	}
	return pool.DB(), nil
}

// HasTenant reports whether a live pool is registered for code.
func (m *Manager) HasTenant(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pools[code]
	return ok
}

// PoolCount returns the number of live tenant pools.
func (m *Manager) PoolCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// AddTenant provisions the database and connection pool for the tenant code.
// Calling it for an already-provisioned tenant is a no-op; concurrent calls
// for the same code share a single provisioning run.
func (m *Manager) AddTenant(ctx context.Context, code string) error {
	_, err, _ := m.provisions.Do(code, func() (interface{}, error) {
		return nil, m.provision(ctx, code)
	})
	return err
}

// RemoveTenant closes and discards the pool registered for the code, if any.
// In-flight queries on the old pool finish or fail on their own; new routing
// attempts for the code fail immediately.
func (m *Manager) RemoveTenant(code string) {
	m.removePool(code)
}

// Reconcile replaces the live pool set with the desired one. Stale pools are
// closed before anything new is provisioned, then missing tenants are
// provisioned in parallel when configured. A tenant that fails to provision
// is logged and skipped; the returned slice holds the codes whose pool is
// live when the run finishes.
func (m *Manager) Reconcile(ctx context.Context, desired []string) []string {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	want := make(map[string]struct{}, len(desired))
	for _, code := range desired {
		want[code] = struct{}{}
	}

	m.mu.RLock()
	var stale []string
	for code := range m.pools {
		if _, keep := want[code]; !keep {
			stale = append(stale, code)
		}
	}
	m.mu.RUnlock()
	for _, code := range stale {
		m.removePool(code)
	}

	if m.cfg.Multitenancy.ParallelProvision && len(desired) > 1 {
		return m.provisionAll(ctx, desired)
	}

	provisioned := make([]string, 0, len(desired))
	for _, code := range desired {
		if err := m.AddTenant(ctx, code); err != nil {
			m.log.Error("Provisioning tenant failed",
				zap.String("tenant", code),
				zap.Error(err))
			continue
		}
		provisioned = append(provisioned, code)
	}
	return provisioned
}

// provisionAll fans provisioning out over a bounded worker group. Workers
// never return an error; a failed tenant is logged and left out of the result
// so its siblings keep going.
func (m *Manager) provisionAll(ctx context.Context, desired []string) []string {
	workers := m.cfg.Multitenancy.ProvisionWorkers
	if workers < 1 {
		workers = 1
	}

	var (
		g           errgroup.Group
		resultMu    sync.Mutex
		provisioned = make([]string, 0, len(desired))
	)
	g.SetLimit(workers)

	for _, code := range desired {
		g.Go(func() error {
			if err := m.AddTenant(ctx, code); err != nil {
				m.log.Error("Provisioning tenant failed",
					zap.String("tenant", code),
					zap.Error(err))
				return nil
			}
			resultMu.Lock()
			provisioned = append(provisioned, code)
			resultMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return provisioned
}

// provision runs the full sequence for one tenant: derive the database name,
// create the database if needed, open a pool, migrate it and register it.
func (m *Manager) provision(ctx context.Context, code string) error {
	if m.HasTenant(code) {
		m.log.Debug("Pool already registered for tenant, reusing", zap.String("tenant", code))
		return nil
	}

	dbName, err := m.tenantDBName(code)
	if err != nil {
		return err
	}

	if err := m.ensureDatabase(ctx, dbName); err != nil {
		return &ProvisioningError{Code: code, Err: err}
	}

	pool, err := m.openPool(dbName)
	if err != nil {
		return &ProvisioningError{Code: code, Err: err}
	}

	if m.app != nil {
		if err := m.runner.Apply(ctx, pool.DB(), *m.app); err != nil {
			pool.Close()
			return &MigrationError{Code: code, Table: m.app.Table, Err: err}
		}
	}
	if err := m.runner.Apply(ctx, pool.DB(), m.commons); err != nil {
		pool.Close()
		return &MigrationError{Code: code, Table: m.commons.Table, Err: err}
	}

	m.mu.Lock()
	if _, exists := m.pools[code]; exists {
		m.mu.Unlock()
		pool.Close()
		return nil
	}
	m.pools[code] = pool
	m.mu.Unlock()

	if err := pool.Validate(ctx); err != nil {
		m.removePool(code)
		return &ProvisioningError{Code: code, Err: err}
	}

	m.log.Info("Tenant pool provisioned",
		zap.String("tenant", code),
		zap.String("database", dbName))
	return nil
}

// ensureDatabase creates the physical database when it does not exist yet.
// dbName has already been derived from a validated code, so interpolating it
// into the DDL is safe.
func (m *Manager) ensureDatabase(ctx context.Context, dbName string) error {
	var exists bool
	err := m.mgmt.DB().WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = ?)", dbName).
		Scan(&exists).Error
	if err != nil {
		return fmt.Errorf("checking for database %s: %w", dbName, err)
	}
	if exists {
		return nil
	}

	m.log.Info("Creating tenant database", zap.String("database", dbName))
	if err := m.mgmt.DB().WithContext(ctx).Exec("CREATE DATABASE " + dbName).Error; err != nil {
		return fmt.Errorf("creating database %s: %w", dbName, err)
	}
	return nil
}

// tenantDBName derives the deterministic database name for a tenant code.
func (m *Manager) tenantDBName(code string) (string, error) {
	if err := ValidateCode(code); err != nil {
		return "", err
	}
	return m.cfg.Multitenancy.TenantDBPrefix + strings.ToLower(code), nil
}

func (m *Manager) removePool(code string) {
	m.mu.Lock()
	pool, ok := m.pools[code]
	delete(m.pools, code)
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := pool.Close(); err != nil {
		m.log.Warn("Closing tenant pool",
			zap.String("tenant", code),
			zap.Error(err))
		return
	}
	m.log.Info("Removed pool for tenant", zap.String("tenant", code))
}

// Close releases every tenant pool and finally the management pool.
func (m *Manager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	for code, pool := range pools {
		if err := pool.Close(); err != nil {
			m.log.Warn("Closing tenant pool",
				zap.String("tenant", code),
				zap.Error(err))
		}
	}
	if err := m.mgmt.Close(); err != nil {
		m.log.Warn("Closing management pool", zap.Error(err))
	}
}
