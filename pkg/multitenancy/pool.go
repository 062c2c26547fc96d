package multitenancy

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/VictorHugoLeme/multitenancy/pkg/config"
)

// Connection pool sizing shared by the management pool and every tenant pool.
const (
	poolMaxIdleConns    = 2
	poolMaxOpenConns    = 20
	poolConnMaxLifetime = 30 * time.Minute
	poolConnMaxIdleTime = 10 * time.Minute
	poolConnectTimeout  = 10 * time.Second

	probeQuery = "SELECT 1"
)

// Pool owns the gorm handle and the underlying connection pool for one
// physical database. Closing it releases every pooled connection; Close is
// safe to call more than once and from concurrent goroutines.
type Pool struct {
	name string
	db   *gorm.DB

	closeOnce sync.Once
	closeErr  error
}

// OpenPool connects to dbName using the shared server coordinates in dbCfg
// and returns a handle with the standard pool limits applied. The connection
// is attempted eagerly, so an unreachable server or missing database fails
// here rather than on first use.
func OpenPool(dbCfg *config.DatabaseConfig, dbName string) (*Pool, error) {
	dsn := fmt.Sprintf("%s connect_timeout=%d", dbCfg.DSN(dbName), int(poolConnectTimeout.Seconds()))

	pgConfig := postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // Disables implicit prepared statement usage
	}

	db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger: logger.Default.LogMode(dbCfg.GormLogLevel()),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database %s: %w", dbName, err)
	}

	pool := &Pool{name: dbName, db: db}
	if err := pool.applyLimits(); err != nil {
		return nil, err
	}
	return pool, nil
}

// NewPoolFromConn wraps an already-open connection, typically a mock or a
// connection opened by other means, without dialing anything. Pool limits are
// still applied so the handle behaves like one returned by OpenPool.
func NewPoolFromConn(conn *sql.DB, dbName string) (*Pool, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("wrapping connection for %s: %w", dbName, err)
	}

	pool := &Pool{name: dbName, db: db}
	if err := pool.applyLimits(); err != nil {
		return nil, err
	}
	return pool, nil
}

func (p *Pool) applyLimits() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("getting database object for %s: %w", p.name, err)
	}
	sqlDB.SetMaxIdleConns(poolMaxIdleConns)
	sqlDB.SetMaxOpenConns(poolMaxOpenConns)
	sqlDB.SetConnMaxLifetime(poolConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(poolConnMaxIdleTime)
	return nil
}

// Name returns the physical database name this pool is connected to.
func (p *Pool) Name() string {
	return p.name
}

// DB returns the gorm handle backed by this pool.
func (p *Pool) DB() *gorm.DB {
	return p.db
}

// Validate acquires one connection, runs a probe query and releases it,
// proving the pool can serve traffic end to end.
func (p *Pool) Validate(ctx context.Context) error {
	var one int
	if err := p.db.WithContext(ctx).Raw(probeQuery).Scan(&one).Error; err != nil {
		return fmt.Errorf("validating connection to %s: %w", p.name, err)
	}
	return nil
}

// Close releases every connection held by the pool. Subsequent calls return
// the result of the first one.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		sqlDB, err := p.db.DB()
		if err != nil {
			p.closeErr = fmt.Errorf("getting database object for %s: %w", p.name, err)
			return
		}
		p.closeErr = sqlDB.Close()
	})
	return p.closeErr
}
