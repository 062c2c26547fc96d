package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	gormlogger "gorm.io/gorm/logger"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Multitenancy MultitenancyConfig
	Log          LogConfig
	Metrics      MetricsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds the connection settings shared by the management
// database and every tenant database. Individual databases differ only by name.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	SSLMode  string
	// Params holds extra DSN keyword settings appended verbatim,
	// e.g. "TimeZone=UTC statement_timeout=30000".
	Params   string
	LogLevel string
}

// MultitenancyConfig holds the tenant provisioning and routing options
type MultitenancyConfig struct {
	// ManagementDBName is the database holding the tenant registry itself.
	ManagementDBName string
	// TenantDBPrefix is prepended to the lower-cased tenant code to derive
	// the per-tenant database name.
	TenantDBPrefix string
	// AppMigrationLocation is an optional directory of application migration
	// scripts applied to every tenant database before the commons scope.
	AppMigrationLocation string
	// AppMigrationTable is the schema history table used by the app scope.
	AppMigrationTable string
	// ParallelProvision enables fan-out provisioning during reconciliation.
	ParallelProvision bool
	// ProvisionWorkers bounds the number of concurrent provisioning tasks.
	ProvisionWorkers int
	// RevalidateInterval is the period of the scheduled registry revalidation.
	RevalidateInterval time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	Prefix string
}

// Load loads the application configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			Params:   getEnv("DB_PARAMS", ""),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		Multitenancy: MultitenancyConfig{
			ManagementDBName:     getEnv("MULTITENANCY_MANAGEMENT_DB", "db_tenants"),
			TenantDBPrefix:       getEnv("MULTITENANCY_DB_PREFIX", "db_"),
			AppMigrationLocation: getEnv("MULTITENANCY_APP_MIGRATION_LOCATION", ""),
			AppMigrationTable:    getEnv("MULTITENANCY_APP_MIGRATION_TABLE", "schema_history_app"),
			ParallelProvision:    getEnvAsBool("MULTITENANCY_PARALLEL_PROVISION", true),
			ProvisionWorkers:     getEnvAsInt("MULTITENANCY_PROVISION_WORKERS", 4),
			RevalidateInterval:   getEnvAsDuration("MULTITENANCY_REVALIDATE_INTERVAL", 1*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "multitenancy"),
		},
	}, nil
}

// DSN returns the PostgreSQL connection string for the named database.
func (c *DatabaseConfig) DSN(dbName string) string {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, dbName, c.SSLMode)
	if params := strings.TrimSpace(c.Params); params != "" {
		dsn += " " + params
	}
	return dsn
}

// GormLogLevel maps the configured database log level onto GORM's logger levels.
func (c *DatabaseConfig) GormLogLevel() gormlogger.LogLevel {
	switch c.LogLevel {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
