package multitenancy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/VictorHugoLeme/multitenancy/migrations"
)

// History tables used by the built-in scopes. Each scope tracks its own
// versions independently, so the same database can carry several scopes
// without their histories interfering.
const (
	managementHistoryTable = "schema_history_management"
	commonsHistoryTable    = "schema_history_commons"
)

// Scope is one named set of versioned migration scripts plus the history
// table recording which of them a database has already applied.
type Scope struct {
	Source fs.FS
	Table  string
}

// ManagementScope migrates the shared management database.
func ManagementScope() Scope {
	return Scope{Source: migrations.Management(), Table: managementHistoryTable}
}

// CommonsScope migrates the schema every tenant database must carry.
func CommonsScope() Scope {
	return Scope{Source: migrations.Commons(), Table: commonsHistoryTable}
}

// AppScope migrates deployment-specific scripts loaded from a directory on
// disk. It is optional; deployments without extra scripts never build one.
func AppScope(location, table string) Scope {
	return Scope{Source: os.DirFS(location), Table: table}
}

// script is a single parsed migration file. Versions start at 1; version 0 is
// reserved for the baseline row.
type script struct {
	version     int64
	description string
	filename    string
}

// Runner applies migration scopes to target databases. A zero history table
// is baselined at version 0, scripts above the current version are applied in
// ascending order, and a failed run gets exactly one repair-and-retry pass
// before the error is surfaced.
type Runner struct {
	log *zap.Logger
}

func NewRunner(log *zap.Logger) *Runner {
	return &Runner{log: log}
}

// Apply brings db up to date for the given scope.
func (r *Runner) Apply(ctx context.Context, db *gorm.DB, scope Scope) error {
	scripts, err := loadScripts(scope.Source)
	if err != nil {
		return fmt.Errorf("reading migration scripts for %s: %w", scope.Table, err)
	}

	if err := r.apply(ctx, db, scope, scripts); err != nil {
		r.log.Warn("Migration failed, repairing history and retrying once",
			zap.String("table", scope.Table),
			zap.Error(err))
		if repairErr := r.repair(ctx, db, scope); repairErr != nil {
			return fmt.Errorf("repairing %s: %w", scope.Table, repairErr)
		}
		return r.apply(ctx, db, scope, scripts)
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, db *gorm.DB, scope Scope, scripts []script) error {
	if err := r.ensureHistory(ctx, db, scope.Table); err != nil {
		return err
	}

	current, err := r.currentVersion(ctx, db, scope.Table)
	if err != nil {
		return err
	}

	applied := 0
	for _, s := range scripts {
		if s.version <= current {
			continue
		}
		if err := r.applyScript(ctx, db, scope, s); err != nil {
			return err
		}
		applied++
	}

	if applied > 0 {
		r.log.Info("Applied migrations",
			zap.String("table", scope.Table),
			zap.Int("count", applied),
			zap.Int64("version", scripts[len(scripts)-1].version))
	}
	return nil
}

// ensureHistory creates the history table and its baseline row when the table
// does not exist yet. Databases created outside the migration flow start at
// version 0 and receive every script.
func (r *Runner) ensureHistory(ctx context.Context, db *gorm.DB, table string) error {
	var exists bool
	err := db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?)", table).
		Scan(&exists).Error
	if err != nil {
		return fmt.Errorf("checking history table %s: %w", table, err)
	}
	if exists {
		return nil
	}

	r.log.Info("Creating migration history table", zap.String("table", table))
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version BIGINT PRIMARY KEY,
		description VARCHAR(255) NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		success BOOLEAN NOT NULL
	)`, table)
	if err := db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("creating history table %s: %w", table, err)
	}

	baseline := fmt.Sprintf("INSERT INTO %s (version, description, success) VALUES (0, 'baseline', TRUE)", table)
	if err := db.WithContext(ctx).Exec(baseline).Error; err != nil {
		return fmt.Errorf("baselining history table %s: %w", table, err)
	}
	return nil
}

func (r *Runner) currentVersion(ctx context.Context, db *gorm.DB, table string) (int64, error) {
	var current int64
	err := db.WithContext(ctx).
		Raw(fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s WHERE success", table)).
		Scan(&current).Error
	if err != nil {
		return 0, fmt.Errorf("reading current version from %s: %w", table, err)
	}
	return current, nil
}

// applyScript runs one script and its history row in a single transaction.
// On failure the transaction rolls back and a success=false row is recorded
// outside it, so a later repair pass can see what went wrong.
func (r *Runner) applyScript(ctx context.Context, db *gorm.DB, scope Scope, s script) error {
	body, err := fs.ReadFile(scope.Source, s.filename)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.filename, err)
	}

	r.log.Debug("Applying migration",
		zap.String("table", scope.Table),
		zap.Int64("version", s.version),
		zap.String("description", s.description))

	insert := fmt.Sprintf("INSERT INTO %s (version, description, success) VALUES (?, ?, ?)", scope.Table)
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(body)).Error; err != nil {
			return err
		}
		return tx.Exec(insert, s.version, s.description, true).Error
	})
	if err != nil {
		// Best effort: record the failure for the repair pass.
		db.WithContext(ctx).Exec(insert, s.version, s.description, false)
		return fmt.Errorf("applying %s to %s: %w", s.filename, scope.Table, err)
	}
	return nil
}

// repair drops failed attempts from the history table so the scripts they
// belong to become pending again.
func (r *Runner) repair(ctx context.Context, db *gorm.DB, scope Scope) error {
	res := db.WithContext(ctx).Exec(fmt.Sprintf("DELETE FROM %s WHERE success = FALSE", scope.Table))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("Repaired migration history",
			zap.String("table", scope.Table),
			zap.Int64("removed", res.RowsAffected))
	}
	return nil
}

// loadScripts reads every *.sql file in source and orders them by version.
// Filenames follow NNNN_description.sql; anything else is rejected so a typo
// cannot silently drop a script from the sequence.
func loadScripts(source fs.FS) ([]script, error) {
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]string)
	scripts := make([]script, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		s, err := parseScriptName(name)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[s.version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", s.version, prev, name)
		}
		seen[s.version] = name
		scripts = append(scripts, s)
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

func parseScriptName(name string) (script, error) {
	base := strings.TrimSuffix(name, ".sql")
	prefix, rest, found := strings.Cut(base, "_")
	if !found || rest == "" {
		return script{}, fmt.Errorf("migration filename %q must look like 0001_description.sql", name)
	}
	version, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return script{}, fmt.Errorf("migration filename %q has no numeric version: %w", name, err)
	}
	if version < 1 {
		return script{}, fmt.Errorf("migration version in %q must be 1 or higher", name)
	}
	return script{
		version:     version,
		description: strings.ReplaceAll(rest, "_", " "),
		filename:    name,
	}, nil
}
